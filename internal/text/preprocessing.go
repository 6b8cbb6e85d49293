// Package text cleans inference text before it is submitted to the provider.
//
// The cleanup is deliberately light: the provider performs its own
// normalization, so only characters that confuse it or inflate the request
// (control characters, typographic quotes and dashes, runs of whitespace or
// repeated punctuation) are rewritten. Words are never changed.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	whitespaceRegexPattern = `\s+`
	maxEllipsisDots        = 3
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Preprocessor normalizes inference text.
type Preprocessor struct {
	whitespacePattern *regexp.Regexp
	typographyMapper  *strings.Replacer
}

// NewPreprocessor creates a new text preprocessor with compiled patterns and replacers.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		typographyMapper: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// PreprocessText returns the cleaned text. An input made only of whitespace
// and control characters comes back empty.
func (p *Preprocessor) PreprocessText(text string) string {
	if text == "" {
		return text
	}

	cleaned := p.removeControlCharacters(text)
	cleaned = p.typographyMapper.Replace(cleaned)
	cleaned = p.normalizeWhitespace(cleaned)

	return p.removeRepeatedPunctuation(cleaned)
}

func (p *Preprocessor) removeControlCharacters(text string) string {
	return strings.Map(func(char rune) rune {
		if unicode.IsControl(char) && !unicode.IsSpace(char) {
			return -1
		}

		return char
	}, text)
}

func (p *Preprocessor) normalizeWhitespace(text string) string {
	return strings.TrimSpace(p.whitespacePattern.ReplaceAllString(text, " "))
}

// removeRepeatedPunctuation collapses runs of one punctuation mark ("!!!")
// to a single mark. Dots keep up to an ellipsis. Mixed marks such as `?!` or
// `."` are left alone.
func (p *Preprocessor) removeRepeatedPunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
		run     int
	)

	builder.Grow(len(text))

	for _, char := range text {
		if unicode.IsPunct(char) && char == last {
			run++
		} else {
			run = 1
		}

		last = char

		limit := 1
		if char == '.' {
			limit = maxEllipsisDots
		}

		if unicode.IsPunct(char) && run > limit {
			continue
		}

		builder.WriteRune(char)
	}

	return builder.String()
}
