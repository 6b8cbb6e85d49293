package service

import (
	"fmt"
	"strings"
)

const (
	audioExtension         = ".wav"
	invalidCharReplacement = "_"
	kilobyte               = 1024
	megabyte               = kilobyte * 1024
)

// keyReplacer maps characters that are unsafe in object names and file
// names. Provider job tokens carry a colon ("JTINF:...").
var keyReplacer = strings.NewReplacer(
	"<", invalidCharReplacement,
	">", invalidCharReplacement,
	":", invalidCharReplacement,
	"\"", invalidCharReplacement,
	"/", invalidCharReplacement,
	"\\", invalidCharReplacement,
	"|", invalidCharReplacement,
	"?", invalidCharReplacement,
	"*", invalidCharReplacement,
	" ", invalidCharReplacement,
)

// AudioKey is the archive key and local file name for a job's audio.
func AudioKey(jobToken string) string {
	return keyReplacer.Replace(strings.TrimSpace(jobToken)) + audioExtension
}

// FormatSize renders a byte count for humans.
func FormatSize(size int) string {
	switch {
	case size >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(size)/megabyte)
	case size >= kilobyte:
		return fmt.Sprintf("%.1f KB", float64(size)/kilobyte)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
