// Package mediaurl turns the audio location reported by the provider into one
// canonical absolute URL.
//
// The provider reports audio in two shapes: a legacy path relative to a
// storage bucket origin, and a newer CDN path. While both are populated the
// CDN path is authoritative.
package mediaurl

import (
	"net/url"
	"strings"

	"github.com/book-expert/tts-proxy/internal/core"
)

const mediaSegment = "/media/"

// Normalizer resolves provider audio paths against the configured origins.
type Normalizer struct {
	cdnOrigin     string
	legacyOrigin  string
	legacyStorage string
}

// New creates a Normalizer. legacyOrigin may carry a bucket path
// (https://storage.example.com/bucket); its host identifies old-style URLs.
func New(cdnOrigin, legacyOrigin string) *Normalizer {
	legacyHost := ""

	parsed, err := url.Parse(legacyOrigin)
	if err == nil {
		legacyHost = strings.ToLower(parsed.Host)
	}

	return &Normalizer{
		cdnOrigin:     strings.TrimRight(cdnOrigin, "/"),
		legacyOrigin:  strings.TrimRight(legacyOrigin, "/"),
		legacyStorage: legacyHost,
	}
}

// Normalize returns the fetch URL for state and false when neither path is usable.
func (n *Normalizer) Normalize(state core.InferenceState) (string, bool) {
	cdnPath := strings.TrimSpace(state.CDNAudioPath)
	if cdnPath != "" {
		return resolve(n.cdnOrigin, cdnPath), true
	}

	legacyPath := strings.TrimSpace(state.LegacyAudioPath)
	if legacyPath == "" {
		return "", false
	}

	full := resolve(n.legacyOrigin, legacyPath)

	if n.isLegacyStorage(full) {
		idx := strings.Index(full, mediaSegment)
		if idx >= 0 {
			return n.cdnOrigin + full[idx:], true
		}
	}

	return full, true
}

func (n *Normalizer) isLegacyStorage(raw string) bool {
	if n.legacyStorage == "" {
		return false
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return strings.ToLower(parsed.Host) == n.legacyStorage
}

func resolve(origin, path string) string {
	if isAbsolute(path) {
		return path
	}

	return origin + "/" + strings.TrimLeft(path, "/")
}

func isAbsolute(path string) bool {
	lower := strings.ToLower(path)

	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}
