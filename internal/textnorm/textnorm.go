// Package textnorm provides text normalisation shared by every extraction
// channel. Offsets into the normalised body are the canonical coordinate
// system for downstream detection and sanitisation.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	base64Re  = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)
	hexRe     = regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){3,}`)
	unicodeRe = regexp.MustCompile(`(?:\\u[0-9a-fA-F]{4}){2,}`)
	urlEncRe  = regexp.MustCompile(`(?:%[0-9a-fA-F]{2}){3,}`)

	urlRe = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)
)

// Normalize applies Unicode NFKC, collapses whitespace runs to a single
// space and trims. Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// EncodingFlags reports which obfuscation encodings appear in the text.
type EncodingFlags struct {
	HasBase64         bool `json:"has_base64"`
	HasHex            bool `json:"has_hex"`
	HasUnicodeEscapes bool `json:"has_unicode_escapes"`
	HasURLEncoding    bool `json:"has_url_encoding"`
}

// DetectEncodingPatterns scans for representative runs of encoded content.
func DetectEncodingPatterns(text string) EncodingFlags {
	return EncodingFlags{
		HasBase64:         base64Re.MatchString(text),
		HasHex:            hexRe.MatchString(text),
		HasUnicodeEscapes: unicodeRe.MatchString(text),
		HasURLEncoding:    urlEncRe.MatchString(text),
	}
}

// ExtractURLs returns all http/https URLs found in the text.
func ExtractURLs(text string) []string {
	return urlRe.FindAllString(text, -1)
}

// TruncateForDisplay shortens text to maxLen with a trailing ellipsis.
func TruncateForDisplay(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen-3] + "..."
}
