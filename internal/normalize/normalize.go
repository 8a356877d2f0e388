// Package normalize cleans scraped text and derives comparison keys.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	// 3:45, 3:45pm, 15:04:05, 3 pm, 11 a.m.
	timeRe    = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:[ap]\.?m\.?)?|\b\d{1,2}\s*[ap]\.?m\.?(?:\W|$)`)
	urlRe     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	mentionRe = regexp.MustCompile(`@\w+`)
	hashtagRe = regexp.MustCompile(`#\w+`)
)

// Text removes time-of-day patterns, URLs, @mentions and #hashtags, then
// collapses whitespace and trims. The result may be empty.
func Text(s string) string {
	s = timeRe.ReplaceAllString(s, " ")
	s = urlRe.ReplaceAllString(s, " ")
	s = mentionRe.ReplaceAllString(s, " ")
	s = hashtagRe.ReplaceAllString(s, " ")
	return Space(s)
}

// Space collapses whitespace runs to a single space and trims.
func Space(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Key is the dedup key for s: NFC, whitespace-collapsed and, unless
// caseSensitive, case-folded.
func Key(s string, caseSensitive bool) string {
	k := norm.NFC.String(Space(s))
	if caseSensitive {
		return k
	}
	// Casers carry state; one per call.
	return cases.Fold().String(k)
}

// Fingerprint is a stable identity for s that ignores case and spacing.
func Fingerprint(s string) string {
	h := sha256.Sum256([]byte(Key(s, false)))
	return hex.EncodeToString(h[:])
}
