// Package dedup filters, de-duplicates and caps extracted candidates.
package dedup

import (
	"unicode/utf8"

	"github.com/hyperifyio/gomoderate/internal/extract"
	"github.com/hyperifyio/gomoderate/internal/normalize"
)

const (
	// DefaultMaxItems bounds how much text one scrape sends for classification.
	DefaultMaxItems = 50
	// StandardMinChars matches long-form pages.
	StandardMinChars = 50
	// CompactMinChars suits short-form threads where replies are brief.
	CompactMinChars = 30
)

// Mode selects a minimum-length preset.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeCompact  Mode = "compact"
)

// MinCharsFor returns the length threshold for mode; unknown modes are standard.
func MinCharsFor(mode Mode) int {
	if mode == ModeCompact {
		return CompactMinChars
	}
	return StandardMinChars
}

// Options configures filtering.
type Options struct {
	// MinChars keeps texts with strictly more runes than this. Zero means
	// StandardMinChars; negative disables the filter.
	MinChars int
	// MaxItems caps the output. Zero or negative means DefaultMaxItems.
	MaxItems int
	// CaseSensitive keeps texts that differ only by case. By default keys
	// are case-folded, NFC-normalized and whitespace-collapsed, and the
	// first-seen text wins.
	CaseSensitive bool
}

// Apply returns candidates that pass the length threshold, unique by key,
// in first-seen order, truncated to MaxItems. Apply(Apply(x)) == Apply(x).
func Apply(in []extract.RawCandidate, opt Options) []extract.RawCandidate {
	if opt.MinChars == 0 {
		opt.MinChars = StandardMinChars
	}
	if opt.MaxItems <= 0 {
		opt.MaxItems = DefaultMaxItems
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]extract.RawCandidate, 0, min(len(in), opt.MaxItems))
	for _, c := range in {
		if len(out) >= opt.MaxItems {
			break
		}
		if opt.MinChars > 0 && utf8.RuneCountInString(c.Text) <= opt.MinChars {
			continue
		}
		key := normalize.Key(c.Text, opt.CaseSensitive)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Strings is Apply over plain texts.
func Strings(in []string, opt Options) []string {
	cands := make([]extract.RawCandidate, 0, len(in))
	for _, s := range in {
		cands = append(cands, extract.RawCandidate{Text: s})
	}
	kept := Apply(cands, opt)
	out := make([]string, 0, len(kept))
	for _, c := range kept {
		out = append(out, c.Text)
	}
	return out
}
