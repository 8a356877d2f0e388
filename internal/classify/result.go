package classify

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/hyperifyio/gomoderate/internal/format"
	"github.com/hyperifyio/gomoderate/internal/normalize"
)

// Label is a moderation verdict.
type Label int

const (
	Safe Label = iota
	Moderate
	Flagged
)

func (l Label) String() string {
	switch l {
	case Safe:
		return "Safe"
	case Moderate:
		return "Moderate"
	case Flagged:
		return "Flagged"
	}
	return fmt.Sprintf("Label(%d)", int(l))
}

// MarshalText encodes the label by name.
func (l Label) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText accepts anything ParseLabel understands.
func (l *Label) UnmarshalText(b []byte) error {
	v, ok := ParseLabel(string(b))
	if !ok {
		return fmt.Errorf("unknown label %q", b)
	}
	*l = v
	return nil
}

// ParseLabel reads a verdict from free text such as a service's
// processed_result ("Hate Speech", "Flagged", "Moderate", "Safe"). Only
// whole words count, so "whatever" or "hateful" are not hate speech, and
// a verdict word preceded by a negation ("not flagged") reads as Safe.
func ParseLabel(s string) (Label, bool) {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	negated := false
	for i, w := range words {
		hit := w == "flagged" || w == "unsafe" ||
			(w == "hate" && i+1 < len(words) && words[i+1] == "speech")
		if !hit {
			continue
		}
		if i > 0 && isNegation(words[i-1]) {
			negated = true
			continue
		}
		return Flagged, true
	}
	if slices.Contains(words, "moderate") {
		return Moderate, true
	}
	if negated || slices.Contains(words, "safe") {
		return Safe, true
	}
	return Safe, false
}

func isNegation(w string) bool {
	switch w {
	case "not", "no", "non", "never":
		return true
	}
	return false
}

// ItemRef points a result at a batch item by index and text fingerprint.
type ItemRef struct {
	Index       int
	Fingerprint string
}

// Result is the verdict for one batch item.
type Result struct {
	Ref          ItemRef
	Label        Label
	OriginalText string
	URL          string
	Timestamp    string
	// Raw is the service's processed_result, if any.
	Raw string
	// Classified is false when Label came from the fallback policy.
	Classified bool
}

// Record is one result as served by /view-rag-results and /view-rag-result/{i}.
type Record struct {
	Index           *int   `json:"index,omitempty"`
	URL             string `json:"url"`
	Timestamp       string `json:"timestamp"`
	OriginalText    string `json:"original_text"`
	ProcessedResult string `json:"processed_result"`
	Label           string `json:"label,omitempty"`
}

func (w Record) label() (Label, bool) {
	if w.Label != "" {
		if l, ok := ParseLabel(w.Label); ok {
			return l, true
		}
	}
	return ParseLabel(w.ProcessedResult)
}

// Correlate assigns wire results to batch items by explicit index, then by
// text fingerprint, then by position. Items that receive no recognizable
// verdict get the policy's fallback label. It returns one result per item
// and the number of items left unclassified.
func Correlate(batch format.Batch, got []Record, policy Policy) ([]Result, int) {
	out := make([]Result, len(batch))
	assigned := make([]bool, len(batch))
	byPrint := make(map[string][]int, len(batch))
	for i, it := range batch {
		fp := normalize.Fingerprint(it.Text)
		byPrint[fp] = append(byPrint[fp], i)
		out[i] = Result{Ref: ItemRef{Index: i, Fingerprint: fp}, OriginalText: it.Text, URL: it.URL}
	}
	place := func(i int, w Record) bool {
		if i < 0 || i >= len(batch) || assigned[i] {
			return false
		}
		label, ok := w.label()
		if !ok {
			return false
		}
		assigned[i] = true
		r := &out[i]
		r.Label = label
		r.Raw = w.ProcessedResult
		r.Timestamp = w.Timestamp
		r.Classified = true
		if w.OriginalText != "" {
			r.OriginalText = w.OriginalText
		}
		if w.URL != "" {
			r.URL = w.URL
		}
		return true
	}
	for pos, w := range got {
		if w.Index != nil && place(*w.Index, w) {
			continue
		}
		if w.OriginalText != "" {
			placed := false
			for _, i := range byPrint[normalize.Fingerprint(w.OriginalText)] {
				if place(i, w) {
					placed = true
					break
				}
			}
			if placed {
				continue
			}
		}
		place(pos, w)
	}
	missing := 0
	for i := range out {
		if !assigned[i] {
			missing++
			out[i].Label = policy.FallbackLabel()
		}
	}
	return out, missing
}

// FlaggedOnly returns the results labelled Flagged.
func FlaggedOnly(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Label == Flagged {
			out = append(out, r)
		}
	}
	return out
}
