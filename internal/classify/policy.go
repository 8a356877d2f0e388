package classify

import (
	"errors"
	"fmt"

	"github.com/hyperifyio/gomoderate/internal/format"
	"github.com/hyperifyio/gomoderate/internal/normalize"
)

var (
	// ErrNetwork marks transport and HTTP status failures.
	ErrNetwork = errors.New("classification service unavailable")
	// ErrMalformedResponse marks payloads of an unexpected shape.
	ErrMalformedResponse = errors.New("malformed classification response")
)

// Error is a classification failure with its operation and HTTP status.
type Error struct {
	Op     string
	Kind   error // ErrNetwork or ErrMalformedResponse
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// Policy decides what unclassifiable content becomes. The zero value is
// fail-open: anything the service could not classify is Safe and stays
// visible. FailClosed flips that to Flagged.
type Policy struct {
	FailClosed bool
}

// FallbackLabel is the label given to content without a verdict.
func (p Policy) FallbackLabel() Label {
	if p.FailClosed {
		return Flagged
	}
	return Safe
}

// Fallback labels every item in b with the fallback label.
func (p Policy) Fallback(b format.Batch) []Result {
	out := make([]Result, 0, len(b))
	for i, it := range b {
		out = append(out, Result{
			Ref:          ItemRef{Index: i, Fingerprint: normalize.Fingerprint(it.Text)},
			Label:        p.FallbackLabel(),
			OriginalText: it.Text,
			URL:          it.URL,
		})
	}
	return out
}

// fallbackFor returns fallback results for err, or nil when err is a
// malformed response, which is surfaced without touching the document.
func (p Policy) fallbackFor(err error, b format.Batch) []Result {
	if errors.Is(err, ErrMalformedResponse) {
		return nil
	}
	return p.Fallback(b)
}
