package classify

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/gomoderate/internal/format"
)

// Kind names a notification delivered to the control surface.
type Kind string

const (
	ProcessingComplete Kind = "processingComplete"
	ProcessingError    Kind = "processingError"
	ResultsReady       Kind = "resultsReady"
	ResultsError       Kind = "resultsError"
)

// Notification reports progress of one classification run. Error
// notifications carry fallback results when the policy supplies them;
// malformed responses carry none.
type Notification struct {
	Kind       Kind
	BatchID    string
	Acceptance *Acceptance
	Results    []Result
	// Missing counts items that ended up with a fallback label.
	Missing int
	Err     error
}

// Starter runs a classification in the background. The returned channel
// yields at most two notifications and is then closed. Callers may stop
// reading at any time; the run still completes.
type Starter interface {
	Start(ctx context.Context, batch format.Batch) <-chan Notification
}

// Start submits batch and waits for results without blocking the caller.
func (c *Client) Start(ctx context.Context, batch format.Batch) <-chan Notification {
	ch := make(chan Notification, 2)
	go func() {
		defer close(ch)
		acc, err := c.Submit(ctx, batch)
		if err != nil {
			log.Warn().Err(err).Msg("classification submit failed")
			ch <- Notification{Kind: ProcessingError, Err: err, Results: c.Policy.fallbackFor(err, batch), Missing: len(batch)}
			return
		}
		ch <- Notification{Kind: ProcessingComplete, BatchID: acc.BatchID, Acceptance: &acc}

		results, missing, err := c.await(ctx, acc, batch)
		if err != nil {
			log.Warn().Err(err).Str("batch", acc.BatchID).Msg("classification results failed")
			ch <- Notification{Kind: ResultsError, BatchID: acc.BatchID, Acceptance: &acc, Err: err,
				Results: c.Policy.fallbackFor(err, batch), Missing: len(batch)}
			return
		}
		if missing > 0 {
			log.Warn().Str("batch", acc.BatchID).Int("missing", missing).Msg("partial classification results")
		}
		ch <- Notification{Kind: ResultsReady, BatchID: acc.BatchID, Acceptance: &acc, Results: results, Missing: missing}
	}()
	return ch
}

var errPending = errors.New("results pending")

// await polls the result list until it covers the batch or polls run out.
func (c *Client) await(ctx context.Context, acc Acceptance, batch format.Batch) ([]Result, int, error) {
	want := acc.TotalItems
	if want == 0 {
		want = len(batch)
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	polls := c.MaxPolls
	if polls <= 0 {
		polls = 10
	}
	var last []Record
	poll := func() error {
		got, _, err := c.FetchResults(ctx, acc.BatchID)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = got
		if len(got) < want {
			return errPending
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(polls-1)), ctx)
	err := backoff.Retry(poll, bo)
	switch {
	case err == nil, errors.Is(err, errPending):
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, 0, &Error{Op: "fetch results", Kind: ErrNetwork, Err: err}
	default:
		return nil, 0, err
	}
	if c.Detailed && len(last) > 0 {
		last = c.FetchDetailed(ctx, acc.BatchID, len(last))
	}
	results, missing := Correlate(batch, last, c.Policy)
	return results, missing, nil
}

// Classifier labels one text at a time.
type Classifier interface {
	ClassifyText(ctx context.Context, text string) (Label, error)
}

// SingleRunner adapts a Classifier to Starter by classifying each item on
// its own. Failed items take the policy's fallback label and are counted
// as missing; if every item fails the run reports a results error.
type SingleRunner struct {
	Classifier  Classifier
	Policy      Policy
	Concurrency int
}

func (r *SingleRunner) Start(ctx context.Context, batch format.Batch) <-chan Notification {
	ch := make(chan Notification, 2)
	go func() {
		defer close(ch)
		ch <- Notification{Kind: ProcessingComplete, Acceptance: &Acceptance{TotalItems: len(batch), ProcessedItems: len(batch)}}

		results := r.Policy.Fallback(batch)
		errs := make([]error, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		limit := r.Concurrency
		if limit <= 0 {
			limit = 1
		}
		g.SetLimit(limit)
		for i := range batch {
			g.Go(func() error {
				label, err := r.Classifier.ClassifyText(gctx, batch[i].Text)
				if err != nil {
					errs[i] = err
					if errors.Is(err, ErrMalformedResponse) {
						// malformed payloads never redact
						results[i].Label = Safe
					}
					return nil
				}
				results[i].Label = label
				results[i].Classified = true
				return nil
			})
		}
		_ = g.Wait()

		missing := 0
		var firstErr error
		for _, err := range errs {
			if err != nil {
				missing++
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if len(batch) > 0 && missing == len(batch) {
			ch <- Notification{Kind: ResultsError, Err: firstErr, Results: r.Policy.fallbackFor(firstErr, batch), Missing: missing}
			return
		}
		ch <- Notification{Kind: ResultsReady, Results: results, Missing: missing}
	}()
	return ch
}
