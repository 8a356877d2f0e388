// Package classify talks to the external moderation service.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/gomoderate/internal/format"
)

const maxResponseBytes = 8 << 20

// Acceptance is the service's answer to a batch submission.
type Acceptance struct {
	BatchID        string
	Message        string
	TotalItems     int
	ProcessedItems int
}

// Client speaks the batch (/scrape, /view-rag-results) and single-item
// (/classify) protocols. Zero values pick conservative defaults.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// RetryInterval is the first backoff delay between attempts.
	RetryInterval time.Duration
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// PollInterval and MaxPolls bound waiting for batch results.
	PollInterval time.Duration
	MaxPolls     int
	// Detailed fetches each result from /view-rag-result/{i} after the
	// list reports completion, for services whose list holds previews.
	Detailed bool
	// DetailConcurrency bounds in-flight detail requests. Zero means 4.
	DetailConcurrency int
	Policy            Policy
}

type scrapeRequest struct {
	Content format.Batch `json:"content"`
}

type scrapeResponse struct {
	Message        string `json:"message"`
	TotalItems     *int   `json:"total_items"`
	ProcessedItems *int   `json:"processed_items"`
}

type resultsResponse struct {
	Results    *[]Record `json:"results"`
	TotalItems int       `json:"total_items"`
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Text   string `json:"text"`
	Result string `json:"result"`
}

// Submit posts batch to /scrape.
func (c *Client) Submit(ctx context.Context, batch format.Batch) (Acceptance, error) {
	id := uuid.NewString()
	var resp scrapeResponse
	if err := c.do(ctx, "submit", http.MethodPost, "/scrape", id, scrapeRequest{Content: batch}, &resp); err != nil {
		return Acceptance{}, err
	}
	if resp.TotalItems == nil {
		return Acceptance{}, &Error{Op: "submit", Kind: ErrMalformedResponse, Err: errors.New("missing total_items")}
	}
	acc := Acceptance{BatchID: id, Message: resp.Message, TotalItems: *resp.TotalItems, ProcessedItems: *resp.TotalItems}
	if resp.ProcessedItems != nil {
		acc.ProcessedItems = *resp.ProcessedItems
	}
	log.Debug().Str("batch", id).Int("total", acc.TotalItems).Int("processed", acc.ProcessedItems).Msg("batch accepted")
	return acc, nil
}

// FetchResults reads the current result list for batchID.
func (c *Client) FetchResults(ctx context.Context, batchID string) ([]Record, int, error) {
	var resp resultsResponse
	if err := c.do(ctx, "fetch results", http.MethodGet, "/view-rag-results", batchID, nil, &resp); err != nil {
		return nil, 0, err
	}
	if resp.Results == nil {
		return nil, 0, &Error{Op: "fetch results", Kind: ErrMalformedResponse, Err: errors.New("missing results")}
	}
	return *resp.Results, resp.TotalItems, nil
}

// FetchResult reads a single result by position.
func (c *Client) FetchResult(ctx context.Context, batchID string, i int) (Record, error) {
	var w Record
	err := c.do(ctx, "fetch result", http.MethodGet, fmt.Sprintf("/view-rag-result/%d", i), batchID, nil, &w)
	if err != nil {
		return Record{}, err
	}
	if w.Index == nil {
		idx := i
		w.Index = &idx
	}
	return w, nil
}

// FetchDetailed reads results 0..n-1 concurrently. Individual failures are
// logged and skipped; the returned slice keeps index order.
func (c *Client) FetchDetailed(ctx context.Context, batchID string, n int) []Record {
	slots := make([]*Record, n)
	g, gctx := errgroup.WithContext(ctx)
	limit := c.DetailConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			w, err := c.FetchResult(gctx, batchID, i)
			if err != nil {
				log.Warn().Err(err).Int("index", i).Msg("result detail fetch failed")
				return nil
			}
			slots[i] = &w
			return nil
		})
	}
	_ = g.Wait()
	out := make([]Record, 0, n)
	for _, w := range slots {
		if w != nil {
			out = append(out, *w)
		}
	}
	return out
}

// ClassifyText classifies a single text through /classify.
func (c *Client) ClassifyText(ctx context.Context, text string) (Label, error) {
	var resp classifyResponse
	if err := c.do(ctx, "classify", http.MethodPost, "/classify", "", classifyRequest{Text: text}, &resp); err != nil {
		return c.Policy.FallbackLabel(), err
	}
	label, ok := ParseLabel(resp.Result)
	if !ok {
		return c.Policy.FallbackLabel(), &Error{Op: "classify", Kind: ErrMalformedResponse, Err: fmt.Errorf("unknown result %q", resp.Result)}
	}
	return label, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health reports the service's self-declared status.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp healthResponse
	if err := c.do(ctx, "health", http.MethodGet, "/health", "", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.RetryInterval
	if expo.InitialInterval <= 0 {
		expo.InitialInterval = 200 * time.Millisecond
	}
	expo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)
}

// do performs one JSON round trip with bounded retry on transient failures.
func (c *Client) do(ctx context.Context, op, method, path, batchID string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		payload = b
	}
	attempt := func() error {
		return c.tryOnce(ctx, op, method, path, batchID, payload, out)
	}
	err := backoff.Retry(attempt, c.retryPolicy(ctx))
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Op: op, Kind: ErrNetwork, Err: err}
}

func (c *Client) tryOnce(ctx context.Context, op, method, path, batchID string, payload []byte, out any) error {
	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PerRequestTimeout)
		defer cancel()
	}
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rd)
	if err != nil {
		return backoff.Permanent(&Error{Op: op, Kind: ErrNetwork, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if batchID != "" {
		req.Header.Set("X-Batch-ID", batchID)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		e := &Error{Op: op, Kind: ErrNetwork, Err: err}
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(e)
		}
		return e
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Op: op, Kind: ErrNetwork, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
		if isTransientStatus(resp.StatusCode) {
			return e
		}
		return backoff.Permanent(e)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, Kind: ErrNetwork, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(&Error{Op: op, Kind: ErrMalformedResponse, Status: resp.StatusCode, Err: err})
	}
	return nil
}

func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}
