// Package session runs scrape commands against one live document and
// routes classification outcomes to its annotation engine.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gomoderate/internal/annotate"
	"github.com/hyperifyio/gomoderate/internal/classify"
	"github.com/hyperifyio/gomoderate/internal/dedup"
	"github.com/hyperifyio/gomoderate/internal/dom"
	"github.com/hyperifyio/gomoderate/internal/extract"
	"github.com/hyperifyio/gomoderate/internal/format"
	"github.com/hyperifyio/gomoderate/internal/platform"
)

// ActionScrape is the only command the session understands.
const ActionScrape = "scrape"

// ErrClosed is returned by Navigate on a closed session.
var ErrClosed = errors.New("session closed")

// Command is a control-surface request.
type Command struct {
	Action   string `json:"action"`
	Classify bool   `json:"classify"`
}

// Response answers a Command synchronously.
type Response struct {
	Success       bool         `json:"success"`
	Error         string       `json:"error,omitempty"`
	URL           string       `json:"url,omitempty"`
	Timestamp     string       `json:"timestamp,omitempty"`
	Paragraphs    []string     `json:"paragraphs,omitempty"`
	FormattedData format.Batch `json:"formattedData,omitempty"`
	// Reports lists what each extraction strategy contributed.
	Reports []extract.Report `json:"-"`
	// Classifying is true when a classification run was started.
	Classifying bool `json:"classifying,omitempty"`
}

// Options configures a Session.
type Options struct {
	Dedup    dedup.Options
	Annotate annotate.Options
	// Classifier runs classification; nil disables it.
	Classifier classify.Starter
	Now        func() time.Time
	// Buffer sizes the notification channel. Zero means 8.
	Buffer int
}

// Session owns the per-document pipeline state. Create it with New and
// release it with Close.
type Session struct {
	ID string

	registry *platform.Registry
	opts     Options
	notes    chan classify.Notification
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	gen     int
	doc     *dom.Document
	profile platform.Profile
	chain   *extract.Chain
	engine  *annotate.Engine
	batch   format.Batch
	closed  bool
}

// New binds a session to doc, detecting its platform through registry.
func New(doc *dom.Document, registry *platform.Registry, opts Options) *Session {
	if registry == nil {
		registry = platform.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = 8
	}
	s := &Session{
		ID:       uuid.NewString(),
		registry: registry,
		opts:     opts,
		notes:    make(chan classify.Notification, buf),
		done:     make(chan struct{}),
	}
	s.bind(doc)
	return s
}

// bind resets per-document state. s.mu must be held or s unshared.
func (s *Session) bind(doc *dom.Document) {
	s.gen++
	s.doc = doc
	s.batch = nil
	s.profile = s.registry.Detect(doc.URL())
	s.chain = extract.NewChain(s.profile)
	s.engine = annotate.New(doc, s.opts.Annotate)
	log.Debug().Str("session", s.ID).Str("url", doc.URL()).Str("platform", s.profile.Name).Msg("session bound")
}

// Profile returns the detected platform profile.
func (s *Session) Profile() platform.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Engine returns the annotation engine for the current document.
func (s *Session) Engine() *annotate.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Batch returns the batch of the last successful scrape.
func (s *Session) Batch() format.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch
}

// Notifications yields classification progress. The channel is closed by
// Close.
func (s *Session) Notifications() <-chan classify.Notification { return s.notes }

// Handle executes cmd. Classification, when requested, runs in the
// background and reports through Notifications.
func (s *Session) Handle(ctx context.Context, cmd Command) Response {
	if cmd.Action != ActionScrape {
		return Response{Success: false, Error: "unknown action: " + cmd.Action}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Response{Success: false, Error: ErrClosed.Error()}
	}
	doc, chain, profile, engine, gen := s.doc, s.chain, s.profile, s.engine, s.gen
	s.mu.Unlock()

	now := s.opts.Now()
	cands, reports := chain.Run(doc)
	kept := dedup.Apply(cands, s.opts.Dedup)
	batch := format.Format(kept, format.Context{URL: doc.URL(), Platform: profile.Name, Now: now})
	log.Info().Str("url", doc.URL()).Str("platform", profile.Name).Int("candidates", len(cands)).Int("items", len(batch)).Msg("scrape complete")

	s.mu.Lock()
	if gen == s.gen {
		s.batch = batch
	}
	s.mu.Unlock()

	resp := Response{
		Success:       true,
		URL:           doc.URL(),
		Timestamp:     now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Paragraphs:    batch.Texts(),
		FormattedData: batch,
		Reports:       reports,
	}
	if cmd.Classify && s.opts.Classifier != nil && len(batch) > 0 {
		resp.Classifying = s.startClassification(ctx, gen, engine, batch)
	}
	return resp
}

func (s *Session) startClassification(ctx context.Context, gen int, engine *annotate.Engine, batch format.Batch) bool {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	ch := s.opts.Classifier.Start(ctx, batch)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case n, ok := <-ch:
				if !ok {
					return
				}
				s.deliver(gen, engine, n)
			case <-s.done:
				// the run finishes on its own; its channel is buffered
				return
			}
		}
	}()
	return true
}

// deliver applies results to the engine, then forwards n. Notifications
// from a previous document are dropped.
func (s *Session) deliver(gen int, engine *annotate.Engine, n classify.Notification) {
	s.mu.Lock()
	stale := s.closed || gen != s.gen
	s.mu.Unlock()
	if stale {
		log.Debug().Str("session", s.ID).Str("kind", string(n.Kind)).Msg("dropping stale notification")
		return
	}
	if len(n.Results) > 0 {
		redacted := engine.Apply(n.Results)
		log.Info().Str("kind", string(n.Kind)).Int("results", len(n.Results)).Int("redacted", redacted).Msg("classification applied")
	}
	if n.Err != nil {
		log.Warn().Err(n.Err).Str("kind", string(n.Kind)).Msg("classification failed")
	}
	select {
	case s.notes <- n:
	case <-s.done:
	}
}

// Navigate rebinds the session to a new document. Pending classification
// results for the old document are discarded.
func (s *Session) Navigate(doc *dom.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.engine.Close()
	s.bind(doc)
	return nil
}

// Close detaches the engine and closes the notification channel once
// in-flight deliveries have stopped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.engine.Close()
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
	close(s.notes)
}

// Summary counts results by label.
type Summary struct {
	Flagged  int `json:"flagged"`
	Moderate int `json:"moderate"`
	Safe     int `json:"safe"`
}

// Summarize tallies results.
func Summarize(results []classify.Result) Summary {
	var sum Summary
	for _, r := range results {
		switch r.Label {
		case classify.Flagged:
			sum.Flagged++
		case classify.Moderate:
			sum.Moderate++
		default:
			sum.Safe++
		}
	}
	return sum
}
