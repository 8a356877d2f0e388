package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v3"
	"golang.org/x/net/html"

	"github.com/hyperifyio/gomoderate/internal/annotate"
	"github.com/hyperifyio/gomoderate/internal/classify"
	"github.com/hyperifyio/gomoderate/internal/dedup"
	"github.com/hyperifyio/gomoderate/internal/dom"
	"github.com/hyperifyio/gomoderate/internal/export"
	"github.com/hyperifyio/gomoderate/internal/fetch"
	"github.com/hyperifyio/gomoderate/internal/llm"
	"github.com/hyperifyio/gomoderate/internal/platform"
	"github.com/hyperifyio/gomoderate/internal/session"
	"github.com/hyperifyio/gomoderate/internal/watch"
)

type App struct {
	cfg      Config
	http     *http.Client
	registry *platform.Registry
	fetcher  *fetch.Client
	starter  classify.Starter
	now      func() time.Time
}

// New validates cfg, loads the platform catalog and wires the classifier.
// Service and model preflight checks are best-effort.
func New(ctx context.Context, cfg Config) (*App, error) {
	applyDefaults(&cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	reg, err := platform.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	log.Debug().Int("profiles", len(reg.Profiles())).Str("catalog", cfg.CatalogPath).Msg("platform profiles loaded")
	a := &App{cfg: cfg, http: newHTTPClient(0), registry: reg, now: time.Now}
	a.fetcher = &fetch.Client{
		HTTPClient:        a.http,
		UserAgent:         cfg.UserAgent,
		MaxAttempts:       2,
		PerRequestTimeout: 15 * time.Second,
		RedirectMaxHops:   5,
	}
	if cfg.Classify {
		starter, err := a.buildStarter(ctx)
		if err != nil {
			return nil, err
		}
		a.starter = starter
	}
	return a, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = defaultMode
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.MinChars == 0 {
		cfg.MinChars = dedup.MinCharsFor(dedup.Mode(cfg.Mode))
	}
	if cfg.ServiceURL == "" && !(cfg.SingleMode && cfg.LLMModel != "") {
		cfg.ServiceURL = defaultServiceURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = defaultClassifyTimeout
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = "-"
	}
}

func (a *App) buildStarter(ctx context.Context) (classify.Starter, error) {
	policy := classify.Policy{FailClosed: a.cfg.FailClosed}
	attempts := a.cfg.MaxAttempts
	if attempts == 0 {
		attempts = 3
	}
	reqTimeout := a.cfg.RequestTimeout
	if reqTimeout == 0 {
		reqTimeout = 30 * time.Second
	}
	service := &classify.Client{
		BaseURL:           a.cfg.ServiceURL,
		HTTPClient:        a.http,
		UserAgent:         a.cfg.UserAgent,
		MaxAttempts:       attempts,
		RetryInterval:     500 * time.Millisecond,
		PerRequestTimeout: reqTimeout,
		PollInterval:      a.cfg.PollInterval,
		MaxPolls:          a.cfg.MaxPolls,
		Detailed:          a.cfg.Detailed,
		DetailConcurrency: a.cfg.DetailConcurrency,
		Policy:            policy,
	}
	if !a.cfg.SingleMode {
		a.preflightService(ctx, service)
		return service, nil
	}
	if strings.TrimSpace(a.cfg.LLMModel) == "" {
		a.preflightService(ctx, service)
		return &classify.SingleRunner{Classifier: service, Policy: policy, Concurrency: 4}, nil
	}

	provider := llm.NewOpenAIProvider(a.cfg.LLMBaseURL, a.cfg.LLMAPIKey, a.http)
	preflightModels(ctx, provider)
	examples, err := loadExamples(a.cfg.ExamplesPath)
	if err != nil {
		return nil, err
	}
	chat := &classify.ChatClassifier{Client: provider, Model: a.cfg.LLMModel, Examples: examples}
	return &classify.SingleRunner{Classifier: chat, Policy: policy, Concurrency: 4}, nil
}

func (a *App) preflightService(ctx context.Context, c *classify.Client) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	probe := *c
	probe.MaxAttempts = 1
	status, err := probe.Health(ctx)
	if err != nil {
		log.Warn().Err(err).Str("url", c.BaseURL).Msg("moderation service health check failed; continuing")
		return
	}
	log.Info().Str("status", status).Str("url", c.BaseURL).Msg("moderation service reachable")
}

func preflightModels(ctx context.Context, client llm.Client) {
	lister, ok := client.(llm.ModelLister)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := lister.ListModels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("LLM model list failed; continuing")
		return
	}
	if len(models.Models) > 0 {
		log.Info().Int("count", len(models.Models)).Msg("LLM models available")
	} else {
		log.Warn().Msg("LLM returned zero models")
	}
}

// loadExamples reads labelled reference texts. JSON files parse as YAML.
func loadExamples(path string) ([]classify.Example, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read examples: %w", err)
	}
	var out []classify.Example
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse examples: %w", err)
	}
	return out, nil
}

func (a *App) Close() {
	a.http.CloseIdleConnections()
}

// ResultView is one classified item in the run report.
type ResultView struct {
	Index      int            `json:"index"`
	Label      classify.Label `json:"label"`
	Text       string         `json:"text"`
	Classified bool           `json:"classified"`
	Raw        string         `json:"processed_result,omitempty"`
}

// Report summarizes one run.
type Report struct {
	Session   string          `json:"session"`
	URL       string          `json:"url"`
	Platform  string          `json:"platform"`
	Timestamp string          `json:"timestamp"`
	Items     int             `json:"items"`
	BatchID   string          `json:"batch_id,omitempty"`
	Results   []ResultView    `json:"results,omitempty"`
	Summary   session.Summary `json:"summary"`
	Missing   int             `json:"missing,omitempty"`
	Redacted  int             `json:"redacted"`
	Exports   []string        `json:"exports,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Run scrapes the document, classifies and annotates it, writes the
// configured outputs, and in watch mode keeps following the input file
// until ctx is done. Classification failures are reported, not returned.
func (a *App) Run(ctx context.Context) error {
	doc, err := a.loadDocument(ctx)
	if err != nil {
		return err
	}
	sess := session.New(doc, a.registry, session.Options{
		Dedup:      dedup.Options{MinChars: a.cfg.MinChars, MaxItems: a.cfg.MaxItems, CaseSensitive: a.cfg.CaseSensitive},
		Annotate:   annotate.Options{Rematch: a.cfg.Rematch, Tooltip: a.cfg.Tooltip},
		Classifier: a.starter,
		Now:        a.now,
	})
	defer sess.Close()

	resp := sess.Handle(ctx, session.Command{Action: session.ActionScrape, Classify: a.cfg.Classify})
	if !resp.Success {
		return fmt.Errorf("scrape: %s", resp.Error)
	}
	rep := Report{
		Session:   sess.ID,
		URL:       resp.URL,
		Platform:  sess.Profile().Name,
		Timestamp: resp.Timestamp,
		Items:     len(resp.FormattedData),
	}
	if rep.Items == 0 {
		log.Warn().Str("url", resp.URL).Msg("no content extracted")
	}
	if a.cfg.ExportDir != "" && rep.Items > 0 {
		rep.Exports = a.export(resp)
	}
	if resp.Classifying {
		a.await(ctx, sess, &rep)
	}
	rep.Redacted = sess.Engine().Count(annotate.Redacted)
	log.Info().Int("items", rep.Items).Int("flagged", rep.Summary.Flagged).Int("redacted", rep.Redacted).Msg("run complete")

	if err := a.writeAnnotated(doc); err != nil {
		return err
	}
	if err := a.writeReport(rep); err != nil {
		return err
	}
	if a.cfg.Watch {
		return a.follow(ctx, doc)
	}
	return nil
}

func (a *App) loadDocument(ctx context.Context) (*dom.Document, error) {
	if a.cfg.InputPath == "" {
		doc, err := a.fetcher.Document(ctx, a.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", a.cfg.URL, err)
		}
		return doc, nil
	}
	f, err := os.Open(a.cfg.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	defer f.Close()
	loc := a.cfg.URL
	if loc == "" {
		abs, err := filepath.Abs(a.cfg.InputPath)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		loc = "file://" + filepath.ToSlash(abs)
	}
	return dom.Parse(f, loc)
}

func (a *App) export(resp session.Response) []string {
	now := a.now()
	var out []string
	p, err := export.WriteText(a.cfg.ExportDir, resp.FormattedData, now)
	if err != nil {
		log.Warn().Err(err).Msg("text export failed")
	} else {
		out = append(out, p)
	}
	if a.cfg.ExportPDF {
		p, err := export.WritePDF(a.cfg.ExportDir, resp.FormattedData, "Scraped content: "+resp.URL, now)
		if err != nil {
			log.Warn().Err(err).Msg("pdf export failed")
		} else {
			out = append(out, p)
		}
	}
	return out
}

// await collects notifications until the run finishes or times out.
func (a *App) await(ctx context.Context, sess *session.Session, rep *Report) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ClassifyTimeout)
	defer cancel()
	for {
		select {
		case n, ok := <-sess.Notifications():
			if !ok {
				return
			}
			if n.BatchID != "" {
				rep.BatchID = n.BatchID
			}
			switch n.Kind {
			case classify.ProcessingComplete:
				log.Info().Str("batch", n.BatchID).Msg("content processed; fetching results")
				continue
			case classify.ProcessingError, classify.ResultsError:
				if n.Err != nil {
					rep.Error = n.Err.Error()
				}
			}
			rep.Results = views(n.Results)
			rep.Summary = session.Summarize(n.Results)
			rep.Missing = n.Missing
			return
		case <-ctx.Done():
			rep.Error = "classification did not finish: " + ctx.Err().Error()
			log.Warn().Err(ctx.Err()).Msg("classification wait ended")
			return
		}
	}
}

func views(results []classify.Result) []ResultView {
	out := make([]ResultView, 0, len(results))
	for _, r := range results {
		out = append(out, ResultView{Index: r.Ref.Index, Label: r.Label, Text: r.OriginalText, Classified: r.Classified, Raw: r.Raw})
	}
	return out
}

func (a *App) writeAnnotated(doc *dom.Document) error {
	if a.cfg.AnnotatedPath == "" {
		return nil
	}
	f, err := os.Create(a.cfg.AnnotatedPath)
	if err != nil {
		return fmt.Errorf("write annotated: %w", err)
	}
	if err := doc.Render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write annotated: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write annotated: %w", err)
	}
	log.Info().Str("out", a.cfg.AnnotatedPath).Msg("wrote annotated document")
	return nil
}

func (a *App) writeReport(rep Report) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	b = append(b, '\n')
	var w io.Writer = os.Stdout
	if a.cfg.ReportPath != "-" {
		f, err := os.Create(a.cfg.ReportPath)
		if err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// follow folds every settled revision of the input file into doc. The
// annotation engine sees the replacement through the mutation stream.
func (a *App) follow(ctx context.Context, doc *dom.Document) error {
	w, err := watch.New(a.cfg.InputPath, func(root *html.Node) {
		doc.ReplaceBody(root)
		if err := a.writeAnnotated(doc); err != nil {
			log.Warn().Err(err).Msg("annotated output not refreshed")
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
