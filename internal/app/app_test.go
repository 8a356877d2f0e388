package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	calmText = "The community garden opens on Saturday and everyone is welcome to help."
	hateText = "People from that group are vermin and should be driven out of town."
)

const threadHTML = `<html><head><title>Thread</title></head><body>
<nav>Home | Forums | Login</nav>
<div id="thread">
<p>` + calmText + `</p>
<p>` + hateText + `</p>
</div>
</body></html>`

// moderationStub imitates the batch endpoints of the moderation service.
func moderationStub(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	var stored []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("/scrape", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content []map[string]any `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		stored = req.Content
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "ok", "total_items": len(req.Content), "processed_items": len(req.Content)})
	})
	mux.HandleFunc("/view-rag-results", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		out := make([]map[string]any, 0, len(stored))
		for _, it := range stored {
			text, _ := it["text"].(string)
			verdict := "Safe"
			if strings.Contains(text, "vermin") {
				verdict = "Hate Speech"
			}
			out = append(out, map[string]any{"url": it["url"], "original_text": text, "processed_result": verdict})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": out, "total_items": len(stored)})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeInput(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "thread.html")
	if err := os.WriteFile(path, []byte(threadHTML), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return dir, path
}

func readReport(t *testing.T, path string) Report {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep Report
	if err := json.Unmarshal(b, &rep); err != nil {
		t.Fatalf("decode report: %v\n%s", err, b)
	}
	return rep
}

func TestRun_ClassifiesAndRedacts(t *testing.T) {
	srv := moderationStub(t)
	dir, input := writeInput(t)
	cfg := Config{
		InputPath:     input,
		URL:           "https://forum.example.com/t/42",
		ReportPath:    filepath.Join(dir, "report.json"),
		AnnotatedPath: filepath.Join(dir, "annotated.html"),
		ExportDir:     filepath.Join(dir, "out"),
		ExportPDF:     true,
		Classify:      true,
		ServiceURL:    srv.URL,
		PollInterval:  10 * time.Millisecond,
		MaxPolls:      3,
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	rep := readReport(t, cfg.ReportPath)
	if rep.Error != "" || rep.BatchID == "" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Summary.Flagged != 1 || rep.Redacted != 1 {
		t.Fatalf("expected one flagged and redacted item: %+v", rep)
	}
	if rep.URL != cfg.URL || rep.Platform != "generic" {
		t.Fatalf("bad provenance: %q %q", rep.URL, rep.Platform)
	}
	if len(rep.Exports) != 2 {
		t.Fatalf("expected text and pdf exports, got %v", rep.Exports)
	}
	for _, p := range rep.Exports {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("export missing: %v", err)
		}
	}
	html, err := os.ReadFile(cfg.AnnotatedPath)
	if err != nil {
		t.Fatalf("read annotated: %v", err)
	}
	if strings.Count(string(html), `data-moderation-state="redacted"`) != 1 {
		t.Fatalf("annotated output should redact exactly one node:\n%s", html)
	}
}

func TestRun_ServiceDownFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	dir, input := writeInput(t)
	cfg := Config{
		InputPath:     input,
		ReportPath:    filepath.Join(dir, "report.json"),
		AnnotatedPath: filepath.Join(dir, "annotated.html"),
		Classify:      true,
		ServiceURL:    srv.URL,
		MaxAttempts:   1,
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("classification failure must not fail the run: %v", err)
	}
	rep := readReport(t, cfg.ReportPath)
	if rep.Error == "" || rep.Redacted != 0 || rep.Summary.Flagged != 0 {
		t.Fatalf("expected reported failure with no redaction: %+v", rep)
	}
	if rep.Summary.Safe != rep.Items {
		t.Fatalf("fail-open should mark all %d items safe: %+v", rep.Items, rep.Summary)
	}
	html, _ := os.ReadFile(cfg.AnnotatedPath)
	if strings.Contains(string(html), "data-moderation-state") {
		t.Fatalf("document was annotated despite failure")
	}
}

func TestRun_ServiceDownFailClosedRedactsEverything(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	dir, input := writeInput(t)
	cfg := Config{InputPath: input, ReportPath: filepath.Join(dir, "r.json"), Classify: true, ServiceURL: srv.URL, MaxAttempts: 1, FailClosed: true}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	rep := readReport(t, cfg.ReportPath)
	if rep.Redacted != 2 {
		t.Fatalf("fail-closed should redact both paragraphs, got %+v", rep)
	}
}

type fakeChat struct{}

func (fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	answer := "Safe"
	if strings.Contains(req.Messages[len(req.Messages)-1].Content, "vermin") {
		answer = "Hate Speech"
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: answer}}}}, nil
}

func TestLoadExamples_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	y := filepath.Join(dir, "ex.yaml")
	j := filepath.Join(dir, "ex.json")
	_ = os.WriteFile(y, []byte("- text: they are vermin\n  label: Hate Speech\n"), 0o644)
	_ = os.WriteFile(j, []byte(`[{"text":"nice day","label":"Safe"}]`), 0o644)
	for _, p := range []string{y, j} {
		ex, err := loadExamples(p)
		if err != nil || len(ex) != 1 || ex[0].Label == "" {
			t.Fatalf("%s: %+v %v", p, ex, err)
		}
	}
	if ex, err := loadExamples(""); ex != nil || err != nil {
		t.Fatalf("empty path should load nothing")
	}
}

func TestPreflightModels_IgnoresPlainClients(t *testing.T) {
	// fakeChat does not list models; preflight must not panic or block
	preflightModels(context.Background(), fakeChat{})
}

func TestRun_FetchesURLWhenNoInputFile(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(threadHTML))
	}))
	defer page.Close()
	dir := t.TempDir()
	cfg := Config{URL: page.URL + "/thread", ReportPath: filepath.Join(dir, "r.json")}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	rep := readReport(t, cfg.ReportPath)
	if rep.Items < 2 || len(rep.Results) != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRun_WatchReannotatesChangedFile(t *testing.T) {
	srv := moderationStub(t)
	dir, input := writeInput(t)
	cfg := Config{
		InputPath:     input,
		ReportPath:    filepath.Join(dir, "r.json"),
		AnnotatedPath: filepath.Join(dir, "annotated.html"),
		Classify:      true,
		ServiceURL:    srv.URL,
		PollInterval:  10 * time.Millisecond,
		Rematch:       true,
		Watch:         true,
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// wait for the first pass to land
	waitFor(t, func() bool {
		b, _ := os.ReadFile(cfg.AnnotatedPath)
		return strings.Contains(string(b), "data-moderation-state")
	})
	// the watcher starts after the first outputs are written, so keep
	// rewriting until a change is picked up
	updated := strings.Replace(threadHTML, "</div>", "<p>Late reply: "+hateText+"</p></div>", 1)
	var last time.Time
	waitFor(t, func() bool {
		if time.Since(last) > 500*time.Millisecond {
			if err := os.WriteFile(input, []byte(updated), 0o644); err != nil {
				t.Fatal(err)
			}
			last = time.Now()
		}
		b, _ := os.ReadFile(cfg.AnnotatedPath)
		return strings.Count(string(b), `data-moderation-state="redacted"`) == 2
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
