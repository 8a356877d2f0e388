package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/gomoderate/internal/annotate"
	"github.com/hyperifyio/gomoderate/internal/classify"
	"github.com/hyperifyio/gomoderate/internal/dom"
	"github.com/hyperifyio/gomoderate/internal/format"
	"github.com/hyperifyio/gomoderate/internal/platform"
)

const (
	friendly = "This is a long friendly paragraph about gardening and the weather today."
	hateful  = "Some people spread hate about the XYZ group and that is terrible to read."
)

var page = `<html><body><nav>Home | About | Contact</nav><article>
<p id="f">` + friendly + `</p>
<p id="h">` + hateful + `</p>
</article></body></html>`

func fixedNow() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func load(t *testing.T, src, url string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(src, url)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

// scripted is a Starter that replays a fixed notification list.
type scripted struct {
	notes []classify.Notification
	gate  chan struct{}
}

func (s *scripted) Start(_ context.Context, batch format.Batch) <-chan classify.Notification {
	ch := make(chan classify.Notification, len(s.notes))
	go func() {
		defer close(ch)
		if s.gate != nil {
			<-s.gate
		}
		for _, n := range s.notes {
			ch <- n
		}
	}()
	return ch
}

func next(t *testing.T, ch <-chan classify.Notification) classify.Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatalf("notification channel closed")
		}
		return n
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
	return classify.Notification{}
}

func TestHandle_ScrapeWithoutClassification(t *testing.T) {
	s := New(load(t, page, "https://blog.example.com/post"), nil, Options{Now: fixedNow})
	defer s.Close()

	resp := s.Handle(context.Background(), Command{Action: ActionScrape})
	if !resp.Success || resp.Classifying {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.URL != "https://blog.example.com/post" || resp.Timestamp != "2024-01-02T03:04:05.000Z" {
		t.Fatalf("bad provenance: %q %q", resp.URL, resp.Timestamp)
	}
	joined := strings.Join(resp.Paragraphs, "\n")
	if !strings.Contains(joined, friendly) || !strings.Contains(joined, hateful) {
		t.Fatalf("missing paragraphs: %q", resp.Paragraphs)
	}
	if strings.Contains(joined, "Contact") {
		t.Fatalf("short navigation text survived: %q", resp.Paragraphs)
	}
	if len(resp.FormattedData) != len(resp.Paragraphs) || resp.FormattedData[0].Metadata.Type != format.MainContent {
		t.Fatalf("unexpected formatted data: %+v", resp.FormattedData)
	}
	if resp.FormattedData[0].Metadata.Platform != "generic" {
		t.Fatalf("platform = %q", resp.FormattedData[0].Metadata.Platform)
	}
	if len(resp.Reports) == 0 {
		t.Fatalf("expected strategy reports")
	}
	if len(s.Batch()) != len(resp.FormattedData) {
		t.Fatalf("batch not retained")
	}
}

func TestHandle_UnknownAction(t *testing.T) {
	s := New(load(t, page, "https://example.com/"), nil, Options{})
	defer s.Close()
	if resp := s.Handle(context.Background(), Command{Action: "explode"}); resp.Success || resp.Error == "" {
		t.Fatalf("expected failure, got %+v", resp)
	}
}

func TestHandle_DetectsPlatform(t *testing.T) {
	s := New(load(t, page, "https://en.wikipedia.org/wiki/Go"), platform.NewRegistry(platform.Defaults()...), Options{})
	defer s.Close()
	if s.Profile().Kind != platform.Wikipedia {
		t.Fatalf("profile = %+v", s.Profile())
	}
}

func TestClassification_FailOpenRedactsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client := &classify.Client{BaseURL: srv.URL, MaxAttempts: 2, RetryInterval: time.Millisecond}

	doc := load(t, page, "https://example.com/")
	before := doc.String()
	s := New(doc, nil, Options{Classifier: client})
	defer s.Close()

	resp := s.Handle(context.Background(), Command{Action: ActionScrape, Classify: true})
	if !resp.Success || !resp.Classifying {
		t.Fatalf("unexpected response: %+v", resp)
	}
	n := next(t, s.Notifications())
	if n.Kind != classify.ProcessingError || len(n.Results) != len(resp.FormattedData) {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if s.Engine().Count(annotate.Redacted) != 0 || doc.String() != before {
		t.Fatalf("fail-open must not redact anything")
	}
}

func TestClassification_ResultsAreApplied(t *testing.T) {
	starter := &scripted{notes: []classify.Notification{
		{Kind: classify.ProcessingComplete, BatchID: "b1"},
		{Kind: classify.ResultsReady, BatchID: "b1", Results: []classify.Result{
			{Label: classify.Safe, OriginalText: friendly, Classified: true},
			{Label: classify.Flagged, OriginalText: hateful, Classified: true},
		}},
	}}
	doc := load(t, page, "https://example.com/")
	s := New(doc, nil, Options{Classifier: starter})
	defer s.Close()

	s.Handle(context.Background(), Command{Action: ActionScrape, Classify: true})
	if n := next(t, s.Notifications()); n.Kind != classify.ProcessingComplete {
		t.Fatalf("first notification = %v", n.Kind)
	}
	n := next(t, s.Notifications())
	if n.Kind != classify.ResultsReady {
		t.Fatalf("second notification = %v", n.Kind)
	}
	if sum := Summarize(n.Results); sum.Flagged != 1 || sum.Safe != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	eng := s.Engine()
	if eng.Len() != 1 || eng.Count(annotate.Redacted) != 1 {
		t.Fatalf("expected one redaction, len=%d", eng.Len())
	}
	if !strings.Contains(doc.String(), `data-moderation-state="redacted"`) {
		t.Fatalf("redaction not rendered")
	}
}

func TestNavigate_DropsStaleResults(t *testing.T) {
	gate := make(chan struct{})
	starter := &scripted{gate: gate, notes: []classify.Notification{
		{Kind: classify.ResultsReady, Results: []classify.Result{{Label: classify.Flagged, OriginalText: hateful}}},
	}}
	first := load(t, page, "https://example.com/a")
	s := New(first, nil, Options{Classifier: starter})
	s.Handle(context.Background(), Command{Action: ActionScrape, Classify: true})

	second := load(t, page, "https://example.com/b")
	if err := s.Navigate(second); err != nil {
		t.Fatal(err)
	}
	close(gate)
	time.Sleep(20 * time.Millisecond)
	s.Close()

	for n := range s.Notifications() {
		t.Fatalf("stale notification forwarded: %+v", n)
	}
	if strings.Contains(first.String(), "data-moderation-state") || strings.Contains(second.String(), "data-moderation-state") {
		t.Fatalf("stale results were applied")
	}
	if err := s.Navigate(second); err != ErrClosed {
		t.Fatalf("navigate after close = %v", err)
	}
}

func TestClose_IsIdempotentAndRejectsCommands(t *testing.T) {
	s := New(load(t, page, "https://example.com/"), nil, Options{})
	s.Close()
	s.Close()
	if resp := s.Handle(context.Background(), Command{Action: ActionScrape}); resp.Success {
		t.Fatalf("closed session handled a command")
	}
	if _, ok := <-s.Notifications(); ok {
		t.Fatalf("notifications not closed")
	}
}
