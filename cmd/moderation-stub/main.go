// Command moderation-stub is a keyword-based stand-in for the moderation
// service, used for local runs and system tests.
package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/ahocorasick"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var defaultWords = []string{"vermin", "subhuman", "go back to where", "should be exterminated"}

type item struct {
	URL       string `json:"url"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type record struct {
	Index           int    `json:"index"`
	URL             string `json:"url"`
	Timestamp       string `json:"timestamp"`
	OriginalText    string `json:"original_text"`
	ProcessedResult string `json:"processed_result"`
}

type stub struct {
	mu      sync.Mutex
	matcher *ahocorasick.Matcher
	results []record
}

func newStub(words []string) *stub {
	lower := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lower = append(lower, w)
		}
	}
	return &stub{matcher: ahocorasick.NewStringMatcher(lower)}
}

// verdict must be called with mu held.
func (s *stub) verdict(text string) string {
	if len(s.matcher.Match([]byte(strings.ToLower(text)))) > 0 {
		return "Hate Speech"
	}
	return "Safe"
}

func (s *stub) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("POST /scrape", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Content []item `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
			return
		}
		s.mu.Lock()
		s.results = s.results[:0]
		for i, it := range req.Content {
			s.results = append(s.results, record{Index: i, URL: it.URL, Timestamp: it.Timestamp, OriginalText: it.Text, ProcessedResult: s.verdict(it.Text)})
		}
		n := len(s.results)
		s.mu.Unlock()
		log.Info().Int("items", n).Msg("batch stored")
		writeJSON(w, http.StatusOK, map[string]any{"message": "Content processed", "total_items": n, "processed_items": n})
	})
	mux.HandleFunc("GET /view-rag-results", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		out := append([]record(nil), s.results...)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"results": out, "total_items": len(out)})
	})
	mux.HandleFunc("GET /view-rag-result/{i}", func(w http.ResponseWriter, r *http.Request) {
		i, err := strconv.Atoi(r.PathValue("i"))
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil || i < 0 || i >= len(s.results) {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Result not found"})
			return
		}
		writeJSON(w, http.StatusOK, s.results[i])
	})
	mux.HandleFunc("POST /classify", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "text is required"})
			return
		}
		s.mu.Lock()
		v := s.verdict(req.Text)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"text": req.Text, "result": v})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8000"
	}
	words := defaultWords
	if v := strings.TrimSpace(os.Getenv("FLAG_WORDS")); v != "" {
		words = strings.Split(v, ",")
	}

	log.Info().Str("addr", addr).Int("words", len(words)).Msg("moderation-stub listening")
	if err := http.ListenAndServe(addr, newStub(words).routes()); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}
