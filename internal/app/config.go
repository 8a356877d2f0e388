package app

import "time"

// Config holds runtime configuration for the application.
type Config struct {
	// Document source: a local HTML file, a URL, or both (the URL then
	// only names the file's location for platform detection).
	InputPath string
	URL       string

	// Outputs
	ReportPath    string // JSON run report; "-" writes to stdout
	AnnotatedPath string // rendered HTML after redaction
	ExportDir     string // plain-text export of the scraped items
	ExportPDF     bool

	CatalogPath string

	// Extraction
	Mode          string // standard | compact
	MinChars      int
	MaxItems      int
	CaseSensitive bool

	// Classification service
	Classify          bool
	ServiceURL        string
	SingleMode        bool
	Detailed          bool
	FailClosed        bool
	PollInterval      time.Duration
	MaxPolls          int
	ClassifyTimeout   time.Duration
	RequestTimeout    time.Duration
	MaxAttempts       int
	DetailConcurrency int

	// LLM classifier for single mode, used instead of /classify when a
	// model is configured.
	LLMBaseURL   string
	LLMModel     string
	LLMAPIKey    string
	ExamplesPath string

	// Annotation
	Rematch bool
	Tooltip string

	Watch     bool
	UserAgent string
	Verbose   bool
}

const (
	defaultServiceURL      = "http://localhost:8000"
	defaultUserAgent       = "gomoderate/1.0 (+https://github.com/hyperifyio/gomoderate)"
	defaultMode            = "standard"
	defaultMaxItems        = 50
	defaultClassifyTimeout = 2 * time.Minute
)
