package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/gomoderate/internal/dedup"
)

// FileConfig represents the single-file configuration schema.
// Nested sections map onto the dotted flag names.
type FileConfig struct {
	Input  string `yaml:"input" json:"input"`
	URL    string `yaml:"url" json:"url"`
	Report string `yaml:"report" json:"report"`

	Annotated string `yaml:"annotated" json:"annotated"`
	Catalog   string `yaml:"catalog" json:"catalog"`

	Export struct {
		Dir string `yaml:"dir" json:"dir"`
		PDF bool   `yaml:"pdf" json:"pdf"`
	} `yaml:"export" json:"export"`

	Scrape struct {
		Mode          string `yaml:"mode" json:"mode"`
		MinChars      int    `yaml:"minChars" json:"minChars"`
		MaxItems      int    `yaml:"maxItems" json:"maxItems"`
		CaseSensitive bool   `yaml:"caseSensitive" json:"caseSensitive"`
	} `yaml:"scrape" json:"scrape"`

	Classify struct {
		Enable         *bool         `yaml:"enable" json:"enable"`
		URL            string        `yaml:"url" json:"url"`
		Single         bool          `yaml:"single" json:"single"`
		Detailed       bool          `yaml:"detailed" json:"detailed"`
		FailClosed     bool          `yaml:"failClosed" json:"failClosed"`
		PollInterval   time.Duration `yaml:"pollInterval" json:"pollInterval"`
		MaxPolls       int           `yaml:"maxPolls" json:"maxPolls"`
		Timeout        time.Duration `yaml:"timeout" json:"timeout"`
		RequestTimeout time.Duration `yaml:"requestTimeout" json:"requestTimeout"`
		Attempts       int           `yaml:"attempts" json:"attempts"`
	} `yaml:"classify" json:"classify"`

	LLM struct {
		BaseURL  string `yaml:"base" json:"base"`
		Model    string `yaml:"model" json:"model"`
		APIKey   string `yaml:"key" json:"key"`
		Examples string `yaml:"examples" json:"examples"`
	} `yaml:"llm" json:"llm"`

	Annotate struct {
		Rematch bool   `yaml:"rematch" json:"rematch"`
		Tooltip string `yaml:"tooltip" json:"tooltip"`
	} `yaml:"annotate" json:"annotate"`

	Watch   bool   `yaml:"watch" json:"watch"`
	UA      string `yaml:"userAgent" json:"userAgent"`
	Verbose bool   `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields that
// are currently unset or still at their flag default. Flags should already
// have been parsed; file config supplies defaults while explicit flags win.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	str := func(dst *string, def, v string) {
		if (*dst == "" || *dst == def) && v != "" {
			*dst = v
		}
	}
	flag := func(dst *bool, v bool) {
		if !*dst && v {
			*dst = true
		}
	}

	str(&cfg.InputPath, "", fc.Input)
	str(&cfg.URL, "", fc.URL)
	str(&cfg.ReportPath, "-", fc.Report)
	str(&cfg.AnnotatedPath, "", fc.Annotated)
	str(&cfg.CatalogPath, "", fc.Catalog)
	str(&cfg.ExportDir, "", fc.Export.Dir)
	flag(&cfg.ExportPDF, fc.Export.PDF)

	str(&cfg.Mode, defaultMode, fc.Scrape.Mode)
	if cfg.MinChars == 0 && fc.Scrape.MinChars != 0 {
		cfg.MinChars = fc.Scrape.MinChars
	}
	if (cfg.MaxItems == 0 || cfg.MaxItems == defaultMaxItems) && fc.Scrape.MaxItems > 0 {
		cfg.MaxItems = fc.Scrape.MaxItems
	}
	flag(&cfg.CaseSensitive, fc.Scrape.CaseSensitive)

	if fc.Classify.Enable != nil {
		cfg.Classify = *fc.Classify.Enable
	}
	str(&cfg.ServiceURL, defaultServiceURL, fc.Classify.URL)
	flag(&cfg.SingleMode, fc.Classify.Single)
	flag(&cfg.Detailed, fc.Classify.Detailed)
	flag(&cfg.FailClosed, fc.Classify.FailClosed)
	if cfg.PollInterval == 0 && fc.Classify.PollInterval > 0 {
		cfg.PollInterval = fc.Classify.PollInterval
	}
	if cfg.MaxPolls == 0 && fc.Classify.MaxPolls > 0 {
		cfg.MaxPolls = fc.Classify.MaxPolls
	}
	if (cfg.ClassifyTimeout == 0 || cfg.ClassifyTimeout == defaultClassifyTimeout) && fc.Classify.Timeout > 0 {
		cfg.ClassifyTimeout = fc.Classify.Timeout
	}
	if cfg.RequestTimeout == 0 && fc.Classify.RequestTimeout > 0 {
		cfg.RequestTimeout = fc.Classify.RequestTimeout
	}
	if cfg.MaxAttempts == 0 && fc.Classify.Attempts > 0 {
		cfg.MaxAttempts = fc.Classify.Attempts
	}

	str(&cfg.LLMBaseURL, "", fc.LLM.BaseURL)
	str(&cfg.LLMModel, "", fc.LLM.Model)
	str(&cfg.LLMAPIKey, "", fc.LLM.APIKey)
	str(&cfg.ExamplesPath, "", fc.LLM.Examples)

	flag(&cfg.Rematch, fc.Annotate.Rematch)
	str(&cfg.Tooltip, "", fc.Annotate.Tooltip)
	flag(&cfg.Watch, fc.Watch)
	str(&cfg.UserAgent, defaultUserAgent, fc.UA)
	flag(&cfg.Verbose, fc.Verbose)
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.InputPath) == "" && strings.TrimSpace(cfg.URL) == "" {
		return errors.New("config: an input file or a URL is required")
	}
	if cfg.Watch && strings.TrimSpace(cfg.InputPath) == "" {
		return errors.New("config: watch needs an input file")
	}
	switch dedup.Mode(cfg.Mode) {
	case "", dedup.ModeStandard, dedup.ModeCompact:
	default:
		return fmt.Errorf("config: unknown scrape mode %q", cfg.Mode)
	}
	if cfg.MaxItems < 0 || cfg.MaxPolls < 0 || cfg.MaxAttempts < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	if cfg.Classify && !cfg.SingleMode && strings.TrimSpace(cfg.ServiceURL) == "" {
		return errors.New("config: classify.url is required for batch classification")
	}
	if cfg.Classify && cfg.SingleMode && strings.TrimSpace(cfg.ServiceURL) == "" && strings.TrimSpace(cfg.LLMModel) == "" {
		return errors.New("config: single mode needs classify.url or llm.model")
	}
	return nil
}
