package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gomoderate/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Real environment wins over dotenv files.
	if err := app.LoadEnvFiles(false, ".env", os.Getenv("GOMODERATE_ENV_FILE")); err != nil {
		log.Warn().Err(err).Msg("dotenv not loaded")
	}

	cfg, showVersion, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("configuration")
		os.Exit(2)
	}
	if showVersion {
		fmt.Println(app.VersionString())
		return
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		stop()
		os.Exit(1)
	}
}

// loadConfig builds the run configuration from args, the environment and
// an optional config file. Explicit flags win over environment, which wins
// over the file; built-in defaults are filled later by app.New.
func loadConfig(args []string) (app.Config, bool, error) {
	fs := flag.NewFlagSet("gomoderate", flag.ContinueOnError)
	var (
		cfg         app.Config
		configPath  string
		showVersion bool
	)
	fs.StringVar(&configPath, "config", os.Getenv("GOMODERATE_CONFIG"), "YAML or JSON config file")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")

	fs.StringVar(&cfg.InputPath, "input", "", "Path to a saved HTML page")
	fs.StringVar(&cfg.URL, "url", "", "Page URL; fetched when -input is empty, otherwise used for platform detection")
	fs.StringVar(&cfg.ReportPath, "report", "-", "Path for the JSON run report (- for stdout)")
	fs.StringVar(&cfg.AnnotatedPath, "annotated", "", "Path for the redacted HTML document")
	fs.StringVar(&cfg.ExportDir, "export.dir", "", "Directory for plain-text exports of the scraped items")
	fs.BoolVar(&cfg.ExportPDF, "export.pdf", false, "Also export the scraped items as PDF")
	fs.StringVar(&cfg.CatalogPath, "catalog", os.Getenv("PLATFORM_CATALOG"), "YAML platform catalog taking precedence over the built-in profiles")

	// Zero defaults below leave room for SCRAPE_MODE, MAX_ITEMS and
	// CLASSIFY_TIMEOUT; app.New fills whatever is still unset.
	fs.StringVar(&cfg.Mode, "scrape.mode", "", "Extraction mode: standard or compact (default standard)")
	fs.IntVar(&cfg.MinChars, "scrape.minChars", 0, "Minimum characters per item (0 uses the mode default)")
	fs.IntVar(&cfg.MaxItems, "scrape.maxItems", 0, "Maximum items per batch (default 50)")
	fs.BoolVar(&cfg.CaseSensitive, "scrape.caseSensitive", false, "Deduplicate items case-sensitively")

	fs.BoolVar(&cfg.Classify, "classify", false, "Send the scraped items for classification")
	fs.StringVar(&cfg.ServiceURL, "classify.url", firstEnv("MODERATION_URL", "RAG_API_URL"), "Moderation service base URL")
	fs.BoolVar(&cfg.SingleMode, "classify.single", false, "Classify items one at a time instead of as a batch")
	fs.BoolVar(&cfg.Detailed, "classify.detailed", false, "Fetch each result individually after the batch completes")
	fs.BoolVar(&cfg.FailClosed, "classify.failClosed", false, "Treat items as flagged when classification fails")
	fs.DurationVar(&cfg.PollInterval, "classify.pollInterval", 0, "Delay between result polls (0 uses the client default)")
	fs.IntVar(&cfg.MaxPolls, "classify.maxPolls", 0, "Maximum result polls (0 uses the client default)")
	fs.DurationVar(&cfg.ClassifyTimeout, "classify.timeout", 0, "Overall wait for classification results (default 2m)")
	fs.DurationVar(&cfg.RequestTimeout, "classify.requestTimeout", 0, "Per-request timeout for the moderation service")
	fs.IntVar(&cfg.MaxAttempts, "classify.attempts", 0, "Attempts per moderation request (0 means 3)")
	fs.IntVar(&cfg.DetailConcurrency, "classify.concurrency", 0, "Concurrent detail requests (0 means 4)")

	fs.StringVar(&cfg.LLMBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL for single mode")
	fs.StringVar(&cfg.LLMModel, "llm.model", os.Getenv("LLM_MODEL"), "Model name; enables the LLM classifier in single mode")
	fs.StringVar(&cfg.LLMAPIKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for OpenAI-compatible server")
	fs.StringVar(&cfg.ExamplesPath, "llm.examples", os.Getenv("MODERATION_EXAMPLES"), "YAML or JSON file of labelled reference texts")

	fs.BoolVar(&cfg.Rematch, "annotate.rematch", false, "Redact matching text that appears after classification")
	fs.StringVar(&cfg.Tooltip, "annotate.tooltip", "", "Tooltip shown on redacted text")
	fs.BoolVar(&cfg.Watch, "watch", false, "Keep following -input and refresh -annotated on change")
	fs.StringVar(&cfg.UserAgent, "ua", os.Getenv("USER_AGENT"), "User-Agent for outgoing requests")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	if showVersion {
		return cfg, true, nil
	}

	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return cfg, false, fmt.Errorf("config file %s: %w", configPath, err)
		}
		app.ApplyFileConfig(&cfg, fc)
		app.ApplyEnvOverrides(&cfg)
		// Parse again so explicit flags win over file and env.
		if err := fs.Parse(args); err != nil {
			return cfg, false, err
		}
	}
	app.ApplyEnvToConfig(&cfg)
	return cfg, false, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, cfg app.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}
