package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.ServiceURL, "MODERATION_URL", "RAG_API_URL")
	setString(&cfg.CatalogPath, "PLATFORM_CATALOG")
	setString(&cfg.Mode, "SCRAPE_MODE")
	setString(&cfg.LLMBaseURL, "LLM_BASE_URL")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.LLMAPIKey, "LLM_API_KEY")
	setString(&cfg.ExamplesPath, "MODERATION_EXAMPLES")
	setString(&cfg.UserAgent, "USER_AGENT")

	if cfg.MaxItems == 0 {
		if n, ok := envInt("MAX_ITEMS"); ok {
			cfg.MaxItems = n
		}
	}
	if cfg.MinChars == 0 {
		if n, ok := envInt("MIN_CHARS"); ok {
			cfg.MinChars = n
		}
	}
	if cfg.ClassifyTimeout == 0 {
		if d, ok := envDuration("CLASSIFY_TIMEOUT"); ok {
			cfg.ClassifyTimeout = d
		}
	}

	setBool := func(dst *bool, envKey string) {
		if *dst {
			return
		}
		if v, ok := envBool(envKey); ok && v {
			*dst = true
		}
	}
	setBool(&cfg.FailClosed, "FAIL_CLOSED")
	setBool(&cfg.Rematch, "REMATCH")
	setBool(&cfg.CaseSensitive, "DEDUP_CASE_SENSITIVE")
	setBool(&cfg.Verbose, "VERBOSE")
}

// ApplyEnvOverrides forcefully overrides cfg fields with environment variables
// when the corresponding env vars are set. This is used to let env take
// precedence over values coming from a config file while still allowing flags
// to remain highest precedence.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	override := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
			}
		}
	}
	override(&cfg.ServiceURL, "RAG_API_URL", "MODERATION_URL")
	override(&cfg.CatalogPath, "PLATFORM_CATALOG")
	override(&cfg.Mode, "SCRAPE_MODE")
	override(&cfg.LLMBaseURL, "LLM_BASE_URL")
	override(&cfg.LLMModel, "LLM_MODEL")
	override(&cfg.LLMAPIKey, "LLM_API_KEY")
	override(&cfg.ExamplesPath, "MODERATION_EXAMPLES")
	override(&cfg.UserAgent, "USER_AGENT")

	if n, ok := envInt("MAX_ITEMS"); ok {
		cfg.MaxItems = n
	}
	if n, ok := envInt("MIN_CHARS"); ok {
		cfg.MinChars = n
	}
	if d, ok := envDuration("CLASSIFY_TIMEOUT"); ok {
		cfg.ClassifyTimeout = d
	}

	// Booleans override when env present and truthy/falsey
	setBool := func(dst *bool, envKey string) {
		if v, ok := envBool(envKey); ok {
			*dst = v
		}
	}
	setBool(&cfg.FailClosed, "FAIL_CLOSED")
	setBool(&cfg.Rematch, "REMATCH")
	setBool(&cfg.CaseSensitive, "DEDUP_CASE_SENSITIVE")
	setBool(&cfg.Verbose, "VERBOSE")
}

func envInt(key string) (int, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

func envDuration(key string) (time.Duration, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	return d, err == nil
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
