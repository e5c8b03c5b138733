// Package config builds the immutable run configuration from the
// environment. The CLI applies flag overrides to a copy before Validate.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"glossa/internal/appdirs"
	"glossa/internal/envutil"
	"glossa/internal/errinfo"
	"glossa/internal/prompt"
	"glossa/internal/retry"
	"glossa/internal/tokens"
)

type APIConfig struct {
	Key           string
	BaseURL       string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	AllowInsecure bool
}

type ChunkingConfig struct {
	MaxTokens      int
	Margin         int
	MinTokens      int
	EstimatorCache int
}

type RetryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Factor      float64
	Jitter      float64
}

type AnnotateConfig struct {
	Genre         string
	ChunkAttempts int
	ShrinkAfter   int
	ShrinkFactors []float64
	ArchiveFailed bool
	Resume        bool
	KeepCache     bool
}

type VocabConfig struct {
	Limit       int
	PromptTerms int
}

type Config struct {
	API      APIConfig
	Chunking ChunkingConfig
	Retry    RetryConfig
	Annotate AnnotateConfig
	Vocab    VocabConfig
	DataDir  string
	Debug    bool
}

func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4.1-mini",
			Temperature: 0.3,
			Timeout:     180 * time.Second,
		},
		Chunking: ChunkingConfig{
			MaxTokens:      1800,
			Margin:         300,
			MinTokens:      200,
			EstimatorCache: tokens.DefaultCacheSize,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BackoffBase: 2 * time.Second,
			BackoffMax:  30 * time.Second,
			Factor:      2,
			Jitter:      0.25,
		},
		Annotate: AnnotateConfig{
			Genre:         "general",
			ChunkAttempts: 3,
			ShrinkAfter:   3,
			ShrinkFactors: []float64{0.5, 0.33, 0.25},
			ArchiveFailed: true,
			Resume:        true,
		},
		Vocab: VocabConfig{
			Limit:       300,
			PromptTerms: 80,
		},
	}
}

// FromEnv reads every GLOSSA_* variable over the defaults. All malformed
// values are reported together.
func FromEnv() (Config, error) {
	cfg := Defaults()
	var errs []error
	intVar := func(key string, dst *int) {
		v, err := envutil.Int(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	floatVar := func(key string, dst *float64) {
		v, err := envutil.Float(key, *dst)
		errs = append(errs, err)
		*dst = v
	}
	durationVar := func(key string, dst *time.Duration) {
		v, err := envutil.Duration(key, *dst)
		errs = append(errs, err)
		*dst = v
	}

	cfg.API.Key = envutil.String("GLOSSA_API_KEY", "")
	cfg.API.BaseURL = envutil.String("GLOSSA_BASE_URL", cfg.API.BaseURL)
	cfg.API.Model = envutil.String("GLOSSA_MODEL", cfg.API.Model)
	floatVar("GLOSSA_TEMPERATURE", &cfg.API.Temperature)
	durationVar("GLOSSA_REQUEST_TIMEOUT", &cfg.API.Timeout)
	cfg.API.AllowInsecure = envutil.BoolDefault("GLOSSA_ALLOW_INSECURE_ENDPOINT", false)

	intVar("GLOSSA_CHUNK_TOKENS", &cfg.Chunking.MaxTokens)
	intVar("GLOSSA_TOKEN_MARGIN", &cfg.Chunking.Margin)
	intVar("GLOSSA_MIN_CHUNK_TOKENS", &cfg.Chunking.MinTokens)
	intVar("GLOSSA_ESTIMATOR_CACHE", &cfg.Chunking.EstimatorCache)

	intVar("GLOSSA_MAX_RETRIES", &cfg.Retry.MaxAttempts)
	durationVar("GLOSSA_BACKOFF_BASE", &cfg.Retry.BackoffBase)
	durationVar("GLOSSA_BACKOFF_MAX", &cfg.Retry.BackoffMax)
	floatVar("GLOSSA_BACKOFF_FACTOR", &cfg.Retry.Factor)
	floatVar("GLOSSA_BACKOFF_JITTER", &cfg.Retry.Jitter)

	cfg.Annotate.Genre = envutil.String("GLOSSA_GENRE", cfg.Annotate.Genre)
	intVar("GLOSSA_CHUNK_ATTEMPTS", &cfg.Annotate.ChunkAttempts)
	intVar("GLOSSA_SHRINK_AFTER", &cfg.Annotate.ShrinkAfter)
	factors, err := envutil.Floats("GLOSSA_SHRINK_FACTORS", cfg.Annotate.ShrinkFactors)
	errs = append(errs, err)
	cfg.Annotate.ShrinkFactors = factors
	cfg.Annotate.ArchiveFailed = envutil.BoolDefault("GLOSSA_ARCHIVE_FAILED", true)

	intVar("GLOSSA_VOCAB_LIMIT", &cfg.Vocab.Limit)
	intVar("GLOSSA_VOCAB_PROMPT", &cfg.Vocab.PromptTerms)

	cfg.Debug = envutil.BoolDefault("GLOSSA_DEBUG", false)
	dataDir, err := appdirs.DataDir()
	errs = append(errs, err)
	cfg.DataDir = dataDir

	return cfg, errors.Join(errs...)
}

// Validate checks ranges and cross-field constraints. The API key is
// checked separately by commands that call the model.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	parsed, err := url.Parse(c.API.BaseURL)
	check(err == nil && parsed.Hostname() != "" && (parsed.Scheme == "https" || parsed.Scheme == "http"),
		"base url %q must be an absolute http(s) url", c.API.BaseURL)
	check(err != nil || parsed.Scheme == "https" || c.API.AllowInsecure,
		"base url %q must use https unless GLOSSA_ALLOW_INSECURE_ENDPOINT is set", c.API.BaseURL)
	check(strings.TrimSpace(c.API.Model) != "", "model must not be empty")
	check(c.API.Temperature >= 0 && c.API.Temperature <= 2, "temperature %v must be within [0, 2]", c.API.Temperature)
	check(c.API.Timeout > 0, "request timeout must be positive")

	check(c.Chunking.MaxTokens > 0, "chunk tokens %d must be positive", c.Chunking.MaxTokens)
	check(c.Chunking.Margin >= 0, "token margin %d must not be negative", c.Chunking.Margin)
	check(c.Chunking.MinTokens > 0, "min chunk tokens %d must be positive", c.Chunking.MinTokens)
	check(c.Chunking.EstimatorCache >= tokens.MinCacheSize, "estimator cache %d must be at least %d", c.Chunking.EstimatorCache, tokens.MinCacheSize)

	check(c.Retry.MaxAttempts >= 1, "max retries %d must be at least 1", c.Retry.MaxAttempts)
	check(c.Retry.BackoffBase >= 0 && c.Retry.BackoffMax >= c.Retry.BackoffBase, "backoff base must be within [0, backoff max]")
	check(c.Retry.Factor >= 1, "backoff factor %v must be at least 1", c.Retry.Factor)
	check(c.Retry.Jitter >= 0 && c.Retry.Jitter <= 1, "backoff jitter %v must be within [0, 1]", c.Retry.Jitter)

	check(prompt.KnownGenre(c.Annotate.Genre), "unknown genre %q", c.Annotate.Genre)
	check(c.Annotate.ChunkAttempts >= 1, "chunk attempts %d must be at least 1", c.Annotate.ChunkAttempts)
	check(c.Annotate.ShrinkAfter >= 1, "shrink after %d must be at least 1", c.Annotate.ShrinkAfter)
	check(c.Annotate.ShrinkAfter <= c.Annotate.ChunkAttempts, "shrink after %d must not exceed chunk attempts %d", c.Annotate.ShrinkAfter, c.Annotate.ChunkAttempts)
	for _, f := range c.Annotate.ShrinkFactors {
		check(f > 0 && f < 1, "shrink factor %v must be within (0, 1)", f)
	}

	check(c.Vocab.Limit >= 1, "vocabulary limit %d must be at least 1", c.Vocab.Limit)
	check(c.Vocab.PromptTerms >= 0 && c.Vocab.PromptTerms <= c.Vocab.Limit,
		"vocabulary prompt terms %d must be within [0, limit]", c.Vocab.PromptTerms)
	check(strings.TrimSpace(c.DataDir) != "", "data directory must be set")
	if len(errs) == 0 {
		return nil
	}
	return errinfo.ConfigInvalid(errors.Join(errs...).Error())
}

// RequireAPIKey is checked only by commands that reach the model.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.API.Key) == "" {
		return errinfo.ProviderNotConfigured(errinfo.PhaseConfig)
	}
	return nil
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Base:        c.Retry.BackoffBase,
		Max:         c.Retry.BackoffMax,
		Factor:      c.Retry.Factor,
		Jitter:      c.Retry.Jitter,
	}
}

// Fields flattens the configuration for logging. Pass the result through
// logging.RedactAny before writing it.
func (c Config) Fields() map[string]any {
	return map[string]any{
		"api_key":                 c.API.Key,
		"base_url":                c.API.BaseURL,
		"model":                   c.API.Model,
		"temperature":             c.API.Temperature,
		"request_timeout":         c.API.Timeout.String(),
		"chunk_tokens":            c.Chunking.MaxTokens,
		"token_margin":            c.Chunking.Margin,
		"min_chunk_tokens":        c.Chunking.MinTokens,
		"max_retries":             c.Retry.MaxAttempts,
		"chunk_attempts":          c.Annotate.ChunkAttempts,
		"shrink_after":            c.Annotate.ShrinkAfter,
		"shrink_factors":          c.Annotate.ShrinkFactors,
		"genre":                   c.Annotate.Genre,
		"vocab_limit":             c.Vocab.Limit,
		"data_dir":                c.DataDir,
		"allow_insecure_endpoint": c.API.AllowInsecure,
	}
}
