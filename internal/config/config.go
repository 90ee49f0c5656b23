package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/filingsum/internal/llm"
	"github.com/dgallion1/filingsum/internal/ratelimit"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Completion service
	LLMProvider          string
	GroqAPIKey           string
	GroqModel            string
	GroqBaseURL          string
	AnthropicAPIKey      string
	AnthropicModel       string
	LLMRequestsPerSecond float64
	LLMMaxOutputTokens   int

	// Token budget
	TokensPerMinute     int
	MaxTokensPerRequest int
	ReservedTokens      int
	RateWindow          time.Duration
	TokenizerPath       string

	// Form table override
	FormsPath string

	// Result cache
	DBPath string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL          time.Duration
	AnalysisTimeout time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

// Load reads the environment, after merging a .env file from the working
// directory if one exists. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("FILINGSUM_API_KEY"),

		LLMProvider:          strings.ToLower(envOr("LLM_PROVIDER", "groq")),
		GroqAPIKey:           os.Getenv("GROQ_API_KEY"),
		GroqModel:            envOr("GROQ_MODEL", "llama3-8b-8192"),
		GroqBaseURL:          envOr("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:       envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		LLMRequestsPerSecond: envFloat("LLM_REQUESTS_PER_SECOND", 2),
		LLMMaxOutputTokens:   envInt("LLM_MAX_OUTPUT_TOKENS", 1024),

		TokensPerMinute:     envInt("TOKENS_PER_MINUTE", 6000),
		MaxTokensPerRequest: envInt("MAX_TOKENS_PER_REQUEST", 4000),
		ReservedTokens:      envInt("RESERVED_TOKENS", 1000),
		RateWindow:          envDuration("RATE_WINDOW", time.Minute),
		TokenizerPath:       os.Getenv("TOKENIZER_PATH"),

		FormsPath: os.Getenv("FORMS_PATH"),

		DBPath: envOr("DB_PATH", "filingsum.db"),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL:          envDuration("JOB_TTL", 1*time.Hour),
		AnalysisTimeout: envDuration("ANALYSIS_TIMEOUT", 30*time.Minute),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.LLMRequestsPerSecond <= 0 {
		cfg.LLMRequestsPerSecond = 2
	}
	if cfg.LLMMaxOutputTokens <= 0 {
		cfg.LLMMaxOutputTokens = 1024
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = 6000
	}
	if cfg.MaxTokensPerRequest <= 0 {
		cfg.MaxTokensPerRequest = 4000
	}
	if cfg.ReservedTokens < 0 {
		cfg.ReservedTokens = 1000
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 30 * time.Minute
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("FILINGSUM_API_KEY is required")
	}
	if err := c.ValidateLLM(); err != nil {
		return err
	}
	return c.ValidateBudget()
}

// ValidateLLM checks the completion provider settings.
func (c Config) ValidateLLM() error {
	switch c.LLMProvider {
	case "groq", "openai":
		if c.GroqAPIKey == "" {
			return fmt.Errorf("GROQ_API_KEY is required for LLM_PROVIDER=%s", c.LLMProvider)
		}
	case "claude", "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for LLM_PROVIDER=%s", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	return nil
}

// ValidateBudget checks reserved < max per request <= tokens per minute, so
// every chunk the chunker produces can eventually be admitted.
func (c Config) ValidateBudget() error {
	if c.ReservedTokens >= c.MaxTokensPerRequest {
		return fmt.Errorf("RESERVED_TOKENS (%d) must be below MAX_TOKENS_PER_REQUEST (%d)", c.ReservedTokens, c.MaxTokensPerRequest)
	}
	if c.MaxTokensPerRequest > c.TokensPerMinute {
		return fmt.Errorf("MAX_TOKENS_PER_REQUEST (%d) must not exceed TOKENS_PER_MINUTE (%d)", c.MaxTokensPerRequest, c.TokensPerMinute)
	}
	return nil
}

// RateLimit returns the limiter settings.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		TokensPerMinute:     c.TokensPerMinute,
		MaxTokensPerRequest: c.MaxTokensPerRequest,
		ReservedTokens:      c.ReservedTokens,
		Window:              c.RateWindow,
	}
}

// LLMCredentials returns the API key and model for the selected provider.
func (c Config) LLMCredentials() (apiKey, model string) {
	switch c.LLMProvider {
	case "claude", "anthropic":
		return c.AnthropicAPIKey, c.AnthropicModel
	default:
		return c.GroqAPIKey, c.GroqModel
	}
}

// LLMOptions returns the client settings for the selected provider. The
// base URL override only applies to OpenAI-compatible providers.
func (c Config) LLMOptions() llm.Options {
	opts := llm.Options{
		RequestsPerSecond: c.LLMRequestsPerSecond,
		MaxTokens:         c.LLMMaxOutputTokens,
	}
	switch c.LLMProvider {
	case "groq", "openai":
		opts.BaseURL = c.GroqBaseURL
	}
	return opts
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
