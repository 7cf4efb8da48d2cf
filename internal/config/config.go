// Package config centralizes how SettlementOps reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers understood by the repository wiring.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Document storage backends.
const (
	StorageLocal = "local"
	StorageMinIO = "minio"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config represents runtime configuration for the API server, the worker and
// the CLI. Zero values are never left in place: Load applies defaults first.
type Config struct {
	Address        string
	Env            string
	LogLevel       string
	MaxFileSize    int64
	UploadDir      string
	AllowedOrigins []string

	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string

	StorageBackend string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UseSSL       bool
	S3Region       string
	S3Bucket       string

	LLMProvider     string
	AnthropicAPIKey string
	GeminiAPIKey    string
	Model           string
	MaxTokens       int64
	ChatMaxTokens   int64

	AnalysisTimeout    time.Duration
	AnalysisStaleAfter time.Duration
	Workers            int
	QueueSize          int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

const (
	// 50 << 20 equals 50 * 2^20 bytes.
	defaultAddress         = ":8000"
	defaultEnv             = "production"
	defaultLogLevel        = "info"
	defaultMaxFileSize     = 50 << 20
	defaultUploadDir       = "uploads"
	defaultAllowedOrigins  = "*"
	defaultSQLitePath      = "settlement_ops.db"
	defaultS3Region        = "us-east-1"
	defaultS3Bucket        = "settlement-documents"
	defaultMaxTokens       = 16000
	defaultChatMaxTokens   = 4096
	defaultAnalysisTimeout = 5 * time.Minute
	defaultWorkerCount     = 2

	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultGeminiModel    = "gemini-1.5-flash"
)

// Load reads a .env file when one is present, then the process environment,
// falling back to defaults. The result is validated before it is returned.
func Load() (*Config, error) {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	cfg := &Config{
		Address:        readEnv("SETTLEMENTOPS_ADDRESS", defaultAddress),
		Env:            readEnv("SETTLEMENTOPS_ENV", defaultEnv),
		LogLevel:       readEnv("SETTLEMENTOPS_LOG_LEVEL", defaultLogLevel),
		MaxFileSize:    parseInt64("SETTLEMENTOPS_MAX_FILE_BYTES", defaultMaxFileSize),
		UploadDir:      readEnv("SETTLEMENTOPS_UPLOAD_DIR", defaultUploadDir),
		AllowedOrigins: parseList("SETTLEMENTOPS_ALLOWED_ORIGINS", defaultAllowedOrigins),

		DatabaseDriver: strings.ToLower(readEnv("SETTLEMENTOPS_DB_DRIVER", DriverSQLite)),
		DatabaseURL:    readEnv("DATABASE_URL", ""),
		SQLitePath:     readEnv("SETTLEMENTOPS_SQLITE_PATH", defaultSQLitePath),

		StorageBackend: strings.ToLower(readEnv("SETTLEMENTOPS_STORAGE", StorageLocal)),
		S3Endpoint:     readEnv("S3_ENDPOINT", ""),
		S3AccessKey:    readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    readEnv("S3_SECRET_KEY", ""),
		S3UseSSL:       parseBool("S3_USE_SSL", false),
		S3Region:       readEnv("S3_REGION", defaultS3Region),
		S3Bucket:       readEnv("S3_BUCKET", defaultS3Bucket),

		LLMProvider:     strings.ToLower(readEnv("SETTLEMENTOPS_LLM_PROVIDER", ProviderAnthropic)),
		AnthropicAPIKey: readEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    readEnv("GEMINI_API_KEY", ""),
		Model:           readEnv("SETTLEMENTOPS_MODEL", ""),
		MaxTokens:       parseInt64("SETTLEMENTOPS_MAX_TOKENS", defaultMaxTokens),
		ChatMaxTokens:   parseInt64("SETTLEMENTOPS_CHAT_MAX_TOKENS", defaultChatMaxTokens),

		AnalysisTimeout: parseDuration("SETTLEMENTOPS_ANALYSIS_TIMEOUT", defaultAnalysisTimeout),
		Workers:         parseInt("SETTLEMENTOPS_WORKERS", defaultWorkerCount),

		RedisAddr:     readEnv("REDIS_ADDR", ""),
		RedisPassword: readEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt("REDIS_DB", 0),
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	// The queue holds a few jobs per worker so bursts of analyze calls are
	// absorbed without blocking request handlers.
	cfg.QueueSize = parseInt("SETTLEMENTOPS_QUEUE_SIZE", cfg.Workers*4)
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.ChatMaxTokens <= 0 {
		cfg.ChatMaxTokens = defaultChatMaxTokens
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = defaultAnalysisTimeout
	}
	cfg.AnalysisStaleAfter = parseDuration("SETTLEMENTOPS_ANALYSIS_STALE_AFTER", cfg.AnalysisTimeout+time.Minute)
	if cfg.AnalysisStaleAfter <= cfg.AnalysisTimeout {
		cfg.AnalysisStaleAfter = cfg.AnalysisTimeout + time.Minute
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel(cfg.LLMProvider)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SETTLEMENTOPS_SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DatabaseDriver))
	}
	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			errs = append(errs, errors.New("SETTLEMENTOPS_UPLOAD_DIR is required for local storage"))
		}
	case StorageMinIO:
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_ENDPOINT and S3_BUCKET are required for minio storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}
	switch c.LLMProvider {
	case ProviderAnthropic, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLMProvider))
	}
	return errors.Join(errs...)
}

// QueueEnabled reports whether analyze requests may be handed to the Redis
// backed task queue.
func (c *Config) QueueEnabled() bool {
	return c.RedisAddr != ""
}

// Development reports whether human-readable logs were requested.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development") || strings.EqualFold(c.Env, "dev")
}

func defaultModel(provider string) string {
	if provider == ProviderGemini {
		return DefaultGeminiModel
	}
	return DefaultAnthropicModel
}

func readEnv(key, def string) string {
	// LookupEnv returns (value, true) when the variable is present.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	// Invalid input falls back to the default rather than failing startup.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
