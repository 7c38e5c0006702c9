// Package config reads all service settings from environment variables:
// the HTTP server, the database, the ingestion pipeline and its storage,
// classifier and event queue backends, and tracing.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed on the app API; empty allows all.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls response hardening headers.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig configures trace export over OTLP/gRPC.
type OTELConfig struct {
	Enabled     bool
	Endpoint    string // host:port of the collector
	Insecure    bool   // plaintext gRPC
	ServiceName string
	SampleRatio float64 // parent-based ratio in [0,1]
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	DSN    string // DB_DSN: file path for sqlite, URL/DSN for postgres
}

// StorageConfig selects the object store and its buckets.
type StorageConfig struct {
	Backend           string // STORAGE_BACKEND: db|s3
	AttachmentsBucket string // ATTACHMENTS_BUCKET
	PendingBucket     string // PENDING_EMAILS_BUCKET
}

// ClassifierConfig selects and tunes the document classifier.
type ClassifierConfig struct {
	Backend        string        // CLASSIFIER_BACKEND: bedrock|openai|none
	BedrockModelID string        // BEDROCK_MODEL_ID
	OpenAIModel    string        // OPENAI_MODEL
	OpenAIAPIKey   string        // OPENAI_API_KEY
	MinConfidence  float64       // MIN_CONFIDENCE in [0..1]
	Timeout        time.Duration // CLASSIFIER_TIMEOUT per attachment

	BreakerFailures uint32        // BREAKER_FAILURES consecutive failures to open
	BreakerTimeout  time.Duration // BREAKER_OPEN_TIMEOUT before half-open
}

// PipelineConfig tunes inbound email processing.
type PipelineConfig struct {
	InboundDomain         string        // INBOUND_EMAIL_DOMAIN, pets' address domain
	WebhookSecret         string        // WEBHOOK_SECRET, shared secret header (optional)
	MaxBodyBytes          int64         // MAX_WEBHOOK_BYTES
	AttachmentParallelism int           // ATTACHMENT_PARALLELISM
	StaleThreshold        time.Duration // STALE_LOCK_THRESHOLD
	StaleSweepSchedule    string        // STALE_SWEEP_SCHEDULE (cron spec)
	StaleSweepEnabled     bool          // STALE_SWEEP_ENABLED
	SQSQueueURL           string        // EVENTS_QUEUE_URL (optional)
}

// Config is the full runtime configuration of the HTTP service, the Lambda
// handler and the petmail CLI.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration // large enough for slow webhook uploads
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string

	// Logging / routing
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for app API routes

	// Auth
	JWTSecret string // HS256 secret for app API bearer tokens; empty = trust X-User-ID (dev only)

	DB         DatabaseConfig
	Storage    StorageConfig
	Classifier ClassifierConfig
	Pipeline   PipelineConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main packages: it panics on invalid configuration.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load builds a Config from the environment. Unset or unparsable variables
// take their defaults; the result is normalized and then validated.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / routing
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		JWTSecret: getenv("JWT_SECRET", ""),

		DB: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", "app.db"),
		},
		Storage: StorageConfig{
			Backend:           strings.ToLower(getenv("STORAGE_BACKEND", "db")),
			AttachmentsBucket: getenv("ATTACHMENTS_BUCKET", "pet-documents"),
			PendingBucket:     getenv("PENDING_EMAILS_BUCKET", "pet-pending-emails"),
		},
		Classifier: ClassifierConfig{
			Backend:         strings.ToLower(getenv("CLASSIFIER_BACKEND", "none")),
			BedrockModelID:  getenv("BEDROCK_MODEL_ID", ""),
			OpenAIModel:     getenv("OPENAI_MODEL", ""),
			OpenAIAPIKey:    getenv("OPENAI_API_KEY", ""),
			MinConfidence:   getfloat("MIN_CONFIDENCE", 0.5),
			Timeout:         getdur("CLASSIFIER_TIMEOUT", 45*time.Second),
			BreakerFailures: uint32(getint("BREAKER_FAILURES", 5)),
			BreakerTimeout:  getdur("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			InboundDomain:         strings.ToLower(getenv("INBOUND_EMAIL_DOMAIN", "pets.example.com")),
			WebhookSecret:         getenv("WEBHOOK_SECRET", ""),
			MaxBodyBytes:          int64(getint("MAX_WEBHOOK_BYTES", 30<<20)),
			AttachmentParallelism: getint("ATTACHMENT_PARALLELISM", 4),
			StaleThreshold:        getdur("STALE_LOCK_THRESHOLD", 5*time.Minute),
			StaleSweepSchedule:    getenv("STALE_SWEEP_SCHEDULE", "@every 1m"),
			StaleSweepEnabled:     getbool("STALE_SWEEP_ENABLED", true),
			SQSQueueURL:           getenv("EVENTS_QUEUE_URL", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "pet-mail-ingest"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}
	cfg.Pipeline.InboundDomain = strings.TrimPrefix(strings.TrimSpace(cfg.Pipeline.InboundDomain), "@")

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		return errors.New("DB_DSN must not be empty")
	}
	switch c.Storage.Backend {
	case "db", "s3":
	default:
		return errors.New("STORAGE_BACKEND must be one of: db, s3")
	}
	if strings.TrimSpace(c.Storage.AttachmentsBucket) == "" || strings.TrimSpace(c.Storage.PendingBucket) == "" {
		return errors.New("ATTACHMENTS_BUCKET and PENDING_EMAILS_BUCKET must not be empty")
	}
	switch c.Classifier.Backend {
	case "bedrock", "none":
	case "openai":
		if strings.TrimSpace(c.Classifier.OpenAIAPIKey) == "" {
			return errors.New("OPENAI_API_KEY is required when CLASSIFIER_BACKEND=openai")
		}
	default:
		return errors.New("CLASSIFIER_BACKEND must be one of: bedrock, openai, none")
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		return errors.New("MIN_CONFIDENCE must be between 0 and 1")
	}
	if c.Classifier.Timeout <= 0 || c.Classifier.BreakerTimeout <= 0 {
		return errors.New("CLASSIFIER_TIMEOUT and BREAKER_OPEN_TIMEOUT must be > 0")
	}
	if c.Classifier.BreakerFailures < 1 {
		return errors.New("BREAKER_FAILURES must be >= 1")
	}
	if c.Pipeline.InboundDomain == "" || strings.Contains(c.Pipeline.InboundDomain, "@") {
		return errors.New("INBOUND_EMAIL_DOMAIN must be a bare domain")
	}
	if c.Pipeline.MaxBodyBytes <= 0 {
		return errors.New("MAX_WEBHOOK_BYTES must be > 0")
	}
	if c.Pipeline.AttachmentParallelism < 1 {
		return errors.New("ATTACHMENT_PARALLELISM must be >= 1")
	}
	if c.Pipeline.StaleThreshold <= 0 {
		return errors.New("STALE_LOCK_THRESHOLD must be > 0")
	}
	if c.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if c.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if c.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return nil
}

// ---- env helpers ----

// envOr parses variable k, returning def when it is unset, empty, or does
// not parse.
func envOr[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return envOr(k, def, func(s string) (string, error) { return s, nil })
}

func getint(k string, def int) int { return envOr(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return envOr(k, def, time.ParseDuration) }

func getbool(k string, def bool) bool { return envOr(k, def, parseBool) }

func getfloat(k string, def float64) float64 {
	return envOr(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

var errNotBool = errors.New("not a boolean")

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, errNotBool
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath yields "/" or a path with one leading and no trailing slash.
func normalizeBasePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
