// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
	HSTSEnabled        bool

	RewardsBaseURL        string
	RewardsBrandID        string
	RewardsAppendLocation bool
	RewardsUseV3          bool
	RewardsTimeout        time.Duration

	RetryBase          time.Duration
	RetryMaxAttempts   int
	RetryJitterPercent float64

	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	BagTTL           time.Duration
	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	IdempotencyTTL   time.Duration

	PricingTaxRateBPS int
	CurrencyCode      string

	RateLimitStrategy    string
	PromoRateLimitMax    int
	PromoRateLimitWindow time.Duration

	QueueName        string
	QueueConcurrency int
	AuditEnabled     bool
	MigrateOnStart   bool
	WorkerOpsAddr    string

	ReadyRedisTimeout time.Duration
	ReadyDBTimeout    time.Duration
	ShutdownTimeout   time.Duration

	Obs Obs
}

// Obs groups logging, metrics, tracing and profiling switches.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string
}

// Load reads the environment, layered over .env when present. Every
// malformed or missing required value is reported in one joined error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	src := &source{k: k}

	cfg := &Config{
		AppEnv:             src.str("APP_ENV", "development"),
		Port:               src.str("PORT", "8080"),
		DatabaseURL:        src.str("DATABASE_URL", ""),
		RedisURL:           src.required("REDIS_URL"),
		JWTSecret:          src.required("JWT_SECRET"),
		JWTIssuer:          src.str("JWT_ISSUER", ""),
		JWTAudience:        src.str("JWT_AUDIENCE", ""),
		CORSAllowedOrigins: src.list("CORS_ALLOWED_ORIGINS"),
		MaxBodyBytes:       int64(src.integer("MAX_BODY_BYTES", 64<<10)),
		HSTSEnabled:        src.flag("SECURE_HSTS_ENABLED", false),

		RewardsBaseURL:        strings.TrimRight(src.required("REWARDS_BASE_URL"), "/"),
		RewardsBrandID:        src.str("REWARDS_BRAND_ID", ""),
		RewardsAppendLocation: src.flag("REWARDS_APPEND_LOCATION", false),
		RewardsUseV3:          src.flag("REWARDS_USE_V3", false),
		RewardsTimeout:        src.duration("REWARDS_TIMEOUT", 5*time.Second),

		RetryBase:          src.duration("RETRY_BASE", 200*time.Millisecond),
		RetryMaxAttempts:   src.integer("RETRY_MAX_ATTEMPTS", 3),
		RetryJitterPercent: src.number("RETRY_JITTER_PERCENT", 0.2),

		CircuitMinRequests:  src.integer("CIRCUIT_MIN_REQUESTS", 10),
		CircuitFailureRatio: src.number("CIRCUIT_FAILURE_RATIO", 0.5),
		CircuitOpenFor:      src.duration("CIRCUIT_OPEN_FOR", 30*time.Second),

		BagTTL:           src.duration("BAG_TTL", 7*24*time.Hour),
		LockTTL:          src.duration("LOCK_TTL", 10*time.Second),
		LockRetryBackoff: src.duration("LOCK_RETRY_BACKOFF", 50*time.Millisecond),
		IdempotencyTTL:   src.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		PricingTaxRateBPS: src.integer("PRICING_TAX_RATE_BPS", 0),
		CurrencyCode:      strings.ToUpper(src.str("CURRENCY_CODE", "USD")),

		RateLimitStrategy:    strings.ToLower(src.str("RATE_LIMIT_STRATEGY", "sliding")),
		PromoRateLimitMax:    src.integer("PROMO_RATE_LIMIT_MAX", 10),
		PromoRateLimitWindow: src.duration("PROMO_RATE_LIMIT_WINDOW", time.Minute),

		QueueName:        src.str("QUEUE_NAME", "rewards"),
		QueueConcurrency: src.integer("QUEUE_CONCURRENCY", 5),
		AuditEnabled:     src.flag("AUDIT_ENABLED", true),
		MigrateOnStart:   src.flag("DB_MIGRATE_ON_START", true),
		WorkerOpsAddr:    src.str("WORKER_OPS_ADDR", ""),

		ReadyRedisTimeout: src.duration("HEALTH_READY_REDIS_TIMEOUT", 300*time.Millisecond),
		ReadyDBTimeout:    src.duration("HEALTH_READY_DB_TIMEOUT", 500*time.Millisecond),
		ShutdownTimeout:   src.duration("SHUTDOWN_TIMEOUT", 15*time.Second),

		Obs: Obs{
			LogFormat:        src.str("OBS_LOG_FORMAT", "json"),
			LogLevel:         src.str("OBS_LOG_LEVEL", "info"),
			MetricsEnabled:   src.flag("OBS_ENABLE_PROMETHEUS", true),
			MetricsNamespace: src.str("OBS_METRICS_NAMESPACE", "rewards"),
			MetricsBuckets:   src.str("OBS_METRICS_BUCKETS_MS", ""),
			TracingEnabled:   src.flag("OBS_ENABLE_TRACING", true),
			TracingExporter:  src.str("OBS_TRACING_EXPORTER", "otlp"),
			OTLPEndpoint:     src.str("OBS_OTLP_ENDPOINT", ""),
			TracingSampling:  src.number("OBS_TRACING_SAMPLING_RATIO", 1),
			PprofEnabled:     src.flag("OBS_ENABLE_PPROF", false),
			PprofUser:        src.str("SECURE_PPROF_BASIC_AUTH_USER", ""),
			PprofPass:        src.str("SECURE_PPROF_BASIC_AUTH_PASS", ""),
		},
	}
	cfg.validate(src)

	if err := errors.Join(src.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(src *source) {
	switch c.RateLimitStrategy {
	case "sliding", "fixed":
	default:
		src.fail("RATE_LIMIT_STRATEGY", "must be sliding or fixed")
	}
	if c.CircuitFailureRatio <= 0 || c.CircuitFailureRatio > 1 {
		src.fail("CIRCUIT_FAILURE_RATIO", "must be in (0, 1]")
	}
	if c.PricingTaxRateBPS < 0 || c.PricingTaxRateBPS > 10000 {
		src.fail("PRICING_TAX_RATE_BPS", "must be between 0 and 10000")
	}
	if c.MaxBodyBytes <= 0 {
		src.fail("MAX_BODY_BYTES", "must be positive")
	}
	if c.Obs.PprofEnabled && c.Obs.PprofUser == "" && c.AppEnv == "production" {
		src.fail("SECURE_PPROF_BASIC_AUTH_USER", "is required for pprof in production")
	}
}

// HTTPAddr returns the listen address, accepting PORT as "8080" or ":8080".
func (c *Config) HTTPAddr() string {
	port := strings.TrimPrefix(strings.TrimSpace(c.Port), ":")
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

// RequireDatabase reports an error when no database URL was configured.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// source reads trimmed koanf values and collects parse failures.
type source struct {
	k    *koanf.Koanf
	errs []error
}

func (s *source) fail(key, reason string) {
	s.errs = append(s.errs, fmt.Errorf("%s %s", key, reason))
}

func (s *source) raw(key string) (string, bool) {
	v := strings.TrimSpace(s.k.String(key))
	return v, v != ""
}

func (s *source) str(key, def string) string {
	if v, ok := s.raw(key); ok {
		return v
	}
	return def
}

func (s *source) required(key string) string {
	v, ok := s.raw(key)
	if !ok {
		s.fail(key, "is required")
	}
	return v
}

func (s *source) list(key string) []string {
	var out []string
	for _, part := range strings.Split(s.str(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *source) duration(key string, def time.Duration) time.Duration {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		s.fail(key, fmt.Sprintf("is not a valid duration: %q", v))
		return def
	}
	return d
}

func (s *source) integer(key string, def int) int {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.fail(key, fmt.Sprintf("is not an integer: %q", v))
		return def
	}
	return n
}

func (s *source) number(key string, def float64) float64 {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		s.fail(key, fmt.Sprintf("is not a number: %q", v))
		return def
	}
	return f
}

func (s *source) flag(key string, def bool) bool {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	s.fail(key, fmt.Sprintf("is not a boolean: %q", v))
	return def
}
