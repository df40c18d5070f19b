package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-rewards/internal/config"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REWARDS_BASE_URL", "https://rewards.test/api/")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, "https://rewards.test/api", cfg.RewardsBaseURL)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 168*time.Hour, cfg.BagTTL)
	require.Equal(t, 5*time.Second, cfg.RewardsTimeout)
	require.Equal(t, 3, cfg.RetryMaxAttempts)
	require.Equal(t, "sliding", cfg.RateLimitStrategy)
	require.True(t, cfg.AuditEnabled)
	require.False(t, cfg.RewardsAppendLocation)
	require.Equal(t, int64(65536), cfg.MaxBodyBytes)
	require.Equal(t, "USD", cfg.CurrencyCode)
	require.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	require.True(t, cfg.MigrateOnStart)
	require.Equal(t, "rewards", cfg.Obs.MetricsNamespace)
	require.True(t, cfg.Obs.MetricsEnabled)
	require.False(t, cfg.Obs.PprofEnabled)
	require.Error(t, cfg.RequireDatabase())
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", ":9090")
	t.Setenv("REWARDS_APPEND_LOCATION", "yes")
	t.Setenv("REWARDS_USE_V3", "true")
	t.Setenv("BAG_TTL", "2h")
	t.Setenv("AUDIT_ENABLED", "off")
	t.Setenv("RATE_LIMIT_STRATEGY", "Fixed")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, ,https://b.test")
	t.Setenv("DATABASE_URL", "postgres://localhost/rewards")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.True(t, cfg.RewardsAppendLocation)
	require.True(t, cfg.RewardsUseV3)
	require.Equal(t, 2*time.Hour, cfg.BagTTL)
	require.False(t, cfg.AuditEnabled)
	require.Equal(t, "fixed", cfg.RateLimitStrategy)
	require.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSAllowedOrigins)
	require.NoError(t, cfg.RequireDatabase())
}

func TestLoadReportsEveryProblem(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("REWARDS_BASE_URL", "")
	t.Setenv("LOCK_TTL", "not-a-duration")
	t.Setenv("AUDIT_ENABLED", "maybe")
	t.Setenv("CIRCUIT_FAILURE_RATIO", "1.5")

	_, err := config.Load()
	require.Error(t, err)
	require.ErrorContains(t, err, "REWARDS_BASE_URL is required")
	require.ErrorContains(t, err, `LOCK_TTL is not a valid duration: "not-a-duration"`)
	require.ErrorContains(t, err, "AUDIT_ENABLED is not a boolean")
	require.ErrorContains(t, err, "CIRCUIT_FAILURE_RATIO must be in (0, 1]")
}

func TestLoadRejectsOpenPprofInProduction(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("OBS_ENABLE_PPROF", "true")

	_, err := config.Load()
	require.ErrorContains(t, err, "SECURE_PPROF_BASIC_AUTH_USER")

	t.Setenv("SECURE_PPROF_BASIC_AUTH_USER", "ops")
	t.Setenv("SECURE_PPROF_BASIC_AUTH_PASS", "s3cret")
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "ops", cfg.Obs.PprofUser)
}
