package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"

	"github.com/noah-isme/backend-rewards/internal/audit"
	"github.com/noah-isme/backend-rewards/internal/auth"
	"github.com/noah-isme/backend-rewards/internal/bag"
	"github.com/noah-isme/backend-rewards/internal/config"
	"github.com/noah-isme/backend-rewards/internal/discount"
	"github.com/noah-isme/backend-rewards/internal/health"
	"github.com/noah-isme/backend-rewards/internal/lock"
	"github.com/noah-isme/backend-rewards/internal/obs"
	"github.com/noah-isme/backend-rewards/internal/ratelimit"
	"github.com/noah-isme/backend-rewards/internal/resilience"
	"github.com/noah-isme/backend-rewards/internal/rewards"
)

const serviceName = "rewards-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("service", serviceName).
		Str("env", cfg.AppEnv).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api stopped")
		os.Exit(1)
	}
}

// closers run in reverse order of registration on shutdown.
type closers []func(context.Context) error

func (c *closers) add(fn func(context.Context) error) { *c = append(*c, fn) }

func (c closers) close(ctx context.Context) error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = multierr.Append(err, c[i](ctx))
	}
	return err
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var cleanup closers
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		for _, closeErr := range multierr.Errors(cleanup.close(shutdownCtx)) {
			logger.Error().Err(closeErr).Msg("shutdown")
		}
		logger.Info().Msg("shutdown complete")
	}()

	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)
	}
	tracing := cfg.Obs.TracingEnabled
	if tracing {
		shutdownTracer, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   serviceName,
			Environment:   cfg.AppEnv,
			Exporter:      cfg.Obs.TracingExporter,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.TracingSampling,
		})
		if err != nil {
			logger.Error().Err(err).Msg("tracing disabled")
			tracing = false
		} else {
			cleanup.add(shutdownTracer)
		}
	}

	redisClient, err := openRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	cleanup.add(func(context.Context) error { return redisClient.Close() })

	// without a database the discount history endpoint is not mounted
	var pool *pgxpool.Pool
	if cfg.RequireDatabase() == nil {
		if pool, err = openPool(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		cleanup.add(func(context.Context) error { pool.Close(); return nil })
	}

	deps, err := wire(cfg, logger, redisClient, pool)
	if err != nil {
		return err
	}
	if deps.tasks != nil {
		cleanup.add(func(context.Context) error { return deps.tasks.Close() })
	}
	deps.tracing = tracing

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(cfg, logger, deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
	}
	cleanup.add(srv.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		return nil
	}
}

type dependencies struct {
	redis    *redis.Client
	bags     *bag.Service
	bagAPI   *bag.Handler
	promoAPI *rewards.Handler
	history  *audit.Handler
	auth     auth.Middleware
	limit    ratelimit.Handler
	tasks    *asynq.Client
	probes   []health.Probe
	tracing  bool
}

func wire(cfg *config.Config, logger zerolog.Logger, redisClient *redis.Client, pool *pgxpool.Pool) (*dependencies, error) {
	validate := validator.New()
	deps := &dependencies{redis: redisClient}

	deps.bags = &bag.Service{
		Store:   bag.NewStore(redisClient, cfg.BagTTL),
		Locker:  lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL: cfg.LockTTL,
	}
	deps.bagAPI = &bag.Handler{Svc: deps.bags, Validate: validate, TaxBps: cfg.PricingTaxRateBPS, Currency: cfg.CurrencyCode}

	upstream := resilience.HTTPClient{
		Client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "rewards",
			MinRequests:  cfg.CircuitMinRequests,
			FailureRatio: cfg.CircuitFailureRatio,
			OpenFor:      cfg.CircuitOpenFor,
			Logger:       &logger,
		}),
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitterPercent,
		Timeout:     cfg.RewardsTimeout,
		Target:      "rewards",
		Logger:      &logger,
	}
	promo := &rewards.Service{
		Upstream: rewards.NewClient(rewards.ClientConfig{
			BaseURL:        cfg.RewardsBaseURL,
			BrandID:        cfg.RewardsBrandID,
			AppendLocation: cfg.RewardsAppendLocation,
			UseV3:          cfg.RewardsUseV3,
		}, upstream),
		Bags:   deps.bags,
		Alloc:  discount.NextLineID,
		Logger: logger,
	}
	if cfg.AuditEnabled {
		deps.tasks = asynq.NewClientFromRedisClient(redisClient)
		promo.Publisher = audit.Publisher{Client: deps.tasks, Queue: cfg.QueueName}
	}
	deps.promoAPI = &rewards.Handler{Svc: promo, Validate: validate, TaxBps: cfg.PricingTaxRateBPS, Currency: cfg.CurrencyCode}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience})
	if err != nil {
		return nil, err
	}
	deps.auth = auth.Middleware{Verifier: verifier}

	var limiter ratelimit.Limiter = ratelimit.SlidingWindow{Client: redisClient, Prefix: "rl:promo:"}
	if cfg.RateLimitStrategy == "fixed" {
		if limiter, err = ratelimit.NewRedisFixedWindow(redisClient, "rl:promo:"); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	deps.limit = ratelimit.Handler{
		Limiter: limiter,
		Rate:    ratelimit.Rate{Window: cfg.PromoRateLimitWindow, Max: cfg.PromoRateLimitMax},
		Key:     ratelimit.CustomerKey,
	}

	deps.probes = []health.Probe{{Name: "redis", Timeout: cfg.ReadyRedisTimeout, Check: deps.bags.Store.Ping}}
	if pool != nil {
		deps.probes = append(deps.probes, health.Probe{Name: "db", Timeout: cfg.ReadyDBTimeout, Check: pool.Ping})
		deps.history = &audit.Handler{
			Service: audit.Service{Store: audit.PGStore{DB: pool}, Validate: validate, Enabled: true},
			Owns: func(r *http.Request, bagID, customerID string) bool {
				_, err := deps.bags.GetForCustomer(r.Context(), bagID, customerID)
				return err == nil
			},
		}
	}
	return deps, nil
}

func openRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Warn().Err(err).Msg("redis tracing not instrumented")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Warn().Err(err).Msg("redis metrics not instrumented")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func openPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = serviceName

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
