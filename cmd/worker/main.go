package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/noah-isme/backend-rewards/internal/audit"
	"github.com/noah-isme/backend-rewards/internal/config"
	"github.com/noah-isme/backend-rewards/internal/db"
	"github.com/noah-isme/backend-rewards/internal/health"
	"github.com/noah-isme/backend-rewards/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("service", "rewards-worker").
		Str("env", cfg.AppEnv).
		Logger()

	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal().Err(err).Msg("worker needs a database")
	}
	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var shutdownTracer func(context.Context) error
	if cfg.Obs.TracingEnabled {
		shutdownTracer, err = obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "rewards-worker",
			Environment:   cfg.AppEnv,
			Exporter:      cfg.Obs.TracingExporter,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.TracingSampling,
		})
		if err != nil {
			logger.Error().Err(err).Msg("tracing disabled")
		}
	}

	if cfg.MigrateOnStart {
		if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	handler := audit.TaskHandler{
		Service: audit.Service{
			Store:    audit.PGStore{DB: pool},
			Validate: validator.New(),
			Enabled:  cfg.AuditEnabled,
		},
		Logger: logger,
	}
	mux := asynq.NewServeMux()
	mux.Handle(audit.TypeDiscountApplied, handler)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.QueueConcurrency,
		Queues:      map[string]int{cfg.QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	var opsServer *http.Server
	if cfg.WorkerOpsAddr != "" {
		opsServer = newOpsServer(cfg.WorkerOpsAddr, pool, cfg.ReadyDBTimeout)
		go func() {
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("ops server stopped")
			}
		}()
	}

	logger.Info().Str("queue", cfg.QueueName).Int("concurrency", cfg.QueueConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	<-ctx.Done()
	health.SetReady(false)
	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	var shutdownErr error
	if opsServer != nil {
		shutdownErr = multierr.Append(shutdownErr, opsServer.Shutdown(shutdownCtx))
	}
	if shutdownTracer != nil {
		shutdownErr = multierr.Append(shutdownErr, shutdownTracer(shutdownCtx))
	}
	for _, err := range multierr.Errors(shutdownErr) {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("worker shutdown complete")
}

func newOpsServer(addr string, pool *pgxpool.Pool, dbTimeout time.Duration) *http.Server {
	healthHandler := health.Handler{Probes: []health.Probe{{Name: "db", Timeout: dbTimeout, Check: pool.Ping}}}
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

// mustInitDatabase connects to Postgres, retrying while the database comes up.
func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "rewards-worker"

	var pool *pgxpool.Pool
	connect := func() error {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second
	expBackoff.MaxElapsedTime = time.Minute
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("database not ready")
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	return pool
}
