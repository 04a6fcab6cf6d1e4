// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command api is the entry point for the Decorly authentication API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool) and run migrations.
//  4. Connect to Redis, and to MongoDB when it backs the activity log.
//  5. Build the guard counters, signing keys and mailer.
//  6. Wire the domain and HTTP handlers.
//  7. Start background janitors and the HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/decorly/internal/api"
	"github.com/taibuivan/decorly/internal/platform/config"
	"github.com/taibuivan/decorly/internal/platform/constants"
	"github.com/taibuivan/decorly/internal/platform/counter"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/mailer"
	"github.com/taibuivan/decorly/internal/platform/middleware"
	"github.com/taibuivan/decorly/internal/platform/migration"
	mongostore "github.com/taibuivan/decorly/internal/platform/mongo"
	pgstore "github.com/taibuivan/decorly/internal/platform/postgres"
	"github.com/taibuivan/decorly/internal/platform/ratelimit"
	redisstore "github.com/taibuivan/decorly/internal/platform/redis"
	"github.com/taibuivan/decorly/internal/platform/sec"
	"github.com/taibuivan/decorly/internal/users/activity"
	"github.com/taibuivan/decorly/internal/users/auth"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	log := newLogger(slog.LevelInfo)
	log.Info("service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		log = newLogger(slog.LevelDebug)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("counter_store", cfg.CounterStore),
		slog.String("activity_store", cfg.ActivityStore),
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Background workers stop when this context is cancelled.
	runCtx, stopWorkers := context.WithCancel(ctxutil.WithLogger(context.Background(), log))
	defer stopWorkers()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("postgres_pool_closing")
		pool.Close()
	}()

	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 4. Redis / MongoDB ────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("redis_client_closing")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis_close_failed", slog.Any("error", cerr))
		}
	}()

	checks := []api.Check{
		{Name: "postgres", Probe: func(ctx context.Context) error { return pgstore.Ping(ctx, pool) }},
		{Name: "redis", Probe: func(ctx context.Context) error { return redisstore.Ping(ctx, rdb) }},
	}

	users := auth.NewUserRepository(pool)

	var activityLog activity.Repository
	switch cfg.ActivityStore {
	case config.StoreMongo:
		mongoClient, err := mongostore.NewClient(startupCtx, cfg.MongoURI, log)
		must(log, err, "connect to mongo")
		defer func() {
			log.Info("mongo_client_closing")
			if cerr := mongoClient.Disconnect(context.Background()); cerr != nil {
				log.Error("mongo_disconnect_failed", slog.Any("error", cerr))
			}
		}()

		repository := activity.NewMongoRepository(mongoClient.Database(cfg.MongoDatabase))
		must(log, repository.EnsureIndexes(startupCtx, activity.Retention), "create activity indexes")
		activityLog = repository
		checks = append(checks, api.Check{Name: "mongo", Probe: func(ctx context.Context) error { return mongostore.Ping(ctx, mongoClient) }})

	default:
		repository := activity.NewPostgresRepository(pool)
		go activity.Purge(runCtx, repository, time.Hour)
		activityLog = repository
	}

	// ── 5. Guards, Keys, Mail ─────────────────────────────────────────────
	var counters counter.Store
	switch cfg.CounterStore {
	case config.StoreMemory:
		memory := counter.NewMemory()
		go memory.RunJanitor(runCtx, constants.RateLimitCleanupInterval)
		counters = memory
	default:
		counters = counter.NewRedis(rdb)
	}

	tokens, err := sec.NewTokenService(cfg.JWTPrivKeyPath, cfg.JWTPubKeyPath, constants.AuthIssuer)
	must(log, err, "initialize token service")

	digests, err := sec.NewHMAC(cfg.SessionSecret)
	must(log, err, "initialize digest keyring")

	var outbound mailer.Mailer
	if cfg.SMTPAddr == "" {
		log.Warn("smtp_disabled_logging_mail")
		outbound = mailer.NewLogMailer(log)
	} else {
		smtpMailer, err := mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom)
		must(log, err, "initialize smtp mailer")
		outbound = smtpMailer
	}

	// ── 6. Domain Wiring ──────────────────────────────────────────────────
	authService, err := auth.NewService(auth.Dependencies{
		Users:          users,
		Sessions:       auth.NewSessionRepository(pool),
		PendingSignups: auth.NewPendingSignupRepository(rdb),
		Hasher:         sec.NewPasswordHasher(sec.PasswordCost),
		Digests:        digests,
		Tokens:         tokens,
		Counters:       counters,
		Mailer:         outbound,
	})
	must(log, err, "initialize auth service")

	monitor := activity.NewMonitor(activityLog, users)
	authHandler := auth.NewHandler(authService, ratelimit.NewGuard(counters, ratelimit.DefaultPolicies()...), monitor)

	liveness, readiness := api.NewHealthHandlers(log, checks...)

	limiter := middleware.NewIPLimiter(constants.DefaultRateLimitRPS, constants.DefaultRateLimitBurst)

	server := api.NewServer(cfg, log, api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Auth:      authHandler,
		Limiter:   limiter,
	})

	// ── 7. Background Work & Graceful Shutdown ────────────────────────────
	go authService.Sessions().Reap(runCtx, constants.SessionReapInterval)
	go limiter.Run(runCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-quit:
		log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server_startup_failed", slog.Any("error", err))
	}

	stopWorkers()

	log.Info("server_shutting_down", slog.Duration("timeout", constants.ShutdownTimeout))
	if err := server.Shutdown(constants.ShutdownTimeout); err != nil {
		log.Error("shutdown_failed", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server_stopped")
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With(slog.String("app", constants.AppName))
	slog.SetDefault(logger)
	return logger
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is limited to startup wiring. After startup, all errors are returned
// and handled explicitly.
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup_failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
