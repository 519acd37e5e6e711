package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/prepdeck/payments-backend/internal/chain"
	"github.com/prepdeck/payments-backend/internal/config"
	"github.com/prepdeck/payments-backend/internal/middleware"
	"github.com/prepdeck/payments-backend/internal/payments"
	"github.com/prepdeck/payments-backend/internal/reconcile"
	"github.com/prepdeck/payments-backend/internal/repository"
	"github.com/prepdeck/payments-backend/internal/router"
	"github.com/prepdeck/payments-backend/internal/sweep"
	"github.com/prepdeck/payments-backend/internal/usage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Usage tracking degrades without its dead-letter buffer; the core
	// crediting path does not depend on Redis.
	var dlq usage.DeadLetter
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Warn("Cannot reach Redis; usage dead-letter queue disabled", "error", err)
	} else {
		redisDLQ := usage.NewRedisDeadLetter(redisClient, cfg.UsageDLQKey)
		if n, err := redisDLQ.Len(ctx); err == nil && n > 0 {
			slog.Info("Usage dead letters awaiting replay", "count", n)
		}
		dlq = redisDLQ
	}

	// Repositories
	paymentRepo := repository.NewPaymentRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	accountRepo := repository.NewAccountRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)

	// Chain verifier
	verifier := chain.NewSolanaVerifier(cfg.SolanaRPCURL, cfg.RecipientWallet, []chain.TokenMint{
		{Symbol: "USDC", Mint: cfg.USDCMint, Decimals: 6},
		{Symbol: "USDT", Mint: cfg.USDTMint, Decimals: 6},
		{Symbol: "PYUSD", Mint: cfg.PYUSDMint, Decimals: 6},
		{Symbol: "CASH", Mint: cfg.CashMint, Decimals: 6},
	}, cfg.CreditPriceCents, logger)

	// Reconciliation
	tracker := usage.NewTracker(usageRepo, dlq, logger)
	matcher := reconcile.NewMatcher(paymentRepo, cfg.MatchWindow)
	orchestrator := reconcile.NewOrchestrator(
		verifier, paymentRepo, matcher, ledgerRepo, tracker,
		cfg.RecipientWallet, cfg.MinPurchaseCents, cfg.CreditPriceCents, logger,
	)

	// Background sweeps
	workers := river.NewWorkers()
	river.AddWorker(workers, sweep.NewExpirePendingWorker(paymentRepo, cfg.PendingTTL, logger))
	river.AddWorker(workers, sweep.NewReplayUsageWorker(tracker, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) { return sweep.ExpirePendingArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(5*time.Minute),
				func() (river.JobArgs, *river.InsertOpts) { return sweep.ReplayUsageArgs{}, nil },
				nil,
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// HTTP surface
	handler := &payments.Handler{
		Payments:         paymentRepo,
		Reconciler:       orchestrator,
		Accounts:         accountRepo,
		Ledger:           ledgerRepo,
		Recipient:        cfg.RecipientWallet,
		MinPurchaseCents: cfg.MinPurchaseCents,
		Logger:           logger,
	}

	requireAuth := middleware.UserAuth([]byte(cfg.JWTSecret), true)
	optionalAuth := middleware.UserAuth([]byte(cfg.JWTSecret), false)
	apiRouter := router.New(handler, requireAuth, optionalAuth)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (runs the sweeps)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
