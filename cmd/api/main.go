package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/wallet-ledger/internal/affiliate"
	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/engine"
	"github.com/josh-kwaku/wallet-ledger/internal/fee"
	"github.com/josh-kwaku/wallet-ledger/internal/idempotency"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/middleware"
	"github.com/josh-kwaku/wallet-ledger/internal/policy"
	"github.com/josh-kwaku/wallet-ledger/internal/readmodel"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/telemetry"
	"github.com/josh-kwaku/wallet-ledger/internal/worker"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("wallet-ledger", cfg.LogLevel, cfg.AppEnv)

	shutdownTracing, err := telemetry.Setup(context.Background(), telemetry.Options{
		Service:     "wallet-ledger",
		Version:     version,
		Exporter:    cfg.TraceExporter,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.ConnectWithRetry(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}, cfg.DBConnectAttempts)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := repository.NewLedgerStore(db)
	accounts := repository.NewAccountRepository(db)
	txs := repository.NewTransactionRepository(db)
	entries := repository.NewLedgerEntryRepository(db)
	users := repository.NewUserRepository(db)
	records := repository.NewIdempotencyRepository(db)

	guard := idempotency.NewGuard(records, txs, idempotency.Options{
		TTL:   cfg.IdempotencyTTL,
		Lease: cfg.IdempotencyLease,
		Wait:  cfg.IdempotencyWait,
	})
	gate := policy.NewGate(store, users, txs, cfg.Limits)
	fees := fee.NewSchedule(cfg.Fees, cfg.Affiliate)

	ledger := engine.New(store, txs, entries, guard, gate, fees, engine.Options{
		MaxAttempts:   cfg.EngineMaxAttempts,
		RetryInterval: cfg.EngineRetryInterval,
	})
	ledger.AddObserver(affiliate.NewObserver(store, users, fees, ledger, cfg.Affiliate))

	reads := readmodel.NewService(store, txs, repository.NewAggregateRepository(db), cfg.AggregateCacheTTL)
	reconciler := readmodel.NewReconciler(accounts, entries, cfg.ReconcileConcurrency)

	var workers sync.WaitGroup
	for _, w := range []interface{ Start(context.Context) }{
		worker.NewIdempotencySweeper(records, logger, cfg.SweepInterval),
		worker.NewReconcileJob(reconciler, logger, cfg.ReconcileInterval),
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			w.Start(ctx)
		}()
	}

	mux := routes(cfg, db, ledger, reads)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(middleware.Tracing(middleware.Recovery(mux)), "wallet-ledger"),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	workers.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}
	slog.Info("server stopped")
}
