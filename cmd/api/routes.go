package main

import (
	"database/sql"
	"net/http"

	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/engine"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
	"github.com/josh-kwaku/wallet-ledger/internal/middleware"
	"github.com/josh-kwaku/wallet-ledger/internal/readmodel"
)

func routes(cfg *config.Config, db *sql.DB, ledger *engine.Engine, reads *readmodel.Service) *http.ServeMux {
	health := handler.NewHealthHandler(db, version)
	transactions := handler.NewTransactionHandler(ledger)
	accounts := handler.NewAccountHandler(ledger)
	ledgerReads := handler.NewLedgerHandler(reads)
	admin := handler.NewAdminHandler(reads, ledger)

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.Auth(cfg.JWTSecret)(middleware.Logging(h))
	}
	idempotent := func(h http.HandlerFunc) http.Handler {
		return authed(middleware.RequireIdempotencyKey(h).ServeHTTP)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return authed(middleware.RequireAdmin(h).ServeHTTP)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /health/ready", health.Readiness)

	mux.Handle("POST /api/v1/deposits", idempotent(transactions.Deposit))
	mux.Handle("POST /api/v1/withdrawals", idempotent(transactions.Withdraw))
	mux.Handle("POST /api/v1/transfers", idempotent(transactions.Transfer))

	mux.Handle("POST /api/v1/users/{id}/accounts", authed(accounts.Open))
	mux.Handle("GET /api/v1/users/{id}/balance", authed(ledgerReads.Balance))
	mux.Handle("GET /api/v1/users/{id}/transactions", authed(ledgerReads.History))

	mux.Handle("GET /api/v1/admin/aggregate-totals", adminOnly(admin.AggregateTotals))
	mux.Handle("POST /api/v1/admin/transactions/{id}/reverse", adminOnly(admin.Reverse))

	return mux
}
