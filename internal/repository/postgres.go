package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
)

type PoolConfig struct {
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetimeS int
	ConnMaxIdleTimeS int
}

func NewPostgresDB(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresDB: open: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeS) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTimeS) * time.Second)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewPostgresDB: ping: %w", err)
	}

	return db, nil
}

// ConnectWithRetry keeps calling NewPostgresDB once per second until the
// database answers or attempts run out. Used at startup when the database
// container may still be booting.
func ConnectWithRetry(ctx context.Context, databaseURL string, pool PoolConfig, attempts int) (*sql.DB, error) {
	return retryConnect(ctx, attempts, time.Second, func() (*sql.DB, error) {
		return NewPostgresDB(ctx, databaseURL, pool)
	})
}

func retryConnect(ctx context.Context, attempts int, interval time.Duration, open func() (*sql.DB, error)) (*sql.DB, error) {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)), ctx)

	n := 0
	db, err := backoff.RetryNotifyWithData(func() (*sql.DB, error) {
		n++
		return open()
	}, b, func(err error, wait time.Duration) {
		slog.Info("waiting for database", "attempt", n, "retry_in", wait, "error", err)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ConnectWithRetry: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ConnectWithRetry: gave up after %d attempts: %w", n, err)
	}
	return db, nil
}
