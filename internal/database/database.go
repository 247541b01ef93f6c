// Package database opens the PostgreSQL pool backing the team store.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes the connection pool. Zero values fall back to defaults.
type Options struct {
	MaxConns        int32
	ConnectAttempts int
	RetryDelay      time.Duration
}

func (o *Options) defaults() {
	if o.MaxConns <= 0 {
		o.MaxConns = 10
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
}

// Connect parses databaseURL and returns a pool that answered a ping.
// The ping is retried so a process can start alongside its database.
func Connect(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	opts.defaults()

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = opts.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		if attempt >= opts.ConnectAttempts {
			break
		}
		slog.Warn("database not reachable, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("pinging database: %w", ctx.Err())
		case <-time.After(opts.RetryDelay):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("pinging database after %d attempts: %w", opts.ConnectAttempts, err)
}
