package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	MaxConns        = 10
	MinConns        = 1
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute

	connectMaxElapsed = 30 * time.Second
)

// NewPostgresPool opens a pgx pool and pings it, retrying with exponential
// backoff while the database is still starting up.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing postgres config: %w", err)
	}

	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres pool: %w", err)
	}

	if err := retry(ctx, "postgres", func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging postgres pool: %w", err)
	}

	slog.InfoContext(ctx, "Postgres pool created", "host", config.ConnConfig.Host, "database", config.ConnConfig.Database)
	return pool, nil
}

func retry(ctx context.Context, name string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = connectMaxElapsed

	attempt := 0
	return backoff.RetryNotify(fn, backoff.WithContext(b, ctx), func(err error, delay time.Duration) {
		attempt++
		slog.WarnContext(ctx, "Connection attempt failed, retrying",
			"backend", name, "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	})
}
