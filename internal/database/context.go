package database

import (
	"context"
	"time"
)

type contextKey string

const (
	queryTimeoutKey contextKey = "db_query_timeout"
	execTimeoutKey  contextKey = "db_exec_timeout"
)

// Default timeouts applied when the caller's context does not override them.
const (
	DefaultQueryTimeout = 2 * time.Second
	DefaultExecTimeout  = 5 * time.Second
)

// WithQueryTimeout overrides the read timeout for queries run with ctx.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, queryTimeoutKey, d)
}

// WithExecTimeout overrides the timeout for writes and migrations run with ctx.
func WithExecTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, execTimeoutKey, d)
}

// QueryContext bounds a read by the timeout carried in ctx or DefaultQueryTimeout.
func QueryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return timeoutFromContext(ctx, DefaultQueryTimeout, queryTimeoutKey)
}

// ExecContext bounds a write by the timeout carried in ctx or DefaultExecTimeout.
func ExecContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return timeoutFromContext(ctx, DefaultExecTimeout, execTimeoutKey)
}

func timeoutFromContext(ctx context.Context, fallback time.Duration, key contextKey) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := fallback
	if v, ok := ctx.Value(key).(time.Duration); ok && v > 0 {
		timeout = v
	}
	return context.WithTimeout(ctx, timeout)
}
