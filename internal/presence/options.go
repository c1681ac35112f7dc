package presence

import (
	"log/slog"
	"time"
)

// Option is a function that configures a Registry.
type Option func(*Registry)

// WithGracePeriod sets how long a session may miss heartbeats before it is reaped.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.gracePeriod = d
		}
	}
}

// WithSweepInterval sets how often Run reaps stale sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithClock replaces the time source. Tests use it to drive the sweeper.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLastSeenStore mirrors last-seen timestamps into store and restores
// them when Run starts.
func WithLastSeenStore(store LastSeenStore) Option {
	return func(r *Registry) {
		r.store = store
	}
}

// WithEvictHandler is called for every session the sweeper removes, after
// the registry has been updated. It runs on the registry goroutine.
func WithEvictHandler(fn func(userID, sessionID string)) Option {
	return func(r *Registry) {
		r.onEvict = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}
