package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/samber/lo"
)

const (
	// DefaultGracePeriod is how long a session may go without a heartbeat
	// before the sweeper removes it.
	DefaultGracePeriod = 90 * time.Second

	// DefaultSweepInterval is how often the sweeper looks for stale sessions.
	DefaultSweepInterval = 15 * time.Second

	storeTimeout = 2 * time.Second

	// lastSeenQueue bounds the last-seen writes waiting for the store.
	lastSeenQueue = 1024
)

type lastSeenWrite struct {
	userID string
	at     time.Time
}

// ErrClosed is returned by registry calls after the registry has stopped.
var ErrClosed = errors.New("presence registry closed")

type sessionEntry struct {
	userID    string
	lastBeat  time.Time
	createdAt time.Time
}

// Registry is the authoritative presence table. All state is owned by the
// goroutine started with Run; public methods submit work to it and wait.
type Registry struct {
	ops     chan func()
	started chan struct{}
	stop    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// owned by the Run goroutine
	records  map[string]*domain.PresenceRecord
	sessions map[string]*sessionEntry
	refs     map[string]int
	version  uint64
	writes   chan lastSeenWrite

	subMu   sync.RWMutex
	subs    map[int]func(domain.PresenceDelta)
	nextSub int

	gracePeriod   time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	store         LastSeenStore
	onEvict       func(userID, sessionID string)
	logger        *slog.Logger
}

// NewRegistry creates a registry. Call Run to start processing.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ops:           make(chan func()),
		started:       make(chan struct{}),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		records:       make(map[string]*domain.PresenceRecord),
		sessions:      make(map[string]*sessionEntry),
		refs:          make(map[string]int),
		subs:          make(map[int]func(domain.PresenceDelta)),
		gracePeriod:   DefaultGracePeriod,
		sweepInterval: DefaultSweepInterval,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("service", "presence")
	return r
}

// Run processes registry operations and sweeps stale sessions until ctx is
// canceled or Shutdown is called.
func (r *Registry) Run(ctx context.Context) error {
	r.startOnce.Do(func() { close(r.started) })
	defer close(r.done)

	if r.store != nil {
		r.restoreLastSeen(ctx)
		stopWriter := r.startLastSeenWriter()
		defer stopWriter()
	}

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	r.logger.Info("Presence registry started",
		"grace_period", r.gracePeriod,
		"sweep_interval", r.sweepInterval)

	for {
		select {
		case op := <-r.ops:
			op()
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			r.logger.Info("Presence registry stopped")
			return nil
		case <-ctx.Done():
			r.logger.Info("Presence registry stopped", "reason", ctx.Err())
			return nil
		}
	}
}

// Shutdown stops Run and waits for it to return. It is safe to call when
// Run was never started.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	select {
	case <-r.started:
		<-r.done
	default:
	}
}

// do runs fn on the registry goroutine and waits for it to finish.
func (r *Registry) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.ops <- op:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Track makes users known to the registry so snapshots list them as offline
// until they connect. Known users only get their display name refreshed.
func (r *Registry) Track(ctx context.Context, users ...domain.User) error {
	return r.do(ctx, func() {
		for _, u := range users {
			rec := r.record(u.ID)
			if u.Username != "" {
				rec.Username = u.Username
			}
		}
	})
}

// MarkOnline registers a live session for the user. The user goes online
// when their first session registers.
func (r *Registry) MarkOnline(ctx context.Context, userID, sessionID string) error {
	return r.do(ctx, func() {
		if existing, ok := r.sessions[sessionID]; ok {
			if existing.userID != userID {
				r.logger.Warn("Session already registered to another user",
					"session_id", sessionID, "user_id", userID, "owner", existing.userID)
			}
			return
		}

		now := r.now()
		r.sessions[sessionID] = &sessionEntry{userID: userID, lastBeat: now, createdAt: now}
		r.refs[userID]++

		r.logger.Debug("Session registered",
			"user_id", userID, "session_id", sessionID, "sessions", r.refs[userID])

		if r.refs[userID] > 1 {
			return
		}

		rec := r.record(userID)
		rec.IsOnline = true
		r.logger.Info("User came online", "user_id", userID, "session_id", sessionID)
		r.publish(rec)
	})
}

// MarkOffline removes a session. It is idempotent: unknown sessions are ignored.
// The user goes offline when their last session is removed.
func (r *Registry) MarkOffline(ctx context.Context, userID, sessionID string) error {
	return r.do(ctx, func() {
		entry, ok := r.sessions[sessionID]
		if !ok || entry.userID != userID {
			return
		}
		if changed := r.removeSession(sessionID, r.now()); changed != nil {
			r.logger.Info("User went offline", "user_id", userID, "session_id", sessionID)
			r.publish(changed)
		}
	})
}

// Heartbeat records activity for a session. Unknown sessions are ignored.
func (r *Registry) Heartbeat(ctx context.Context, sessionID string) error {
	return r.do(ctx, func() {
		if entry, ok := r.sessions[sessionID]; ok {
			entry.lastBeat = r.now()
		}
	})
}

// Snapshot returns an immutable copy of every known user's record.
func (r *Registry) Snapshot(ctx context.Context) (domain.PresenceSnapshot, error) {
	var snap domain.PresenceSnapshot
	err := r.do(ctx, func() {
		snap = r.snapshot()
	})
	return snap, err
}

func (r *Registry) snapshot() domain.PresenceSnapshot {
	ids := lo.Keys(r.records)
	sort.Strings(ids)
	return domain.PresenceSnapshot{
		Version: r.version,
		TakenAt: r.now(),
		Records: lo.Map(ids, func(id string, _ int) domain.PresenceRecord {
			return *r.records[id]
		}),
	}
}

// View calls fn with a snapshot on the registry goroutine, so anything fn
// enqueues is ordered with the deltas delivered to subscribers.
func (r *Registry) View(ctx context.Context, fn func(domain.PresenceSnapshot)) error {
	return r.do(ctx, func() {
		fn(r.snapshot())
	})
}

// Status returns the record for a user. Unknown users are reported offline
// with a zero LastSeen.
func (r *Registry) Status(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	rec := domain.OfflineRecord(userID)
	err := r.do(ctx, func() {
		if existing, ok := r.records[userID]; ok {
			rec = *existing
		}
	})
	return rec, err
}

// Sweep runs one stale-session pass and returns the number of sessions removed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	var removed int
	err := r.do(ctx, func() {
		removed = r.sweep()
	})
	return removed, err
}

// Subscribe registers fn for every delta. fn runs on the registry goroutine,
// in version order, and must not call back into the Registry.
func (r *Registry) Subscribe(fn func(domain.PresenceDelta)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) sweep() int {
	now := r.now()
	cutoff := now.Add(-r.gracePeriod)

	var stale []string
	for id, entry := range r.sessions {
		if entry.lastBeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	sort.Strings(stale)

	// A reaped user was last seen at their most recent heartbeat.
	lastBeat := make(map[string]time.Time)
	for _, id := range stale {
		entry := r.sessions[id]
		if entry.lastBeat.After(lastBeat[entry.userID]) {
			lastBeat[entry.userID] = entry.lastBeat
		}
	}

	type eviction struct{ userID, sessionID string }
	evicted := make([]eviction, 0, len(stale))
	var changes []*domain.PresenceRecord
	for _, id := range stale {
		entry := r.sessions[id]
		evicted = append(evicted, eviction{entry.userID, id})
		if changed := r.removeSession(id, lastBeat[entry.userID]); changed != nil {
			changes = append(changes, changed)
		}
	}

	r.logger.Info("Reaped stale sessions",
		"sessions_removed", len(stale),
		"users_offline", len(changes))

	if len(changes) > 0 {
		r.publish(changes...)
	}
	if r.onEvict != nil {
		for _, e := range evicted {
			r.onEvict(e.userID, e.sessionID)
		}
	}
	return len(stale)
}

// removeSession drops the session and returns the user's record when it
// flipped offline. lastSeen is stamped on that record.
func (r *Registry) removeSession(sessionID string, lastSeen time.Time) *domain.PresenceRecord {
	entry := r.sessions[sessionID]
	delete(r.sessions, sessionID)

	r.refs[entry.userID]--
	if r.refs[entry.userID] > 0 {
		return nil
	}
	delete(r.refs, entry.userID)

	rec := r.record(entry.userID)
	// A later session may already have stamped a newer time.
	if lastSeen.After(rec.LastSeen) {
		rec.LastSeen = lastSeen
	}
	rec.IsOnline = false
	r.persistLastSeen(rec.UserID, rec.LastSeen)
	return rec
}

func (r *Registry) record(userID string) *domain.PresenceRecord {
	rec, ok := r.records[userID]
	if !ok {
		fresh := domain.OfflineRecord(userID)
		rec = &fresh
		r.records[userID] = rec
	}
	return rec
}

// publish stamps the changed records with a new version and fans the delta out.
func (r *Registry) publish(changed ...*domain.PresenceRecord) {
	r.version++
	delta := domain.PresenceDelta{
		Version: r.version,
		Changes: make([]domain.PresenceRecord, 0, len(changed)),
	}
	for _, rec := range changed {
		rec.Version = r.version
		delta.Changes = append(delta.Changes, *rec)
	}

	r.subMu.RLock()
	subs := lo.Values(r.subs)
	r.subMu.RUnlock()

	for _, fn := range subs {
		fn(delta)
	}
}

// persistLastSeen queues a write for the writer goroutine. The store is a
// mirror, so a full queue drops the write rather than stall the registry.
func (r *Registry) persistLastSeen(userID string, t time.Time) {
	if r.writes == nil {
		return
	}
	select {
	case r.writes <- lastSeenWrite{userID: userID, at: t}:
	default:
		r.logger.Warn("Last seen queue full, dropping write", "user_id", userID)
	}
}

// startLastSeenWriter saves queued last-seen times off the registry
// goroutine. The returned func flushes the queue, giving up after
// storeTimeout.
func (r *Registry) startLastSeenWriter() (stop func()) {
	writes := make(chan lastSeenWrite, lastSeenQueue)
	r.writes = writes
	base, cancel := context.WithCancel(context.Background())
	flushed := make(chan struct{})

	go func() {
		defer close(flushed)
		for w := range writes {
			if base.Err() != nil {
				continue
			}
			ctx, cancelSave := context.WithTimeout(base, storeTimeout)
			if err := r.store.Save(ctx, w.userID, w.at); err != nil {
				r.logger.Warn("Failed to persist last seen", "user_id", w.userID, "error", err)
			}
			cancelSave()
		}
	}()

	return func() {
		r.writes = nil
		close(writes)
		select {
		case <-flushed:
		case <-time.After(storeTimeout):
			r.logger.Warn("Abandoning unsaved last seen times", "pending", len(writes))
			cancel()
			<-flushed
		}
		cancel()
	}
}

func (r *Registry) restoreLastSeen(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	seen, err := r.store.LoadAll(ctx)
	if err != nil {
		r.logger.Warn("Failed to restore last seen", "error", err)
		return
	}
	for userID, t := range seen {
		rec := r.record(userID)
		if t.After(rec.LastSeen) {
			rec.LastSeen = t
		}
	}
	r.logger.Info("Restored last seen", "users", len(seen))
}
