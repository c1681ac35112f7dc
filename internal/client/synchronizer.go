package client

import (
	"sort"
	"sync"
	"time"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/samber/lo"
)

// heldMessage is a chat message waiting for a gap before it to fill.
type heldMessage struct {
	msg domain.ChatMessage
	at  time.Time
}

// senderOrder tracks the per-sender reorder state.
type senderOrder struct {
	// next is the seq expected next; zero means no baseline yet.
	next uint64
	// provisional is set while the baseline came from a seq above 1 and may
	// still move down. Nothing is released until it is confirmed.
	provisional bool
	// floor is the confirmed baseline. Seqs below it were never surfaced.
	floor uint64
	held  map[uint64]heldMessage
}

// Synchronizer is the client-side view of presence and the chat reorder
// buffer. It is safe for concurrent use.
type Synchronizer struct {
	mu sync.Mutex

	records map[string]domain.PresenceRecord
	version uint64

	senders     map[string]*senderOrder
	window      time.Duration
	maxBuffered int
	now         func() time.Time
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithSyncClock replaces the time source used for reorder timeouts.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// NewSynchronizer creates a synchronizer that holds out-of-order messages for
// at most window, and at most maxBuffered messages per sender.
func NewSynchronizer(window time.Duration, maxBuffered int, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		records:     make(map[string]domain.PresenceRecord),
		senders:     make(map[string]*senderOrder),
		window:      window,
		maxBuffered: maxBuffered,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplySnapshot replaces the whole presence cache.
func (s *Synchronizer) ApplySnapshot(snap domain.PresenceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = lo.SliceToMap(snap.Records, func(r domain.PresenceRecord) (string, domain.PresenceRecord) {
		return r.UserID, r
	})
	s.version = snap.Version
}

// ApplyDelta merges the changes that are newer than what is cached and
// returns a delta holding only those. Replayed or stale changes are dropped.
func (s *Synchronizer) ApplyDelta(delta domain.PresenceDelta) domain.PresenceDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := domain.PresenceDelta{Version: delta.Version}
	for _, change := range delta.Changes {
		if cur, ok := s.records[change.UserID]; ok && change.Version <= cur.Version {
			continue
		}
		if change.Username == "" {
			change.Username = s.records[change.UserID].Username
		}
		s.records[change.UserID] = change
		applied.Changes = append(applied.Changes, change)
	}
	if delta.Version > s.version {
		s.version = delta.Version
	}
	return applied
}

// Status returns the cached record, or an offline record with an unknown
// last-seen time for users the cache has never heard of.
func (s *Synchronizer) Status(userID string) domain.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[userID]; ok {
		return r
	}
	return domain.OfflineRecord(userID)
}

// Known returns every cached record ordered by user id.
func (s *Synchronizer) Known() []domain.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := lo.Values(s.records)
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Version is the highest presence version seen.
func (s *Synchronizer) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Receive records an incoming chat message and returns the messages that can
// now be surfaced in seq order. Duplicates are dropped. When the per-sender
// buffer overflows, the oldest gap is abandoned and reported.
//
// The first seq seen from a sender becomes its baseline. A baseline above 1
// is held for the reorder window so an earlier seq arriving late can still
// lower it. A seq below a confirmed baseline is reported as a violation.
func (s *Synchronizer) Receive(msg domain.ChatMessage) ([]domain.ChatMessage, []domain.OrderingViolation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.senders[msg.SenderID]
	if st == nil {
		st = &senderOrder{held: make(map[uint64]heldMessage)}
		s.senders[msg.SenderID] = st
	}
	if st.next == 0 {
		st.next = msg.Seq
		st.provisional = true
	}

	if msg.Seq < st.next {
		switch {
		case st.provisional:
			st.next = msg.Seq
		case msg.Seq < st.floor:
			return nil, []domain.OrderingViolation{{SenderID: msg.SenderID, FromSeq: msg.Seq, ToSeq: msg.Seq}}
		default:
			return nil, nil
		}
	}
	if _, dup := st.held[msg.Seq]; dup {
		return nil, nil
	}

	st.held[msg.Seq] = heldMessage{msg: msg, at: s.now()}
	var released []domain.ChatMessage
	switch {
	case st.provisional && st.next <= 1:
		released = st.confirm()
	case !st.provisional:
		released = st.release()
	}

	var violations []domain.OrderingViolation
	for len(st.held) > s.maxBuffered {
		if st.provisional {
			released = append(released, st.confirm()...)
			continue
		}
		v, more := st.skipGap(msg.SenderID)
		violations = append(violations, v)
		released = append(released, more...)
	}
	return released, violations
}

// Expire gives up on gaps that have been open longer than the reorder window
// and releases what was held behind them.
func (s *Synchronizer) Expire(now time.Time) ([]domain.ChatMessage, []domain.OrderingViolation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		released   []domain.ChatMessage
		violations []domain.OrderingViolation
	)
	for _, sender := range s.senderIDs() {
		st := s.senders[sender]
		if st.provisional && now.Sub(st.oldest()) >= s.window {
			released = append(released, st.confirm()...)
		}
		for len(st.held) > 0 && now.Sub(st.oldest()) >= s.window {
			v, more := st.skipGap(sender)
			violations = append(violations, v)
			released = append(released, more...)
		}
	}
	return released, violations
}

// ResetOrdering flushes every held message, reporting the gaps in front of
// them, and forgets all sequence baselines. A restarted server starts its
// sequences again, so this is called after every reconnect.
func (s *Synchronizer) ResetOrdering() ([]domain.ChatMessage, []domain.OrderingViolation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		released   []domain.ChatMessage
		violations []domain.OrderingViolation
	)
	for _, sender := range s.senderIDs() {
		st := s.senders[sender]
		if st.provisional {
			released = append(released, st.confirm()...)
		}
		for len(st.held) > 0 {
			v, more := st.skipGap(sender)
			violations = append(violations, v)
			released = append(released, more...)
		}
	}
	s.senders = make(map[string]*senderOrder)
	return released, violations
}

// Pending reports how many messages are held for sender.
func (s *Synchronizer) Pending(sender string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.senders[sender]; st != nil {
		return len(st.held)
	}
	return 0
}

func (s *Synchronizer) senderIDs() []string {
	ids := lo.Keys(s.senders)
	sort.Strings(ids)
	return ids
}

// release pops the contiguous run starting at next.
func (st *senderOrder) release() []domain.ChatMessage {
	var out []domain.ChatMessage
	for {
		h, ok := st.held[st.next]
		if !ok {
			return out
		}
		delete(st.held, st.next)
		out = append(out, h.msg)
		st.next++
	}
}

// confirm fixes a provisional baseline at next and releases from it. next is
// always the lowest held seq while provisional.
func (st *senderOrder) confirm() []domain.ChatMessage {
	st.provisional = false
	st.floor = st.next
	return st.release()
}

// skipGap jumps next over the gap in front of the lowest held seq.
func (st *senderOrder) skipGap(sender string) (domain.OrderingViolation, []domain.ChatMessage) {
	lowest := lo.Min(lo.Keys(st.held))
	v := domain.OrderingViolation{SenderID: sender, FromSeq: st.next, ToSeq: lowest - 1}
	st.next = lowest
	return v, st.release()
}

func (st *senderOrder) oldest() time.Time {
	var oldest time.Time
	for _, h := range st.held {
		if oldest.IsZero() || h.at.Before(oldest) {
			oldest = h.at
		}
	}
	return oldest
}
