package client

import (
	"testing"
	"time"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSync(window time.Duration, max int) (*Synchronizer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	return NewSynchronizer(window, max, WithSyncClock(clock.Now)), clock
}

func msg(sender string, seq uint64) domain.ChatMessage {
	return domain.ChatMessage{MessageID: seq, Seq: seq, SenderID: sender, RecipientID: "me", Body: "m"}
}

func seqs(msgs []domain.ChatMessage) []uint64 {
	return lo.Map(msgs, func(m domain.ChatMessage, _ int) uint64 { return m.Seq })
}

func TestSynchronizer_ReordersPerSender(t *testing.T) {
	s, _ := newTestSync(time.Second, 16)

	out, v := s.Receive(msg("alice", 1))
	assert.Equal(t, []uint64{1}, seqs(out))
	assert.Empty(t, v)

	out, _ = s.Receive(msg("alice", 3))
	assert.Empty(t, out)
	assert.Equal(t, 1, s.Pending("alice"))

	// Another sender is independent.
	out, _ = s.Receive(msg("bob", 1))
	assert.Equal(t, []uint64{1}, seqs(out))

	out, _ = s.Receive(msg("alice", 2))
	assert.Equal(t, []uint64{2, 3}, seqs(out))
	assert.Zero(t, s.Pending("alice"))
}

func TestSynchronizer_DropsDuplicates(t *testing.T) {
	s, _ := newTestSync(time.Second, 16)

	s.Receive(msg("alice", 1))
	out, v := s.Receive(msg("alice", 1))
	assert.Empty(t, out)
	assert.Empty(t, v)

	s.Receive(msg("alice", 3))
	out, _ = s.Receive(msg("alice", 3))
	assert.Empty(t, out)
	assert.Equal(t, 1, s.Pending("alice"))
}

func TestSynchronizer_FirstSeenSeqIsBaseline(t *testing.T) {
	s, clock := newTestSync(time.Second, 16)

	out, v := s.Receive(msg("alice", 7))
	assert.Empty(t, out)
	assert.Empty(t, v)
	assert.Equal(t, 1, s.Pending("alice"))

	// Nothing earlier showed up within the window: 7 is the baseline.
	clock.Advance(time.Second)
	out, v = s.Expire(clock.Now())
	assert.Equal(t, []uint64{7}, seqs(out))
	assert.Empty(t, v)

	out, _ = s.Receive(msg("alice", 8))
	assert.Equal(t, []uint64{8}, seqs(out))

	// An older seq after the baseline is fixed was never surfaced.
	out, v = s.Receive(msg("alice", 5))
	assert.Empty(t, out)
	assert.Equal(t, []domain.OrderingViolation{{SenderID: "alice", FromSeq: 5, ToSeq: 5}}, v)
}

func TestSynchronizer_EarlierSeqLowersBaseline(t *testing.T) {
	s, _ := newTestSync(time.Second, 16)

	out, _ := s.Receive(msg("alice", 2))
	assert.Empty(t, out)
	out, v := s.Receive(msg("alice", 1))
	assert.Equal(t, []uint64{1, 2}, seqs(out))
	assert.Empty(t, v)
	out, _ = s.Receive(msg("alice", 3))
	assert.Equal(t, []uint64{3}, seqs(out))

	// Same after a reset, where sequences resume above 1.
	s.ResetOrdering()
	out, _ = s.Receive(msg("alice", 4))
	assert.Empty(t, out)
	out, _ = s.Receive(msg("alice", 3))
	assert.Empty(t, out)
	out, v = s.Receive(msg("alice", 5))
	assert.Empty(t, out)
	assert.Empty(t, v)

	out, v = s.ResetOrdering()
	assert.Equal(t, []uint64{3, 4, 5}, seqs(out))
	assert.Empty(t, v)
}

func TestSynchronizer_ProvisionalBaselineOverflow(t *testing.T) {
	s, _ := newTestSync(time.Minute, 2)

	s.Receive(msg("alice", 4))
	s.Receive(msg("alice", 5))
	out, v := s.Receive(msg("alice", 7))
	assert.Equal(t, []uint64{4, 5}, seqs(out))
	assert.Empty(t, v)
	assert.Equal(t, 1, s.Pending("alice"))
}

func TestSynchronizer_ExpireReportsGap(t *testing.T) {
	s, clock := newTestSync(time.Second, 16)

	s.Receive(msg("alice", 1))
	s.Receive(msg("alice", 4))
	s.Receive(msg("alice", 5))

	out, v := s.Expire(clock.Now().Add(500 * time.Millisecond))
	assert.Empty(t, out)
	assert.Empty(t, v)

	clock.Advance(time.Second)
	out, v = s.Expire(clock.Now())
	assert.Equal(t, []uint64{4, 5}, seqs(out))
	require.Len(t, v, 1)
	assert.Equal(t, domain.OrderingViolation{SenderID: "alice", FromSeq: 2, ToSeq: 3}, v[0])
	assert.ErrorIs(t, v[0], domain.ErrOrderingViolation)

	// A late arrival from the abandoned gap is a duplicate now.
	out, _ = s.Receive(msg("alice", 2))
	assert.Empty(t, out)
}

func TestSynchronizer_OverflowSkipsOldestGap(t *testing.T) {
	s, _ := newTestSync(time.Minute, 2)

	s.Receive(msg("alice", 1))
	s.Receive(msg("alice", 3))
	s.Receive(msg("alice", 5))
	out, v := s.Receive(msg("alice", 6))

	assert.Equal(t, []uint64{3}, seqs(out))
	require.Len(t, v, 1)
	assert.Equal(t, uint64(2), v[0].FromSeq)
	assert.Equal(t, uint64(2), v[0].ToSeq)
	assert.Equal(t, 2, s.Pending("alice"))
}

func TestSynchronizer_ResetOrderingFlushes(t *testing.T) {
	s, _ := newTestSync(time.Minute, 16)

	s.Receive(msg("alice", 1))
	s.Receive(msg("alice", 3))

	out, v := s.ResetOrdering()
	assert.Equal(t, []uint64{3}, seqs(out))
	require.Len(t, v, 1)
	assert.Equal(t, uint64(2), v[0].FromSeq)

	// Server sequences restart after a reconnect.
	out, v = s.Receive(msg("alice", 1))
	assert.Equal(t, []uint64{1}, seqs(out))
	assert.Empty(t, v)
}

func TestSynchronizer_Presence(t *testing.T) {
	s, _ := newTestSync(time.Second, 16)
	seen := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	unknown := s.Status("nobody")
	assert.False(t, unknown.IsOnline)
	assert.True(t, unknown.LastSeen.IsZero())

	s.ApplySnapshot(domain.PresenceSnapshot{Version: 5, Records: []domain.PresenceRecord{
		{UserID: "alice", Username: "Dr. Alice", IsOnline: true, Version: 5},
		{UserID: "bob", Username: "Nurse Bob", LastSeen: seen, Version: 3},
	}})
	assert.Equal(t, uint64(5), s.Version())
	assert.True(t, s.Status("alice").IsOnline)

	applied := s.ApplyDelta(domain.PresenceDelta{Version: 6, Changes: []domain.PresenceRecord{
		{UserID: "bob", IsOnline: true, Version: 6},
		{UserID: "alice", IsOnline: false, Version: 4},
	}})
	require.Len(t, applied.Changes, 1)
	assert.Equal(t, "bob", applied.Changes[0].UserID)
	assert.Equal(t, "Nurse Bob", s.Status("bob").Username)
	assert.True(t, s.Status("bob").IsOnline)
	assert.True(t, s.Status("alice").IsOnline)

	// Replayed delta changes nothing.
	assert.Empty(t, s.ApplyDelta(domain.PresenceDelta{Version: 6, Changes: []domain.PresenceRecord{
		{UserID: "bob", IsOnline: true, Version: 6},
	}}).Changes)

	s.ApplySnapshot(domain.PresenceSnapshot{Version: 9, Records: []domain.PresenceRecord{
		{UserID: "carol", IsOnline: true, Version: 9},
	}})
	assert.Equal(t, []string{"carol"}, lo.Map(s.Known(), func(r domain.PresenceRecord, _ int) string { return r.UserID }))
	assert.False(t, s.Status("alice").IsOnline)
}
