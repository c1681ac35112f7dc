package chat

import (
	"sync"

	"golang.org/x/time/rate"
)

// SenderLimiter keeps one token bucket per sender.
type SenderLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewSenderLimiter allows perSecond messages per sender with the given burst.
// A non-positive perSecond disables limiting.
func NewSenderLimiter(perSecond float64, burst int) *SenderLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &SenderLimiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the sender may send one more message now.
func (l *SenderLimiter) Allow(senderID string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[senderID]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[senderID] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

// Forget drops the sender's bucket, e.g. when their last session closes.
func (l *SenderLimiter) Forget(senderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, senderID)
}
