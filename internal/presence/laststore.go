package presence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LastSeenStore persists the time each user was last online.
type LastSeenStore interface {
	Save(ctx context.Context, userID string, t time.Time) error
	LoadAll(ctx context.Context) (map[string]time.Time, error)
}

// MemoryLastSeenStore keeps last-seen times in process.
type MemoryLastSeenStore struct {
	mu   sync.RWMutex
	seen map[string]time.Time
}

// NewMemoryLastSeenStore creates an empty in-memory store.
func NewMemoryLastSeenStore() *MemoryLastSeenStore {
	return &MemoryLastSeenStore{seen: make(map[string]time.Time)}
}

func (m *MemoryLastSeenStore) Save(_ context.Context, userID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[userID] = t
	return nil
}

func (m *MemoryLastSeenStore) LoadAll(_ context.Context) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]time.Time, len(m.seen))
	for k, v := range m.seen {
		out[k] = v
	}
	return out, nil
}

// DefaultLastSeenKey is the Redis hash holding userID -> unix milliseconds.
const DefaultLastSeenKey = "presence:last_seen"

// RedisLastSeenStore keeps last-seen times in a Redis hash.
type RedisLastSeenStore struct {
	client *redis.Client
	key    string
}

// NewRedisLastSeenStore creates a store on the given hash key; an empty key
// uses DefaultLastSeenKey.
func NewRedisLastSeenStore(client *redis.Client, key string) *RedisLastSeenStore {
	if key == "" {
		key = DefaultLastSeenKey
	}
	return &RedisLastSeenStore{client: client, key: key}
}

func (s *RedisLastSeenStore) Save(ctx context.Context, userID string, t time.Time) error {
	if err := s.client.HSet(ctx, s.key, userID, t.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("failed to save last seen: %w", err)
	}
	return nil
}

func (s *RedisLastSeenStore) LoadAll(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load last seen: %w", err)
	}

	out := make(map[string]time.Time, len(raw))
	for userID, v := range raw {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			// Skip entries not written by this store.
			continue
		}
		out[userID] = time.UnixMilli(ms).UTC()
	}
	return out, nil
}

// Shutdown closes the Redis client.
func (s *RedisLastSeenStore) Shutdown() error {
	return s.client.Close()
}
