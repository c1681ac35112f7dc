package presence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLastSeenStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLastSeenStore()
	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, "u1", at))
	seen, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"u1": at}, seen)

	// The returned map is a copy.
	seen["u2"] = at
	again, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestRedisLastSeenStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" || testing.Short() {
		t.Skip("REDIS_URL not set; skipping redis last-seen test")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	key := "test:presence:last_seen"
	t.Cleanup(func() { client.Del(context.Background(), key) })

	store := NewRedisLastSeenStore(client, key)
	at := time.Date(2026, 5, 1, 8, 30, 0, 123_000_000, time.UTC)
	require.NoError(t, store.Save(ctx, "u1", at))
	require.NoError(t, client.HSet(ctx, key, "junk", "not-a-number").Err())

	seen, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"u1": at}, seen)
}
