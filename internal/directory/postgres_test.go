package directory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nfrund/livepresence/internal/database"
	"github.com/nfrund/livepresence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("DATABASE_URL not set; skipping postgres directory test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	dir := NewPostgres(pool)
	require.NoError(t, dir.Migrate(ctx))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM directory_users WHERE id LIKE 'test-%'`)
	})

	require.NoError(t, dir.Upsert(ctx, domain.User{ID: "test-u1", Username: "Dr. Grey"}))
	require.NoError(t, dir.Upsert(ctx, domain.User{ID: "test-u1", Username: "Dr. Meredith Grey"}))

	u, err := dir.Lookup(ctx, "test-u1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Meredith Grey", u.Username)

	_, err = dir.Lookup(ctx, "test-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	users, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, users, domain.User{ID: "test-u1", Username: "Dr. Meredith Grey"})
}
