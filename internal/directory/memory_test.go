package directory

import (
	"context"
	"testing"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemory(
		domain.User{ID: "u2", Username: "Nurse Joy"},
		domain.User{ID: "u1", Username: "Dr. Grey"},
	)

	u, err := dir.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Grey", u.Username)

	_, err = dir.Lookup(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, dir.Upsert(context.Background(), domain.User{ID: "u3", Username: "Dr. House"}))
	users, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, []string{users[0].ID, users[1].ID, users[2].ID})
}
