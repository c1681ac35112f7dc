package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nfrund/livepresence/internal/domain"
	"github.com/samber/lo"
)

// Memory is an in-process user directory.
type Memory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewMemory creates a directory seeded with users.
func NewMemory(users ...domain.User) *Memory {
	return &Memory{
		users: lo.SliceToMap(users, func(u domain.User) (string, domain.User) {
			return u.ID, u
		}),
	}
}

// Upsert adds or replaces a user.
func (m *Memory) Upsert(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// Lookup implements domain.UserDirectory.
func (m *Memory) Lookup(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %q: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

// List implements domain.UserDirectory, ordered by id.
func (m *Memory) List(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := lo.Values(m.users)
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
