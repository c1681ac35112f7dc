package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nfrund/livepresence/internal/database"
	"github.com/nfrund/livepresence/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS directory_users (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL
)`

// Postgres reads users from the directory_users table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed directory.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Shutdown closes the connection pool.
func (p *Postgres) Shutdown() {
	p.pool.Close()
}

// Migrate creates the directory table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := database.ExecContext(ctx)
	defer cancel()
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate directory: %w", err)
	}
	return nil
}

// Upsert inserts or renames a user.
func (p *Postgres) Upsert(ctx context.Context, u domain.User) error {
	query := `INSERT INTO directory_users (id, username) VALUES ($1, $2)
              ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`

	ctx, cancel := database.ExecContext(ctx)
	defer cancel()

	if _, err := p.pool.Exec(ctx, query, u.ID, u.Username); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// Lookup implements domain.UserDirectory.
func (p *Postgres) Lookup(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT id, username FROM directory_users WHERE id = $1`

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var u domain.User
	err := p.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// List implements domain.UserDirectory, ordered by id.
func (p *Postgres) List(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `SELECT id, username FROM directory_users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.User])
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}
