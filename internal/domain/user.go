package domain

import "context"

// User is an identity known to the directory. Username is display-only; core
// logic keys everything on ID.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserDirectory resolves user identities. It lives in the domain because it's a
// requirement OF the router and presence layer, not of any particular store.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (User, error)
	List(ctx context.Context) ([]User, error)
}
