package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown or expired sessions
var ErrNotFound = errors.New("session not found")

// ErrAccountMismatch is returned when a session belongs to another account
var ErrAccountMismatch = errors.New("session belongs to another account")

// Session is a login session of an account.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store holds sessions until they expire or are deleted.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// BindingCache maps an account to the one session allowed for it.
type BindingCache interface {
	// Get returns the session bound to accountID and whether one is bound.
	Get(ctx context.Context, accountID string) (string, bool, error)
	Set(ctx context.Context, accountID, sessionID string, ttl time.Duration) error
	Delete(ctx context.Context, accountID string) error
}
