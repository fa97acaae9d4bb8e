// Package sessions keeps login sessions and enforces one live session per
// account through a binding cache. Redis and in-memory backends exist for
// both the session store and the binding cache.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// Service provides session management business logic
type Service struct {
	store  Store
	cache  BindingCache
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock sets the clock used for session expiry
func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clock = clk }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new session service
func NewService(store Store, cache BindingCache, opts ...Option) *Service {
	s := &Service{store: store, cache: cache, clock: clock.WallClock, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the session store
func (s *Service) Store() Store {
	return s.store
}

// CreateSession starts a session for accountID lasting lifetime and binds
// it, evicting the account's previous session.
func (s *Service) CreateSession(ctx context.Context, accountID string, lifetime time.Duration) (Session, error) {
	if accountID == "" {
		return Session{}, fmt.Errorf("account_id is required")
	}
	if lifetime <= 0 {
		return Session{}, fmt.Errorf("lifetime must be positive")
	}
	now := s.clock.Now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	if _, err := s.Bind(ctx, accountID, sess.ID, lifetime); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetSession retrieves a live session by ID
func (s *Service) GetSession(ctx context.Context, id string) (Session, error) {
	return s.store.Get(ctx, id)
}

// Bind records sessionID as the only session of accountID for ttl. When
// another session was bound and the store still holds it, that session is
// deleted and its id returned. Concurrent binds race; the last write wins
// and the next request of the loser reconciles.
func (s *Service) Bind(ctx context.Context, accountID, sessionID string, ttl time.Duration) (string, error) {
	prev, ok, err := s.cache.Get(ctx, accountID)
	if err != nil {
		return "", err
	}

	var evicted string
	if ok && prev != sessionID {
		exists, err := s.store.Exists(ctx, prev)
		if err != nil {
			return "", err
		}
		if exists {
			if err := s.store.Delete(ctx, prev); err != nil {
				return "", err
			}
			evicted = prev
			s.logger.Info("Evicted previous session", "account", accountID)
		}
	}
	if err := s.cache.Set(ctx, accountID, sessionID, ttl); err != nil {
		return "", err
	}
	return evicted, nil
}

// Reconcile runs on every request that carries accountID and sessionID.
// The session must still exist and belong to the account. It is then bound
// for its remaining lifetime, which deletes any other live session bound to
// the account. After two racing logins the next request from either one
// leaves a single session standing.
func (s *Service) Reconcile(ctx context.Context, accountID, sessionID string) (string, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.AccountID != accountID {
		return "", ErrAccountMismatch
	}
	ttl := sess.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return "", ErrNotFound
	}
	return s.Bind(ctx, accountID, sessionID, ttl)
}

// RevokeSession deletes a session and its binding when it is the bound one
func (s *Service) RevokeSession(ctx context.Context, accountID, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	bound, ok, err := s.cache.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if ok && bound == sessionID {
		return s.cache.Delete(ctx, accountID)
	}
	return nil
}
