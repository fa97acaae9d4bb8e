package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
)

type memoryEntry struct {
	value   any
	expires time.Time
}

// memoryMap is a mutex-guarded map whose entries expire lazily.
type memoryMap struct {
	mu    sync.Mutex
	clock clock.Clock
	items map[string]memoryEntry
}

func newMemoryMap(clk clock.Clock) *memoryMap {
	if clk == nil {
		clk = clock.WallClock
	}
	return &memoryMap{clock: clk, items: map[string]memoryEntry{}}
}

func (m *memoryMap) get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.items, key)
		return nil, false
	}
	return e.value, true
}

func (m *memoryMap) set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = m.clock.Now().Add(ttl)
	}
	m.items[key] = memoryEntry{value: value, expires: expires}
}

func (m *memoryMap) delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	m *memoryMap
}

// NewMemoryStore creates an empty store. A nil clock means the wall clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{m: newMemoryMap(clk)}
}

func (s *MemoryStore) Create(ctx context.Context, sess Session) error {
	ttl := sess.ExpiresAt.Sub(s.m.clock.Now())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}
	s.m.set(sess.ID, sess, ttl)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	v, ok := s.m.get(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	return v.(Session), nil
}

func (s *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := s.m.get(id)
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.m.delete(id)
	return nil
}

// MemoryBindingCache is an in-process BindingCache
type MemoryBindingCache struct {
	m *memoryMap
}

// NewMemoryBindingCache creates an empty cache. A nil clock means the wall clock.
func NewMemoryBindingCache(clk clock.Clock) *MemoryBindingCache {
	return &MemoryBindingCache{m: newMemoryMap(clk)}
}

func (c *MemoryBindingCache) Get(ctx context.Context, accountID string) (string, bool, error) {
	v, ok := c.m.get(accountID)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (c *MemoryBindingCache) Set(ctx context.Context, accountID, sessionID string, ttl time.Duration) error {
	c.m.set(accountID, sessionID, ttl)
	return nil
}

func (c *MemoryBindingCache) Delete(ctx context.Context, accountID string) error {
	c.m.delete(accountID)
	return nil
}
