package jwks

import (
	"context"
	"sync"
)

// Repository persists one key set. The keystore uses two: one for the
// private set and one for the public set.
type Repository interface {
	// Load returns the stored set, or an empty set when nothing is stored.
	Load(ctx context.Context) (*Set, error)

	// Save replaces the stored set atomically.
	Save(ctx context.Context, set *Set) error
}

// InMemoryRepository keeps a set in memory
type InMemoryRepository struct {
	mutex sync.RWMutex
	set   *Set
}

// NewInMemoryRepository creates an empty in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Load returns a copy of the stored set
func (r *InMemoryRepository) Load(ctx context.Context) (*Set, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.set == nil {
		return &Set{Keys: []JWK{}}, nil
	}
	return copySet(r.set), nil
}

// Save stores a copy of set
func (r *InMemoryRepository) Save(ctx context.Context, set *Set) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.set = copySet(set)
	return nil
}

func copySet(set *Set) *Set {
	out := &Set{Metadata: set.Metadata, Keys: make([]JWK, len(set.Keys))}
	copy(out.Keys, set.Keys)
	return out
}
