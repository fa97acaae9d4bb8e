package profile

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreConfig contains configuration for creating a profile store
type StoreConfig struct {
	// Pool is required for PostgreSQL stores
	Pool *pgxpool.Pool
	// Path is required for file-based stores
	Path string
}

// NewStore creates a profile store based on the persistence type
func NewStore(persistenceType string, config StoreConfig) (Store, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres store")
		}
		return NewPostgresStore(config.Pool)
	case "file":
		if config.Path == "" {
			return nil, fmt.Errorf("path required for file store")
		}
		return NewFileStore(config.Path)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file)", persistenceType)
	}
}
