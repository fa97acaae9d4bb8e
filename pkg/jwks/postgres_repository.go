package jwks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/authcore/pkg/errors"
)

// PostgresRepository stores a set as one jsonb row of the authcore_jwks
// table, keyed by name ("secret" or "pubkey"). Writers serialise on a
// transaction-scoped advisory lock derived from the name.
type PostgresRepository struct {
	db   *pgxpool.Pool
	name string
}

// NewPostgresRepository creates a PostgreSQL-backed repository
func NewPostgresRepository(db *pgxpool.Pool, name string) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if name == "" {
		return nil, fmt.Errorf("key set name cannot be empty")
	}
	return &PostgresRepository{db: db, name: name}, nil
}

// Load returns the stored set or an empty one when no row exists
func (r *PostgresRepository) Load(ctx context.Context) (*Set, error) {
	var content []byte
	err := r.db.QueryRow(ctx, "SELECT content FROM authcore_jwks WHERE name = $1", r.name).Scan(&content)
	if err == pgx.ErrNoRows {
		return &Set{Keys: []JWK{}}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPersistRead, "failed to load key set %s", r.name)
	}

	var set Set
	if err := json.Unmarshal(content, &set); err != nil {
		return nil, errors.Wrapf(err, errors.KindCorruptJWK, "failed to parse key set %s", r.name)
	}
	if set.Keys == nil {
		set.Keys = []JWK{}
	}
	return &set, nil
}

// Save upserts the set in a single transaction
func (r *PostgresRepository) Save(ctx context.Context, set *Set) error {
	content, err := json.Marshal(set)
	if err != nil {
		return errors.Wrap(err, errors.KindPersistWrite, "failed to marshal key set")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, errors.KindPersistWrite, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "authcore_jwks:"+r.name); err != nil {
		return errors.Wrap(err, errors.KindPersistWrite, "failed to acquire advisory lock")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO authcore_jwks (name, content, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()`,
		r.name, content)
	if err != nil {
		return errors.Wrapf(err, errors.KindPersistWrite, "failed to save key set %s", r.name)
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, errors.KindPersistWrite, "failed to commit key set")
	}
	return nil
}
