package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on the authcore_profile tables.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store
func NewPostgresStore(db *pgxpool.Pool) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &PostgresStore{db: db}, nil
}

// Get reads the profile and its rows in one read-only transaction.
func (s *PostgresStore) Get(ctx context.Context, id int) (Record, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rec := Record{ID: id}
	err = tx.QueryRow(ctx, "SELECT active, priv_status FROM authcore_profile WHERE id = $1", id).
		Scan(&rec.Active, &rec.PrivStatus)
	if err == pgx.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get profile: %w", err)
	}

	rows, err := tx.Query(ctx, "SELECT role_id, expiry FROM authcore_profile_role WHERE profile_id = $1 ORDER BY role_id", id)
	if err != nil {
		return Record{}, fmt.Errorf("failed to query roles: %w", err)
	}
	rec.Roles, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (RoleRecord, error) {
		var r RoleRecord
		err := row.Scan(&r.RoleID, &r.Expiry)
		return r, err
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to read roles: %w", err)
	}

	rows, err = tx.Query(ctx, "SELECT app_code, codename FROM authcore_profile_perm WHERE profile_id = $1 ORDER BY app_code, codename", id)
	if err != nil {
		return Record{}, fmt.Errorf("failed to query perms: %w", err)
	}
	rec.Perms, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (PermRecord, error) {
		var p PermRecord
		err := row.Scan(&p.AppCode, &p.Codename)
		return p, err
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to read perms: %w", err)
	}

	rows, err = tx.Query(ctx, "SELECT app_code, mat_code, maxnum, expiry FROM authcore_profile_quota WHERE profile_id = $1 ORDER BY app_code, mat_code", id)
	if err != nil {
		return Record{}, fmt.Errorf("failed to query quota: %w", err)
	}
	rec.Quota, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuotaRecord, error) {
		var q QuotaRecord
		err := row.Scan(&q.AppCode, &q.MatCode, &q.MaxNum, &q.Expiry)
		return q, err
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to read quota: %w", err)
	}
	return rec, nil
}

// Save replaces the profile and all its rows in one transaction.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO authcore_profile (id, active, priv_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active, priv_status = EXCLUDED.priv_status, updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.Active, rec.PrivStatus, now)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	for _, table := range []string{"authcore_profile_role", "authcore_profile_perm", "authcore_profile_quota"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE profile_id = $1", rec.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	batch := &pgx.Batch{}
	for _, r := range rec.Roles {
		batch.Queue("INSERT INTO authcore_profile_role (profile_id, role_id, expiry) VALUES ($1, $2, $3)", rec.ID, r.RoleID, r.Expiry)
	}
	for _, p := range rec.Perms {
		batch.Queue("INSERT INTO authcore_profile_perm (profile_id, app_code, codename) VALUES ($1, $2, $3)", rec.ID, p.AppCode, p.Codename)
	}
	for _, q := range rec.Quota {
		batch.Queue("INSERT INTO authcore_profile_quota (profile_id, app_code, mat_code, maxnum, expiry) VALUES ($1, $2, $3, $4, $5)",
			rec.ID, q.AppCode, q.MatCode, q.MaxNum, q.Expiry)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save profile rows: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit profile: %w", err)
	}
	return nil
}
