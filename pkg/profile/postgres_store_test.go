package profile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tendant/authcore/pkg/token"
)

func setupTestDatabase(t *testing.T) (*pgxpool.Pool, func()) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithInitScripts(filepath.Join("../../migrations", "authcore_db.sql")),
		postgres.WithDatabase("authcore_db"),
		postgres.WithUsername("authcore"),
		postgres.WithPassword("pwd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	poolConfig, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return pool, cleanup
}

func TestPostgresStore(t *testing.T) {
	pool, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	store, err := NewPostgresStore(pool)
	require.NoError(t, err)

	t.Run("NilPool", func(t *testing.T) {
		_, err := NewPostgresStore(nil)
		assert.Error(t, err)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Get(ctx, 404)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		rec := sampleRecord()
		// the table keys quota on (app, material)
		rec.Quota = rec.Quota[1:]
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, got.Active)
		assert.Equal(t, 1, got.PrivStatus)
		assert.Len(t, got.Roles, 3)
		assert.Len(t, got.Perms, 2)
		assert.Len(t, got.Quota, 3)
	})

	t.Run("SaveReplacesRows", func(t *testing.T) {
		rec := Record{ID: 11, Active: true, Perms: []PermRecord{{AppCode: 1, Codename: "view_profile"}}}
		require.NoError(t, store.Save(ctx, rec))
		rec.Perms = []PermRecord{{AppCode: 2, Codename: "add_product"}}
		require.NoError(t, store.Save(ctx, rec))

		got, err := store.Get(ctx, 11)
		require.NoError(t, err)
		assert.Equal(t, rec.Perms, got.Perms)
		assert.Empty(t, got.Quota)
	})

	t.Run("ServiceGrant", func(t *testing.T) {
		rec := Record{
			ID:     12,
			Active: true,
			Perms:  []PermRecord{{AppCode: 1, Codename: "view_profile"}},
			Quota:  []QuotaRecord{{AppCode: 1, MatCode: 1, MaxNum: 5, Expiry: at(24 * time.Hour * 3650)}},
		}
		require.NoError(t, store.Save(ctx, rec))

		grant, err := NewService(store).Grant(ctx, 12)
		require.NoError(t, err)
		assert.Equal(t, []token.Quota{{AppCode: 1, MatCode: 1, MaxNum: 5}}, grant.Quota)
	})
}
