package jwks

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/errors"
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

func TestPostgresRepository(t *testing.T) {
	pool, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("NewPostgresRepository_Validation", func(t *testing.T) {
		_, err := NewPostgresRepository(nil, "secret")
		assert.Error(t, err)
		_, err = NewPostgresRepository(pool, "")
		assert.Error(t, err)
	})

	t.Run("Load_Empty", func(t *testing.T) {
		repo, err := NewPostgresRepository(pool, "empty")
		require.NoError(t, err)
		set, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, set.Keys)
	})

	t.Run("KeyStoreRoundTrip", func(t *testing.T) {
		secret, err := NewPostgresRepository(pool, "secret")
		require.NoError(t, err)
		pubkey, err := NewPostgresRepository(pool, "pubkey")
		require.NoError(t, err)

		ks := NewKeyStore(config.DefaultKeystoreConfig(), secret, pubkey, WithGenerator(&stubGenerator{}))
		require.NoError(t, ks.Rotate(ctx))
		require.NoError(t, ks.Rotate(ctx))

		reloaded := NewKeyStore(config.DefaultKeystoreConfig(), secret, pubkey)
		require.NoError(t, reloaded.Load(ctx))
		assert.Equal(t, ks.CurrentKid(), reloaded.CurrentKid())
		assert.Len(t, reloaded.PublicJWKS().Keys, 2)
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		repo, err := NewPostgresRepository(pool, "concurrent")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, repo.Save(ctx, &Set{Metadata: Metadata{FlushThreshold: i}, Keys: []JWK{}}))
			}(i)
		}
		wg.Wait()

		set, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, set.Keys)
	})

	t.Run("CorruptContent", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO authcore_jwks (name, content) VALUES ('broken', '{"keys": 42}')`)
		require.NoError(t, err)
		repo, err := NewPostgresRepository(pool, "broken")
		require.NoError(t, err)
		_, err = repo.Load(ctx)
		assert.True(t, errors.IsKind(err, errors.KindCorruptJWK))
	})
}
