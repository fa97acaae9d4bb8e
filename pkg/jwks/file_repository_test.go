package jwks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/authcore/pkg/errors"
)

func TestFileRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Load_MissingFile", func(t *testing.T) {
		repo := NewFileRepository(filepath.Join(t.TempDir(), "keys.json"), 5)
		set, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, set.Keys)
	})

	t.Run("Load_EmptyFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys.json")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		set, err := NewFileRepository(path, 5).Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, set.Keys)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "keys.json")
		repo := NewFileRepository(path, 5)
		exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		in := &Set{
			Metadata: Metadata{Created: t0, Expired: exp, FlushThreshold: 10, Current: "a"},
			Keys:     []JWK{{Kid: "a", Kty: KeyTypeRSA, Use: UseSig, Alg: AlgRS256, N: "n", E: "AQAB"}},
		}
		require.NoError(t, repo.Save(ctx, in))

		out, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, in.Metadata.Current, out.Metadata.Current)
		assert.True(t, in.Metadata.Expired.Equal(out.Metadata.Expired))
		assert.Equal(t, in.Keys, out.Keys)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.Contains(e.Name(), ".tmp"), "staging file left behind: %s", e.Name())
		}
	})

	t.Run("Backups_Capped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys.json")
		repo := NewFileRepository(path, 5)
		for i := 0; i < 8; i++ {
			require.NoError(t, repo.Save(ctx, &Set{Metadata: Metadata{FlushThreshold: i}, Keys: []JWK{}}))
			time.Sleep(2 * time.Millisecond)
		}
		backups, err := repo.Backups()
		require.NoError(t, err)
		assert.Len(t, backups, 5)
		for _, b := range backups {
			assert.True(t, strings.HasPrefix(filepath.Base(b), "old_"))
		}

		set, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, set.Metadata.FlushThreshold)
	})

	t.Run("NoBackups", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys.json")
		repo := NewFileRepository(path, 0)
		for i := 0; i < 3; i++ {
			require.NoError(t, repo.Save(ctx, &Set{Keys: []JWK{}}))
		}
		backups, err := repo.Backups()
		require.NoError(t, err)
		assert.Empty(t, backups)
	})

	t.Run("Load_WaitsForWriterLock", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "keys.json")
		repo := NewFileRepository(path, 0)
		require.NoError(t, repo.Save(ctx, &Set{Keys: []JWK{}}))

		unlock, err := lockFile(ctx, repo.lockPath(), true)
		require.NoError(t, err)
		defer unlock()

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = repo.Load(cctx)
		if err == nil {
			t.Skip("advisory locks are not enforced on this platform")
		}
		assert.True(t, errors.IsKind(err, errors.KindPersistRead))
	})
}

func TestInMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	set, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, set.Keys)

	in := &Set{Keys: []JWK{{Kid: "a"}}}
	require.NoError(t, repo.Save(ctx, in))
	in.Keys[0].Kid = "mutated"

	out, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", out.Keys[0].Kid)
}
