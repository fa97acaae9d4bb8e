package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/clock/testclock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/authcore/pkg/config"
)

type backend struct {
	store   Store
	cache   BindingCache
	advance func(time.Duration)
	opts    []Option
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			clk := testclock.NewClock(time.Now())
			return backend{
				store:   NewMemoryStore(clk),
				cache:   NewMemoryBindingCache(clk),
				advance: clk.Advance,
				opts:    []Option{WithClock(clk)},
			}
		},
		"redis": func(t *testing.T) backend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return backend{
				store:   NewRedisStore(client, "test"),
				cache:   NewRedisBindingCache(client, "test"),
				advance: mr.FastForward,
			}
		},
	}
}

func TestSingleSessionPerAccount(t *testing.T) {
	ctx := context.Background()
	for name, setup := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("SecondLoginEvictsFirst", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)

				first, err := svc.CreateSession(ctx, "acc-1", time.Hour)
				require.NoError(t, err)
				second, err := svc.CreateSession(ctx, "acc-1", time.Hour)
				require.NoError(t, err)

				_, err = svc.GetSession(ctx, first.ID)
				assert.ErrorIs(t, err, ErrNotFound)
				got, err := svc.GetSession(ctx, second.ID)
				require.NoError(t, err)
				assert.Equal(t, "acc-1", got.AccountID)

				bound, ok, err := b.cache.Get(ctx, "acc-1")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, second.ID, bound)
			})

			t.Run("SameSessionIsKept", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				sess, err := svc.CreateSession(ctx, "acc-1", time.Hour)
				require.NoError(t, err)

				evicted, err := svc.Bind(ctx, "acc-1", sess.ID, time.Hour)
				require.NoError(t, err)
				assert.Empty(t, evicted)
				exists, err := b.store.Exists(ctx, sess.ID)
				require.NoError(t, err)
				assert.True(t, exists)
			})

			t.Run("StaleBindingIsOverwritten", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				require.NoError(t, b.cache.Set(ctx, "acc-2", "gone", time.Hour))

				evicted, err := svc.Bind(ctx, "acc-2", "new", time.Hour)
				require.NoError(t, err)
				assert.Empty(t, evicted)
				bound, _, _ := b.cache.Get(ctx, "acc-2")
				assert.Equal(t, "new", bound)
			})

			t.Run("RequestReconcilesRacingLogins", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				expires := time.Now().Add(time.Hour)
				require.NoError(t, b.store.Create(ctx, Session{ID: "sess-a", AccountID: "117", ExpiresAt: expires}))
				require.NoError(t, b.store.Create(ctx, Session{ID: "sess-b", AccountID: "117", ExpiresAt: expires}))
				require.NoError(t, b.cache.Set(ctx, "117", "sess-b", time.Hour))

				evicted, err := svc.Reconcile(ctx, "117", "sess-a")
				require.NoError(t, err)
				assert.Equal(t, "sess-b", evicted)
				bound, _, _ := b.cache.Get(ctx, "117")
				assert.Equal(t, "sess-a", bound)

				_, err = svc.Reconcile(ctx, "117", "sess-b")
				assert.ErrorIs(t, err, ErrNotFound)
				exists, err := b.store.Exists(ctx, "sess-a")
				require.NoError(t, err)
				assert.True(t, exists)
			})

			t.Run("ReconcileRejectsForeignSession", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				sess, err := svc.CreateSession(ctx, "acc-1", time.Hour)
				require.NoError(t, err)

				_, err = svc.Reconcile(ctx, "acc-2", sess.ID)
				assert.ErrorIs(t, err, ErrAccountMismatch)
				_, ok, _ := b.cache.Get(ctx, "acc-2")
				assert.False(t, ok)
			})

			t.Run("OtherAccountsUntouched", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				a, err := svc.CreateSession(ctx, "acc-a", time.Hour)
				require.NoError(t, err)
				_, err = svc.CreateSession(ctx, "acc-b", time.Hour)
				require.NoError(t, err)

				exists, err := b.store.Exists(ctx, a.ID)
				require.NoError(t, err)
				assert.True(t, exists)
			})

			t.Run("EntriesExpire", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				sess, err := svc.CreateSession(ctx, "acc-1", time.Minute)
				require.NoError(t, err)

				b.advance(2 * time.Minute)
				_, err = svc.GetSession(ctx, sess.ID)
				assert.ErrorIs(t, err, ErrNotFound)
				_, ok, err := b.cache.Get(ctx, "acc-1")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("RevokeSession", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				sess, err := svc.CreateSession(ctx, "acc-1", time.Hour)
				require.NoError(t, err)

				require.NoError(t, svc.RevokeSession(ctx, "acc-1", sess.ID))
				_, err = svc.GetSession(ctx, sess.ID)
				assert.ErrorIs(t, err, ErrNotFound)
				_, ok, _ := b.cache.Get(ctx, "acc-1")
				assert.False(t, ok)
			})

			t.Run("Validation", func(t *testing.T) {
				b := setup(t)
				svc := NewService(b.store, b.cache, b.opts...)
				_, err := svc.CreateSession(ctx, "", time.Hour)
				assert.Error(t, err)
				_, err = svc.CreateSession(ctx, "acc-1", 0)
				assert.Error(t, err)
			})
		})
	}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr(), PoolSize: 2})
	require.NoError(t, err)
	defer client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(context.Background(), config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}
