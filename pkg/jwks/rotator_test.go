package jwks

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/authcore/pkg/config"
)

func TestRotator(t *testing.T) {
	ctx := context.Background()

	t.Run("StartInstallsKey", func(t *testing.T) {
		gen := &stubGenerator{}
		ks := NewKeyStore(config.DefaultKeystoreConfig(), nil, nil, WithGenerator(gen))
		r := NewRotator(ks, time.Hour)
		require.NoError(t, r.Start(ctx))
		defer r.Stop()

		assert.NotEmpty(t, ks.CurrentKid())
		assert.Equal(t, 1, gen.Calls())
	})

	t.Run("StartFailsWithoutGenerator", func(t *testing.T) {
		ks := NewKeyStore(config.DefaultKeystoreConfig(), nil, nil)
		r := NewRotator(ks, time.Hour)
		assert.Error(t, r.Start(ctx))
	})

	t.Run("RotatesOnThreshold", func(t *testing.T) {
		cfg := config.DefaultKeystoreConfig()
		cfg.FlushThreshold = 2
		ks := NewKeyStore(cfg, nil, nil, WithGenerator(&stubGenerator{}))
		r := NewRotator(ks, time.Hour)
		require.NoError(t, r.Start(ctx))
		defer r.Stop()

		first := ks.CurrentKid()
		for i := 0; i < 2; i++ {
			_, _, err := ks.SigningKey()
			require.NoError(t, err)
		}
		assert.Eventually(t, func() bool {
			return ks.CurrentKid() != first
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("RotatesOnAge", func(t *testing.T) {
		clk := testclock.NewClock(t0)
		cfg := config.DefaultKeystoreConfig()
		ks := NewKeyStore(cfg, nil, nil, WithGenerator(&stubGenerator{}), WithClock(clk))
		r := NewRotator(ks, cfg.CheckInterval)
		require.NoError(t, r.Start(ctx))
		defer r.Stop()

		first := ks.CurrentKid()
		// half of the 30 day lifespan, then one tick
		clk.Advance(15 * 24 * time.Hour)
		require.NoError(t, clk.WaitAdvance(cfg.CheckInterval, time.Second, 1))
		assert.Eventually(t, func() bool {
			return ks.CurrentKid() != first
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("Stop", func(t *testing.T) {
		ks := NewKeyStore(config.DefaultKeystoreConfig(), nil, nil, WithGenerator(&stubGenerator{}))
		r := NewRotator(ks, time.Hour)
		require.NoError(t, r.Start(ctx))
		assert.NoError(t, r.Stop())
	})
}
