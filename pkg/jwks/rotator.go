package jwks

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"gopkg.in/tomb.v2"
)

// Rotator is the background worker applying the keystore's rotation
// policy. It checks on every tick of interval and whenever the keystore
// reports that the signing threshold was reached.
type Rotator struct {
	ks       *KeyStore
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	tomb     tomb.Tomb
}

// NewRotator creates a rotation worker for ks. Call Start to run it.
func NewRotator(ks *KeyStore, interval time.Duration) *Rotator {
	return &Rotator{ks: ks, interval: interval, clock: ks.clock, logger: ks.logger}
}

// Start runs an initial policy check synchronously, so a keystore without a
// current key has one when Start returns, then starts the loop.
func (r *Rotator) Start(ctx context.Context) error {
	if _, err := r.ks.RotateIfNeeded(ctx); err != nil {
		return err
	}
	r.tomb.Go(func() error {
		return r.loop(r.tomb.Context(ctx))
	})
	return nil
}

// Stop terminates the worker and waits for it to exit.
func (r *Rotator) Stop() error {
	r.tomb.Kill(nil)
	return r.tomb.Wait()
}

func (r *Rotator) loop(ctx context.Context) error {
	for {
		select {
		case <-r.tomb.Dying():
			return nil
		case <-r.clock.After(r.interval):
		case <-r.ks.RotationRequested():
		}
		rotated, err := r.ks.RotateIfNeeded(ctx)
		if err != nil {
			r.logger.Error("Key rotation failed", "err", err)
			continue
		}
		if rotated {
			r.logger.Debug("Rotation policy fired", "kid", r.ks.CurrentKid())
		}
	}
}
