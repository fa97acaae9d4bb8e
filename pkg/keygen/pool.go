package keygen

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool runs key generation off the caller's goroutine with a bound on how
// many generations run at once.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool running at most size generations concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

type result struct {
	pair *KeyPair
	err  error
}

// Generate waits for a free slot and generates a key. When ctx is done
// first the error is ctx.Err(); a generation already started finishes in
// the background and releases its slot.
func (p *Pool) Generate(ctx context.Context, bits, primes int) (*KeyPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		start := time.Now()
		pair, err := Generate(bits, primes)
		slog.Debug("Key generation finished", "bits", bits, "primes", primes, "duration", time.Since(start), "err", err)
		done <- result{pair: pair, err: err}
	}()

	select {
	case r := <-done:
		return r.pair, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
