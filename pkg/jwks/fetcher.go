package jwks

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
)

// MaxJWKSResponseBytes caps the size of a remote JWKS document.
const MaxJWKSResponseBytes = 102400

// MergeStats summarises one refresh of the remote key set.
type MergeStats struct {
	Added     int
	Removed   int
	Discarded int
}

// Fetcher is the verifier-side cache of a remote JWKS endpoint. Keys are
// cached for ttl; a lookup of an unknown kid triggers one synchronous
// refetch, shared by all concurrent callers.
type Fetcher struct {
	url     string
	ttl     time.Duration
	timeout time.Duration
	client  *http.Client
	clock   clock.Clock
	logger  *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the client used for fetching
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithFetchTimeout bounds every fetch
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.timeout = d }
}

// WithFetcherClock sets the clock used for the TTL
func WithFetcherClock(c clock.Clock) FetcherOption {
	return func(f *Fetcher) { f.clock = c }
}

// NewFetcher creates a fetcher for url caching keys for ttl.
func NewFetcher(url string, ttl time.Duration, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		url:     url,
		ttl:     ttl,
		timeout: 10 * time.Second,
		client:  http.DefaultClient,
		clock:   clock.WallClock,
		logger:  slog.Default(),
		keys:    map[string]*rsa.PublicKey{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the remote endpoint
func (f *Fetcher) URL() string {
	return f.url
}

// PublicKey resolves kid, refetching when the cache is stale or the kid is
// unknown. A failed refetch is UpstreamJWKSUnavailable unless a stale copy
// of the key is still cached, which is then used.
func (f *Fetcher) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok, fresh := f.cached(kid)
	if ok && fresh {
		return key, nil
	}

	if _, err := f.Refresh(ctx); err != nil {
		if ok {
			f.logger.Warn("Using stale JWKS entry after failed refresh", "kid", kid, "url", f.url, "err", err)
			return key, nil
		}
		return nil, err
	}

	key, ok, _ = f.cached(kid)
	if !ok {
		return nil, errors.Newf(errors.KindUnknownKid, "unknown kid %q", kid)
	}
	return key, nil
}

func (f *Fetcher) cached(kid string) (*rsa.PublicKey, bool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	key, ok := f.keys[kid]
	fresh := !f.fetchedAt.IsZero() && f.clock.Now().Sub(f.fetchedAt) < f.ttl
	return key, ok, fresh
}

// Refresh fetches the remote set and replaces the cache. Concurrent calls
// share a single request; each caller stops waiting when its ctx is done.
func (f *Fetcher) Refresh(ctx context.Context) (MergeStats, error) {
	ch := f.group.DoChan(f.url, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return MergeStats{}, res.Err
		}
		return res.Val.(MergeStats), nil
	case <-ctx.Done():
		return MergeStats{}, errors.Wrap(ctx.Err(), errors.KindUpstreamJWKSUnavailable, "JWKS fetch abandoned")
	}
}

func (f *Fetcher) fetch(ctx context.Context) (MergeStats, error) {
	fail := func(err error, msg string) (MergeStats, error) {
		metrics.JWKSFetches.WithLabelValues("error").Inc()
		f.logger.Error("JWKS fetch failed", "url", f.url, "err", err)
		return MergeStats{}, errors.Wrap(err, errors.KindUpstreamJWKSUnavailable, msg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fail(err, "invalid JWKS request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fail(err, "JWKS endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Errorf("status %d", resp.StatusCode), "JWKS endpoint returned an error")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxJWKSResponseBytes+1))
	if err != nil {
		return fail(err, "failed to read JWKS response")
	}
	if len(body) > MaxJWKSResponseBytes {
		return fail(fmt.Errorf("response exceeds %d bytes", MaxJWKSResponseBytes), "JWKS response too large")
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return fail(err, "failed to parse JWKS response")
	}

	keys, discarded := f.extract(set)
	stats := MergeStats{Discarded: discarded}

	f.mu.Lock()
	for kid := range keys {
		if _, ok := f.keys[kid]; !ok {
			stats.Added++
		}
	}
	for kid := range f.keys {
		if _, ok := keys[kid]; !ok {
			stats.Removed++
		}
	}
	f.keys = keys
	f.fetchedAt = f.clock.Now()
	f.mu.Unlock()

	metrics.JWKSFetches.WithLabelValues("ok").Inc()
	f.logger.Info("JWKS refreshed", "url", f.url, "keys", len(keys),
		"added", stats.Added, "removed", stats.Removed, "discarded", stats.Discarded)
	return stats, nil
}

// extract keeps RSA signing keys with a kid and drops everything else.
func (f *Fetcher) extract(set jwk.Set) (map[string]*rsa.PublicKey, int) {
	keys := map[string]*rsa.PublicKey{}
	discarded := 0
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" || key.KeyType() != jwa.RSA {
			discarded++
			continue
		}
		if use := key.KeyUsage(); use != "" && use != string(jwk.ForSignature) {
			discarded++
			continue
		}
		if alg := key.Algorithm(); alg != nil && alg.String() != "" && alg.String() != jwa.RS256.String() {
			discarded++
			continue
		}
		pub, err := key.PublicKey()
		if err != nil {
			discarded++
			continue
		}
		var raw rsa.PublicKey
		if err := pub.Raw(&raw); err != nil {
			discarded++
			continue
		}
		if _, dup := keys[kid]; dup {
			discarded++
			continue
		}
		keys[kid] = &raw
	}
	return keys, discarded
}
