package jwks

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/keygen"
	"github.com/tendant/authcore/pkg/metrics"
)

// Generator produces new key material for rotation.
type Generator interface {
	Generate(ctx context.Context, bits, primes int) (*keygen.KeyPair, error)
}

// KeyStore holds the current signing key and the overlap keys still valid
// for verification.
//
// The current key rotates when its age exceeds RotateFraction of the
// lifespan, or when FlushThreshold signings have been made with it. A
// demoted key stays in the set until now+lifespan so tokens signed just
// before rotation keep verifying.
type KeyStore struct {
	cfg       config.KeystoreConfig
	secret    Repository
	pubkey    Repository
	generator Generator
	clock     clock.Clock
	logger    *slog.Logger

	rotateMu sync.Mutex

	mu        sync.RWMutex
	current   string
	promoted  time.Time
	signings  int
	private   map[string]JWK
	public    map[string]JWK
	signers   map[string]*rsa.PrivateKey
	verifiers map[string]*rsa.PublicKey

	rotateCh chan struct{}
}

// Option configures a KeyStore
type Option func(*KeyStore)

// WithGenerator sets the key generator used by Rotate
func WithGenerator(g Generator) Option {
	return func(ks *KeyStore) { ks.generator = g }
}

// WithClock sets the clock used for ages and expiries
func WithClock(c clock.Clock) Option {
	return func(ks *KeyStore) { ks.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(ks *KeyStore) { ks.logger = l }
}

// NewKeyStore creates an empty keystore persisting to secret and pubkey.
// Either repository may be nil: a verifier-only keystore has no secret
// repository, and an in-process keystore may have neither.
func NewKeyStore(cfg config.KeystoreConfig, secret, pubkey Repository, opts ...Option) *KeyStore {
	ks := &KeyStore{
		cfg:       cfg,
		secret:    secret,
		pubkey:    pubkey,
		clock:     clock.WallClock,
		logger:    slog.Default(),
		private:   map[string]JWK{},
		public:    map[string]JWK{},
		signers:   map[string]*rsa.PrivateKey{},
		verifiers: map[string]*rsa.PublicKey{},
		rotateCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// NewFileKeyStore creates a keystore backed by the two files named in cfg
// and loads them.
func NewFileKeyStore(ctx context.Context, cfg config.KeystoreConfig, opts ...Option) (*KeyStore, error) {
	var secret, pubkey Repository
	if cfg.Secret.Filepath != "" {
		secret = NewFileRepository(cfg.Secret.Filepath, cfg.NumBackups)
	}
	if cfg.Pubkey.Filepath != "" {
		pubkey = NewFileRepository(cfg.Pubkey.Filepath, cfg.NumBackups)
	}
	ks := NewKeyStore(cfg, secret, pubkey, opts...)
	if err := ks.Load(ctx); err != nil {
		return nil, err
	}
	return ks, nil
}

// Load replaces the in-memory sets with the persisted ones, dropping
// expired keys.
func (ks *KeyStore) Load(ctx context.Context) error {
	now := ks.clock.Now()
	private := map[string]JWK{}
	public := map[string]JWK{}
	var meta Metadata

	if ks.secret != nil {
		set, err := ks.secret.Load(ctx)
		if err != nil {
			return err
		}
		meta = set.Metadata
		for _, k := range set.Keys {
			if k.Expired(now) {
				continue
			}
			if _, dup := private[k.Kid]; dup {
				return errors.Newf(errors.KindCorruptJWK, "duplicate kid %s in private set", k.Kid)
			}
			private[k.Kid] = k
			public[k.Kid] = k.Public().withExpOf(k)
		}
	}
	if ks.pubkey != nil {
		set, err := ks.pubkey.Load(ctx)
		if err != nil {
			return err
		}
		for _, k := range set.Keys {
			if k.Expired(now) {
				continue
			}
			if _, ok := public[k.Kid]; !ok {
				public[k.Kid] = k.Public().withExpOf(k)
			}
		}
	}

	signers := map[string]*rsa.PrivateKey{}
	for kid, k := range private {
		key, err := k.PrivateKey()
		if err != nil {
			return err
		}
		signers[kid] = key
	}
	verifiers := map[string]*rsa.PublicKey{}
	for kid, k := range public {
		key, err := k.PublicKey()
		if err != nil {
			return err
		}
		verifiers[kid] = key
	}

	current := meta.Current
	if _, ok := private[current]; !ok {
		current = ""
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.private, ks.public = private, public
	ks.signers, ks.verifiers = signers, verifiers
	ks.current = current
	ks.promoted = meta.Created
	ks.signings = 0
	ks.updateGauges()
	ks.logger.Info("Loaded keystore", "current", current, "private", len(private), "public", len(public))
	return nil
}

// Choose returns the current signing key and counts one signing against
// the flush threshold.
func (ks *KeyStore) Choose() (string, JWK, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.current == "" {
		return "", JWK{}, errors.New(errors.KindNoCurrentKey, "keystore has no current signing key")
	}
	ks.countSigning()
	return ks.current, ks.private[ks.current], nil
}

// SigningKey is Choose returning the parsed RSA key.
func (ks *KeyStore) SigningKey() (string, *rsa.PrivateKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.current == "" {
		return "", nil, errors.New(errors.KindNoCurrentKey, "keystore has no current signing key")
	}
	ks.countSigning()
	return ks.current, ks.signers[ks.current], nil
}

func (ks *KeyStore) countSigning() {
	ks.signings++
	if ks.cfg.FlushThreshold > 0 && ks.signings >= ks.cfg.FlushThreshold {
		select {
		case ks.rotateCh <- struct{}{}:
		default:
		}
	}
}

// Lookup returns the public form of kid.
func (ks *KeyStore) Lookup(kid string) (JWK, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.public[kid]
	if !ok || k.Expired(ks.clock.Now()) {
		return JWK{}, errors.Newf(errors.KindUnknownKid, "unknown kid %q", kid)
	}
	return k, nil
}

// PublicKey resolves kid for token verification.
func (ks *KeyStore) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.public[kid]
	if !ok || k.Expired(ks.clock.Now()) {
		return nil, errors.Newf(errors.KindUnknownKid, "unknown kid %q", kid)
	}
	return ks.verifiers[kid], nil
}

// CurrentKid returns the current kid, or "" when there is none
func (ks *KeyStore) CurrentKid() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.current
}

// Signings returns the number of signings since the last rotation
func (ks *KeyStore) Signings() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.signings
}

// PublicJWKS returns the unexpired public keys, latest expiry first.
func (ks *KeyStore) PublicJWKS() JWKS {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	now := ks.clock.Now()
	keys := make([]JWK, 0, len(ks.public))
	for _, k := range ks.public {
		if !k.Expired(now) {
			keys = append(keys, k)
		}
	}
	sortByExpiry(keys)
	for i := range keys {
		keys[i] = keys[i].Public()
	}
	return JWKS{Keys: keys}
}

// NeedsRotation reports whether the rotation policy fires now.
func (ks *KeyStore) NeedsRotation() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.current == "" {
		return true
	}
	if ks.cfg.FlushThreshold > 0 && ks.signings >= ks.cfg.FlushThreshold {
		return true
	}
	maxAge := time.Duration(float64(ks.cfg.Lifespan()) * ks.cfg.RotateFraction)
	return ks.clock.Now().Sub(ks.promoted) >= maxAge
}

// RotationRequested is signalled when the signing count reaches the flush
// threshold.
func (ks *KeyStore) RotationRequested() <-chan struct{} {
	return ks.rotateCh
}

// Rotate generates a new current key, demotes the previous current key to
// overlap until now+lifespan, drops expired keys and flushes.
func (ks *KeyStore) Rotate(ctx context.Context) error {
	if ks.generator == nil {
		return errors.New(errors.KindRotateWithoutSeed, "keystore has no key generator")
	}
	ks.rotateMu.Lock()
	defer ks.rotateMu.Unlock()

	pair, err := ks.generator.Generate(ctx, ks.cfg.KeySizeBits, ks.cfg.NumPrimes)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	now := ks.clock.Now()
	lifespan := ks.cfg.Lifespan()
	kid := NewKid()
	jwk, err := FromKeyPair(kid, pair, now.Add(lifespan))
	if err != nil {
		return err
	}

	ks.mu.Lock()
	previous := ks.current
	if previous != "" {
		ks.private[previous] = ks.private[previous].WithExp(now.Add(lifespan))
		ks.public[previous] = ks.public[previous].WithExp(now.Add(lifespan))
	}
	evicted := ks.evictExpired(now)
	ks.private[kid] = jwk
	ks.public[kid] = jwk.Public().withExpOf(jwk)
	ks.signers[kid] = pair.Key
	ks.verifiers[kid] = &pair.Key.PublicKey
	ks.current = kid
	ks.promoted = now
	ks.signings = 0
	ks.updateGauges()
	secretSet, pubkeySet := ks.snapshot()
	ks.mu.Unlock()

	metrics.KeystoreRotations.Inc()
	ks.logger.Info("Rotated signing key", "kid", kid, "previous", previous, "evicted", evicted)

	return ks.persist(ctx, secretSet, pubkeySet)
}

// RotateIfNeeded rotates when NeedsRotation holds.
func (ks *KeyStore) RotateIfNeeded(ctx context.Context) (bool, error) {
	if !ks.NeedsRotation() {
		return false, nil
	}
	if err := ks.Rotate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Flush persists both sets.
func (ks *KeyStore) Flush(ctx context.Context) error {
	ks.mu.RLock()
	secretSet, pubkeySet := ks.snapshot()
	ks.mu.RUnlock()
	return ks.persist(ctx, secretSet, pubkeySet)
}

func (ks *KeyStore) persist(ctx context.Context, secretSet, pubkeySet *Set) error {
	if ks.secret != nil {
		if err := ks.secret.Save(ctx, secretSet); err != nil {
			return err
		}
	}
	if ks.pubkey != nil {
		if err := ks.pubkey.Save(ctx, pubkeySet); err != nil {
			return err
		}
	}
	return nil
}

// evictExpired must be called with mu held.
func (ks *KeyStore) evictExpired(now time.Time) []string {
	var evicted []string
	for kid, k := range ks.public {
		if k.Expired(now) {
			delete(ks.public, kid)
			delete(ks.private, kid)
			delete(ks.signers, kid)
			delete(ks.verifiers, kid)
			evicted = append(evicted, kid)
		}
	}
	return evicted
}

// snapshot must be called with mu held.
func (ks *KeyStore) snapshot() (*Set, *Set) {
	meta := Metadata{
		Created:        ks.promoted.UTC(),
		FlushThreshold: ks.cfg.FlushThreshold,
	}
	if cur, ok := ks.private[ks.current]; ok && cur.Exp != nil {
		meta.Expired = *cur.Exp
	}

	private := make([]JWK, 0, len(ks.private))
	for _, k := range ks.private {
		private = append(private, k)
	}
	public := make([]JWK, 0, len(ks.public))
	for _, k := range ks.public {
		public = append(public, k)
	}
	sortByExpiry(private)
	sortByExpiry(public)

	secretMeta := meta
	secretMeta.Current = ks.current
	return &Set{Metadata: secretMeta, Keys: private}, &Set{Metadata: meta, Keys: public}
}

// updateGauges must be called with mu held.
func (ks *KeyStore) updateGauges() {
	overlap := len(ks.public)
	if ks.current != "" {
		overlap--
		metrics.KeystoreKeys.WithLabelValues("current").Set(1)
	} else {
		metrics.KeystoreKeys.WithLabelValues("current").Set(0)
	}
	metrics.KeystoreKeys.WithLabelValues("overlap").Set(float64(overlap))
}
