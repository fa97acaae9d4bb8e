package token

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/clock"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
)

// KeySource resolves a kid to the key verifying its signatures. Both the
// local keystore and the remote JWKS fetcher implement it.
type KeySource interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// Signer hands out the current signing key.
type Signer interface {
	SigningKey() (string, *rsa.PrivateKey, error)
}

// Codec signs and verifies RS256 tokens.
type Codec struct {
	keys   KeySource
	signer Signer
	issuer string
	leeway time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

// CodecOption configures a Codec
type CodecOption func(*Codec)

// WithSigner enables Sign
func WithSigner(s Signer) CodecOption {
	return func(c *Codec) { c.signer = s }
}

// WithIssuer makes Verify require iss to equal issuer
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) { c.issuer = issuer }
}

// WithLeeway tolerates clock skew on exp, nbf and iat
func WithLeeway(d time.Duration) CodecOption {
	return func(c *Codec) { c.leeway = d }
}

// WithClock sets the clock used for time claims
func WithClock(clk clock.Clock) CodecOption {
	return func(c *Codec) { c.clock = clk }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) CodecOption {
	return func(c *Codec) { c.logger = l }
}

// NewCodec creates a codec verifying with keys.
func NewCodec(keys KeySource, opts ...CodecOption) *Codec {
	c := &Codec{
		keys:   keys,
		clock:  clock.WallClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issuer returns the configured issuer, if any
func (c *Codec) Issuer() string {
	return c.issuer
}

// Sign serialises claims into a compact RS256 token whose header names the
// signing key. Claims are signed as given, perms and quota in the caller's
// order; checking and canonical ordering belong to Issuer.
func (c *Codec) Sign(claims Claims) (string, error) {
	if c.signer == nil {
		return "", errors.New(errors.KindNoCurrentKey, "codec has no signing key source")
	}
	kid, key, err := c.signer.SigningKey()
	if err != nil {
		return "", err
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		c.logger.Error("Failed to sign token", "kid", kid, "err", err)
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	metrics.TokensSigned.Inc()
	return signed, nil
}

// Verify checks raw against the expected audience and returns its claims.
// Checks run in a fixed order and the first failure decides the error
// kind: Decode, UnknownKid (or UpstreamJWKSUnavailable), Decode for the
// signature, Expired, Immature, InvalidIat, InvalidAudience,
// InvalidIssuer, MissingClaim.
func (c *Codec) Verify(ctx context.Context, raw, audience string) (*Claims, error) {
	start := time.Now()
	claims, err := c.verify(ctx, raw, audience)
	metrics.TokenVerifyDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := errors.KindOf(err)
		metrics.TokenVerifyFailures.WithLabelValues(string(kind)).Inc()
		c.logger.Debug("Token verification failed", "kind", kind, "audience", audience)
		return nil, err
	}
	return claims, nil
}

func (c *Codec) verify(ctx context.Context, raw, audience string) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New(errors.KindDecode, "token header has no kid")
		}
		key, err := c.keys.PublicKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, errors.Wrap(err, errors.KindDecode, "failed to decode token")
	}

	now := c.clock.Now()
	if claims.ExpiresAt == nil {
		return nil, errors.New(errors.KindMissingClaim, "token has no exp")
	}
	if !now.Before(claims.ExpiresAt.Add(c.leeway)) {
		return nil, errors.New(errors.KindExpired, "token has expired")
	}
	if claims.NotBefore != nil && now.Add(c.leeway).Before(claims.NotBefore.Time) {
		return nil, errors.New(errors.KindImmature, "token is not valid yet")
	}
	if claims.IssuedAt != nil && now.Add(c.leeway).Before(claims.IssuedAt.Time) {
		return nil, errors.New(errors.KindInvalidIat, "token issued in the future")
	}
	if !containsAudience(claims.Audience, audience) {
		return nil, errors.Newf(errors.KindInvalidAudience, "token not issued for %q", audience)
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, errors.New(errors.KindInvalidIssuer, "token issuer mismatch")
	}
	switch {
	case claims.Profile <= 0:
		return nil, errors.New(errors.KindMissingClaim, "token has no profile")
	case claims.Perms == nil:
		return nil, errors.New(errors.KindMissingClaim, "token has no perms")
	case claims.Quota == nil:
		return nil, errors.New(errors.KindMissingClaim, "token has no quota")
	}
	return &claims, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	if want == "" {
		return false
	}
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
