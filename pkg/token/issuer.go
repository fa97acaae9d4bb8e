package token

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/errors"
)

// AppCoder resolves an audience tag to its app code.
type AppCoder interface {
	AppCode(name string) (int, bool)
}

// Issuer turns a profile's grant into a signed access token.
type Issuer struct {
	codec    *Codec
	issuer   string
	audience []string
	lifetime time.Duration
	apps     AppCoder
	clock    clock.Clock
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithAppCodes restricts the embedded perms and quota to the apps named in
// the token audience.
func WithAppCodes(apps AppCoder) IssuerOption {
	return func(i *Issuer) { i.apps = apps }
}

// WithIssuerClock sets the clock used for iat, nbf and exp
func WithIssuerClock(clk clock.Clock) IssuerOption {
	return func(i *Issuer) { i.clock = clk }
}

// NewIssuer creates an issuer signing with codec. cfg.Audience lists the
// audience tags a caller may request.
func NewIssuer(codec *Codec, cfg config.JWTConfig, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		codec:    codec,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		lifetime: cfg.Lifetime,
		clock:    clock.WallClock,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue signs a token for grant addressed to the requested audience, or to
// every configured audience when none is requested. Unknown tags are
// dropped. A profile without any permission in the resulting audience is
// refused unless it is a superuser.
func (i *Issuer) Issue(grant Grant, requested []string) (string, time.Time, error) {
	audience := i.filterAudience(requested)
	if len(audience) == 0 {
		return "", time.Time{}, errors.New(errors.KindPermissionDenied, "no valid audience requested")
	}

	if i.apps != nil {
		codes := make([]int, 0, len(audience))
		for _, tag := range audience {
			if code, ok := i.apps.AppCode(tag); ok {
				codes = append(codes, code)
			}
		}
		grant = grant.ForApps(codes)
	}
	if len(grant.Perms) == 0 && !grant.IsSuperuser() {
		slog.Info("Refusing token without permissions", "profile", grant.Profile, "audience", audience)
		return "", time.Time{}, errors.New(errors.KindPermissionDenied, "profile has no access to the requested audience")
	}

	now := i.clock.Now().UTC()
	exp := now.Add(i.lifetime)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   strconv.Itoa(grant.Profile),
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Grant: grant,
	}
	claims.Normalize()
	if err := claims.Validate(); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to validate claims: %w", err)
	}
	signed, err := i.codec.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (i *Issuer) filterAudience(requested []string) []string {
	if len(requested) == 0 {
		return append([]string{}, i.audience...)
	}
	allowed := map[string]bool{}
	for _, a := range i.audience {
		allowed[a] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, a := range requested {
		if allowed[a] && !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out
}
