package edge

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
	"github.com/tendant/authcore/pkg/token"
)

// Verifier checks a raw access token for an audience.
type Verifier interface {
	Verify(ctx context.Context, raw, audience string) (*token.Claims, error)
}

// ClaimsRefresher fetches the current grant of a profile.
type ClaimsRefresher interface {
	FetchProfile(ctx context.Context, id int) (token.Grant, error)
}

// Authenticator verifies the access token of every request and puts the
// claims in the request context.
type Authenticator struct {
	verifier  Verifier
	audience  string
	finders   []func(*http.Request) string
	refresher ClaimsRefresher
	appCode   int
	logger    *slog.Logger
}

// AuthnOption configures an Authenticator
type AuthnOption func(*Authenticator)

// WithRefresher makes the authenticator fetch fresh claims once when the
// token carries no permission for appCode.
func WithRefresher(r ClaimsRefresher, appCode int) AuthnOption {
	return func(a *Authenticator) {
		a.refresher = r
		a.appCode = appCode
	}
}

// WithTokenFinders replaces the token lookup order
func WithTokenFinders(finders ...func(*http.Request) string) AuthnOption {
	return func(a *Authenticator) { a.finders = finders }
}

// WithAuthnLogger sets the logger
func WithAuthnLogger(l *slog.Logger) AuthnOption {
	return func(a *Authenticator) { a.logger = l }
}

// NewAuthenticator creates an authenticator for tokens issued to audience.
// Tokens are looked up in the Authorization header, then in the jwt cookie.
func NewAuthenticator(v Verifier, audience string, opts ...AuthnOption) *Authenticator {
	a := &Authenticator{
		verifier: v,
		audience: audience,
		finders:  []func(*http.Request) string{jwtauth.TokenFromHeader, jwtauth.TokenFromCookie},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the authentication middleware
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authenticate(r)
		if err != nil {
			metrics.EdgeRejections.WithLabelValues("authn").Inc()
			WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*token.Claims, error) {
	var raw string
	for _, find := range a.finders {
		if raw = find(r); raw != "" {
			break
		}
	}
	if raw == "" {
		return nil, errors.New(errors.KindDecode, "no access token")
	}

	claims, err := a.verifier.Verify(r.Context(), raw, a.audience)
	if err != nil {
		return nil, err
	}
	if a.refresher != nil && !claims.HasApp(a.appCode) {
		a.refresh(r.Context(), claims)
	}
	return claims, nil
}

// refresh replaces the grant with the one currently held by the profile
// service. Failures leave the claims as they are.
func (a *Authenticator) refresh(ctx context.Context, claims *token.Claims) {
	grant, err := a.refresher.FetchProfile(ctx, claims.Profile)
	if err != nil {
		a.logger.Warn("Failed to refresh claims", "profile", claims.Profile, "err", err)
		return
	}
	grant.Profile = claims.Profile
	claims.Grant = grant
	a.logger.Debug("Refreshed claims", "profile", claims.Profile, "app", a.appCode)
}
