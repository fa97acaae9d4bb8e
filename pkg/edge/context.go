// Package edge holds the HTTP filters every service puts in front of its
// handlers: CORS, body size, rate limiting, CSRF, authentication, single
// session, authorization and shutdown detection.
package edge

import (
	"context"
	"net/http"

	"github.com/tendant/authcore/pkg/token"
)

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "edge context value " + k.name
}

var (
	claimsKey    = &contextKey{"Claims"}
	originTagKey = &contextKey{"OriginTag"}
	stateKey     = &contextKey{"State"}
)

// requestState is shared by filters that run on both sides of
// authentication; the CSRF filter reads the claims after the handler ran.
type requestState struct {
	claims *token.Claims
}

func withState(r *http.Request) (*http.Request, *requestState) {
	if st, ok := r.Context().Value(stateKey).(*requestState); ok {
		return r, st
	}
	st := &requestState{}
	return r.WithContext(context.WithValue(r.Context(), stateKey, st)), st
}

// WithClaims returns ctx carrying claims
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	if st, ok := ctx.Value(stateKey).(*requestState); ok {
		st.claims = claims
	}
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the verified claims of the request, if any
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok && c != nil
}

// OriginTagFromContext returns the tag of the recognised cross-site origin
// the request came from.
func OriginTagFromContext(ctx context.Context) (string, bool) {
	tag, ok := ctx.Value(originTagKey).(string)
	return tag, ok
}
