package edge

import "net/http"

// Filters are the edge middlewares of a service. Nil entries are skipped.
type Filters struct {
	Shutdown      func(http.Handler) http.Handler
	CORS          func(http.Handler) http.Handler
	BodyLimit     func(http.Handler) http.Handler
	RateLimit     func(http.Handler) http.Handler
	CSRF          func(http.Handler) http.Handler
	Authenticate  func(http.Handler) http.Handler
	SingleSession func(http.Handler) http.Handler
	Authorize     func(http.Handler) http.Handler
}

// Chain composes the filters in their fixed order: shutdown, CORS, body
// size, rate limiter, CSRF, authentication, single session and
// authorization, outermost first.
func Chain(f Filters) func(http.Handler) http.Handler {
	ordered := []func(http.Handler) http.Handler{
		f.Shutdown, f.CORS, f.BodyLimit, f.RateLimit,
		f.CSRF, f.Authenticate, f.SingleSession, f.Authorize,
	}
	return func(next http.Handler) http.Handler {
		h := next
		for i := len(ordered) - 1; i >= 0; i-- {
			if ordered[i] != nil {
				h = ordered[i](h)
			}
		}
		return h
	}
}
