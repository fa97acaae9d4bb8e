package edge

import (
	"net/http"

	"github.com/tendant/authcore/pkg/authz"
	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
)

// Authorize checks the request claims against req and answers 403 when
// they fall short. It must run after authentication.
func Authorize(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				WriteError(w, r, errors.New(errors.KindMissingClaim, "request is not authenticated"))
				return
			}
			if err := req.Evaluate(claims.Grant, r.Method).Err(); err != nil {
				metrics.EdgeRejections.WithLabelValues("authz").Inc()
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
