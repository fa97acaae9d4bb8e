package edge

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
	"github.com/tendant/authcore/pkg/sessions"
)

// SessionReconciler checks a request's session against its account and
// binds it as the account's only session.
type SessionReconciler interface {
	Reconcile(ctx context.Context, accountID, sessionID string) (string, error)
}

// SingleSession enforces one live session per account. It runs after
// authentication: the verified profile id is the account id and the
// session cookie the session id. Every such request rebinds the account to
// its session and deletes a different live session bound before it, so
// after racing logins the next request from either one settles on a
// single session. Requests whose session was evicted, or belongs to
// another account, get 401. Requests without the cookie or without claims
// pass.
func SingleSession(svc SessionReconciler, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookieName)
			claims, authenticated := ClaimsFromContext(r.Context())
			if err != nil || c.Value == "" || !authenticated {
				next.ServeHTTP(w, r)
				return
			}
			account := strconv.Itoa(claims.Profile)
			_, err = svc.Reconcile(r.Context(), account, c.Value)
			switch {
			case errors.Is(err, sessions.ErrNotFound):
				metrics.EdgeRejections.WithLabelValues("session").Inc()
				WriteError(w, r, errors.New(errors.KindExpired, "session evicted"))
				return
			case errors.Is(err, sessions.ErrAccountMismatch):
				metrics.EdgeRejections.WithLabelValues("session").Inc()
				WriteError(w, r, errors.New(errors.KindDecode, "session belongs to another account"))
				return
			case err != nil:
				WriteError(w, r, errors.Wrap(err, errors.KindInternal, "failed to reconcile session"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
