package edge

import (
	"crypto/subtle"
	"fmt"
	"html"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/metrics"
)

const (
	reasonNoCookie  = "CSRF cookie not set."
	reasonBadToken  = "CSRF token missing or incorrect."
	csrfTokenLength = 32
)

// CSRF implements the double-submit cookie. Unsafe methods must echo the
// cookie in cfg.HeaderName. Responses to authenticated requests (re)set
// the cookie, living as long as the access token or cfg.CookieAge seconds
// when the token lifetime is unknown.
func CSRF(cfg config.CSRFConfig, clk clock.Clock) func(http.Handler) http.Handler {
	if clk == nil {
		clk = clock.WallClock
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, st := withState(r)

			var value string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				value = c.Value
			}
			if !safeMethod(r.Method) {
				if value == "" {
					csrfFailure(w, r, reasonNoCookie)
					return
				}
				sent := r.Header.Get(cfg.HeaderName)
				if subtle.ConstantTimeCompare([]byte(sent), []byte(value)) != 1 {
					csrfFailure(w, r, reasonBadToken)
					return
				}
			}
			if value == "" {
				value = strings.ReplaceAll(uuid.NewString(), "-", "")[:csrfTokenLength]
			}

			cw := &csrfWriter{ResponseWriter: w, set: func(h http.Header) {
				if st.claims == nil {
					return
				}
				maxAge := cfg.CookieAge
				if st.claims.ExpiresAt != nil {
					maxAge = int(st.claims.Remaining(clk.Now()).Seconds())
				}
				if maxAge <= 0 {
					return
				}
				cookie := &http.Cookie{
					Name:     cfg.CookieName,
					Value:    value,
					Path:     "/",
					Domain:   cfg.CookieDomain,
					MaxAge:   maxAge,
					Secure:   cfg.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				}
				h.Add("Set-Cookie", cookie.String())
			}}
			next.ServeHTTP(cw, r)
		})
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func csrfFailure(w http.ResponseWriter, r *http.Request, reason string) {
	metrics.EdgeRejections.WithLabelValues("csrf").Inc()
	render.Status(r, http.StatusForbidden)
	if prefersJSON(r) {
		render.JSON(w, r, map[string][]string{"non_field_errors": {reason}})
		return
	}
	render.HTML(w, r, fmt.Sprintf("<h1>Forbidden (403)</h1><p>%s</p>", html.EscapeString(reason)))
}

// prefersJSON reports whether the Accept header ranks application/json
// above text/html.
func prefersJSON(r *http.Request) bool {
	var qJSON, qHTML float64
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		switch {
		case mt == "application/json" || strings.HasSuffix(mt, "+json"):
			qJSON = max(qJSON, q)
		case mt == "text/html":
			qHTML = max(qHTML, q)
		}
	}
	return qJSON > 0 && qJSON > qHTML
}

// csrfWriter adds the cookie right before the headers go out.
type csrfWriter struct {
	http.ResponseWriter
	set         func(http.Header)
	wroteHeader bool
}

func (w *csrfWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.set(w.Header())
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *csrfWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *csrfWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
