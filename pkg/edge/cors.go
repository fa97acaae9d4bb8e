package edge

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/cors"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
)

// CORS recognises the origins configured in cfg.AllowedOrigin. Preflight
// and response headers are produced by go-chi/cors and are only ever set
// for a recognised origin. A preflight from a recognised origin asking for
// a method outside cfg.AllowedMethods still gets Allow-Origin,
// Allow-Credentials, Allow-Headers and Max-Age, only Allow-Methods is
// left out. A cross-site request that is not a preflight must come from a
// recognised origin with an allowed method, otherwise it is rejected with
// 401; accepted requests carry the origin's tag.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	tags := make(map[string]string, len(cfg.AllowedOrigin))
	for tag, origin := range cfg.AllowedOrigin {
		tags[normalizeOrigin(origin)] = tag
	}
	methods := make(map[string]bool, len(cfg.AllowedMethods))
	for _, m := range cfg.AllowedMethods {
		methods[strings.ToUpper(m)] = true
	}

	headers := cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			_, ok := tags[normalizeOrigin(origin)]
			return ok
		},
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.PreflightMaxAge,
	})

	return func(next http.Handler) http.Handler {
		guarded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || sameSite(origin, r.Host) {
				next.ServeHTTP(w, r)
				return
			}
			tag, ok := tags[normalizeOrigin(origin)]
			if !ok || !methods[r.Method] {
				metrics.EdgeRejections.WithLabelValues("cors").Inc()
				WriteError(w, r, errors.Newf(errors.KindDecode, "origin %q not allowed", origin))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), originTagKey, tag)))
		})
		handled := headers(guarded)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			requested := strings.ToUpper(r.Header.Get("Access-Control-Request-Method"))
			if r.Method == http.MethodOptions && requested != "" && !methods[requested] {
				if _, ok := tags[normalizeOrigin(origin)]; ok {
					preflightWithoutMethods(w, origin, cfg)
					return
				}
			}
			handled.ServeHTTP(w, r)
		})
	}
}

func preflightWithoutMethods(w http.ResponseWriter, origin string, cfg config.CORSConfig) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	h.Set("Access-Control-Allow-Origin", origin)
	if cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(cfg.AllowedHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	}
	if cfg.PreflightMaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.PreflightMaxAge))
	}
	w.WriteHeader(http.StatusOK)
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

func sameSite(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
