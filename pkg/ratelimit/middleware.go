package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/juju/clock"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/metrics"
)

const (
	ScopeGlobal = "global"
	ScopeIP     = "ip"

	globalKey = "global"
)

// Middleware provides HTTP rate limiting
type Middleware struct {
	config  config.RateLimitConfig
	limiter *RateLimiter
	logger  *slog.Logger
}

// Option configures a Middleware
type Option func(*middlewareOptions)

type middlewareOptions struct {
	clock  clock.Clock
	logger *slog.Logger
}

// WithClock sets the clock windows are measured on
func WithClock(clk clock.Clock) Option {
	return func(o *middlewareOptions) { o.clock = clk }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *middlewareOptions) { o.logger = l }
}

// NewMiddleware creates a rate limiting middleware. With the global scope
// one window serves the whole instance and idle eviction is off.
func NewMiddleware(cfg config.RateLimitConfig, opts ...Option) *Middleware {
	o := middlewareOptions{clock: clock.WallClock, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeGlobal
	}

	ttl := cfg.IdleTTL
	if cfg.Scope == ScopeGlobal {
		ttl = 0
	}
	return &Middleware{
		config:  cfg,
		limiter: NewRateLimiter(cfg.MaxReqs, cfg.Interval(), ttl, o.clock),
		logger:  o.logger,
	}
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if !m.config.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := globalKey
		if m.config.Scope == ScopeIP {
			key = getClientIP(r)
		}
		if !m.limiter.Allow(key) {
			m.rateLimitExceeded(w, r, key)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitExceeded answers 503 with an empty body
func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, key string) {
	metrics.EdgeRejections.WithLabelValues("ratelimit").Inc()
	m.logger.Warn("Rate limit exceeded",
		"scope", m.config.Scope,
		"key", key,
		"path", r.URL.Path,
		"method", r.Method,
	)
	w.WriteHeader(http.StatusServiceUnavailable)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// GetStats returns statistics about the limiter
func (m *Middleware) GetStats() Stats {
	return m.limiter.GetStats()
}

// Reset clears the window of an IP, or the global window for "global"
func (m *Middleware) Reset(key string) {
	m.limiter.Reset(key)
}

// Stop ends background eviction
func (m *Middleware) Stop() {
	m.limiter.Stop()
}
