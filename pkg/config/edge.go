package config

import "time"

// CSRFConfig controls the double-submit cookie.
type CSRFConfig struct {
	CookieName string `env:"CSRF_COOKIE_NAME" env-default:"csrftoken"`
	HeaderName string `env:"CSRF_HEADER_NAME" env-default:"X-CSRFToken"`
	// CookieAge in seconds, used only when the token lifetime is unknown.
	CookieAge    int    `env:"CSRF_COOKIE_AGE" env-default:"3600"`
	CookieDomain string `env:"CSRF_COOKIE_DOMAIN"`
	CookieSecure bool   `env:"CSRF_COOKIE_SECURE" env-default:"true"`
}

// RateLimitConfig contains the sliding-window limiter settings.
type RateLimitConfig struct {
	Enabled      bool   `env:"RATE_LIMIT_ENABLED" env-default:"true"`
	MaxReqs      int    `env:"RATE_LIMIT_MAX_REQS" env-default:"100"`
	IntervalSecs int    `env:"RATE_LIMIT_INTERVAL_SECS" env-default:"60"`
	Scope        string `env:"RATE_LIMIT_SCOPE" env-default:"global"`
	// IdleTTL is how long a per-IP window survives without traffic.
	IdleTTL time.Duration `env:"RATE_LIMIT_IDLE_TTL" env-default:"10m"`
}

// Interval returns the window length as a duration
func (c RateLimitConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// BodyLimitConfig caps request body sizes.
type BodyLimitConfig struct {
	MaxNBytes int64 `env:"MAX_NBYTES" env-default:"1048576"`
}

// SessionConfig enables the single-session-per-account filter.
type SessionConfig struct {
	SingleSession bool   `env:"SINGLE_SESSION_PER_ACCOUNT" env-default:"true"`
	CookieName    string `env:"SESSION_COOKIE_NAME" env-default:"sessionid"`
	KeyPrefix     string `env:"SESSION_KEY_PREFIX" env-default:"authcore"`
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Enabled: true, MaxReqs: 100, IntervalSecs: 60, Scope: "global", IdleTTL: 10 * time.Minute}
}

func (c RateLimitConfig) validate() ValidationErrors {
	if !c.Enabled {
		return nil
	}
	return CollectErrors(
		RequirePositive("RATE_LIMIT_MAX_REQS", c.MaxReqs),
		RequirePositive("RATE_LIMIT_INTERVAL_SECS", c.IntervalSecs),
		RequireOneOf("RATE_LIMIT_SCOPE", c.Scope, []string{"global", "ip"}),
	)
}

func (c CSRFConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireNonEmpty("CSRF_COOKIE_NAME", c.CookieName),
		RequireNonEmpty("CSRF_HEADER_NAME", c.HeaderName),
		RequirePositive("CSRF_COOKIE_AGE", c.CookieAge),
	)
}
