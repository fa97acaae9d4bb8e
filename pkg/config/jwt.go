package config

import "time"

// JWTConfig holds token issuing and verification settings.
type JWTConfig struct {
	// Issuer is the token issuing endpoint; verified against iss when set.
	Issuer string `env:"REFRESH_ACCESS_TOKEN_API_URL"`
	// Audience lists the tags written to aud by the issuer.
	Audience StringList `env:"JWT_AUDIENCE" env-default:"user_management"`
	// ServiceAudience is the tag this service expects to find in aud.
	ServiceAudience string        `env:"JWT_SERVICE_AUDIENCE" env-default:"user_management"`
	Lifetime        time.Duration `env:"JWT_LIFETIME" env-default:"5m"`
	Leeway          time.Duration `env:"JWT_LEEWAY" env-default:"0s"`
}

func (c JWTConfig) validate() ValidationErrors {
	errs := CollectErrors(
		RequireNonEmptySlice("JWT_AUDIENCE", c.Audience),
		RequireNonEmpty("JWT_SERVICE_AUDIENCE", c.ServiceAudience),
		RequirePositiveDuration("JWT_LIFETIME", c.Lifetime),
	)
	if c.Issuer != "" {
		errs = append(errs, CollectErrors(RequireValidURL("REFRESH_ACCESS_TOKEN_API_URL", c.Issuer))...)
	}
	return errs
}
