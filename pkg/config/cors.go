package config

import "net/http"

// CORSConfig lists the cross-origin peers a service accepts. AllowedOrigin
// maps a service tag (e.g. "web", "staff") to the origin URL it is served from.
type CORSConfig struct {
	AllowedOrigin    TagMap     `env:"ALLOWED_ORIGIN"`
	AllowedMethods   StringList `env:"ALLOWED_METHODS" env-default:"GET,POST,PUT,PATCH,DELETE"`
	AllowedHeaders   StringList `env:"ALLOWED_HEADERS" env-default:"accept,content-type,authorization,x-csrftoken"`
	AllowCredentials bool       `env:"ALLOW_CREDENTIALS" env-default:"true"`
	PreflightMaxAge  int        `env:"PREFLIGHT_MAX_AGE" env-default:"600"`
}

// DefaultCORSConfig returns a CORSConfig with no recognised origins
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigin:    TagMap{},
		AllowedMethods:   StringList{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   StringList{"accept", "content-type", "authorization", "x-csrftoken"},
		AllowCredentials: true,
		PreflightMaxAge:  600,
	}
}

func (c CORSConfig) validate() ValidationErrors {
	errs := CollectErrors(RequireNonNegative("PREFLIGHT_MAX_AGE", c.PreflightMaxAge))
	for tag, origin := range c.AllowedOrigin {
		if err := RequireValidURL("ALLOWED_ORIGIN["+tag+"]", origin); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}
