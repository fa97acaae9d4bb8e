package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Settings is the complete configuration of one service process. It is
// built once at startup and passed by value to the constructors that need
// a section of it.
type Settings struct {
	Port     uint16 `env:"HTTP_PORT" env-default:"8008"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	// LogFormat is "text", "json" or "tint".
	LogFormat string `env:"LOG_FORMAT" env-default:"text"`
	// PublicURL is the externally visible base URL, published in discovery documents.
	PublicURL string `env:"PUBLIC_URL" env-default:"http://localhost:8008"`

	Keystore  KeystoreConfig
	JWT       JWTConfig
	CORS      CORSConfig
	CSRF      CSRFConfig
	RateLimit RateLimitConfig
	BodyLimit BodyLimitConfig
	Session   SessionConfig
	RPC       RPCConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Authz     AuthzConfig
}

// Load reads Settings from path (YAML, JSON, TOML or .env, chosen by
// extension) when path is non-empty and exists, then applies environment
// overrides, then validates.
func Load(path string) (Settings, error) {
	var s Settings
	var err error
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			err = cleanenv.ReadConfig(path, &s)
		} else {
			err = cleanenv.ReadEnv(&s)
		}
	} else {
		err = cleanenv.ReadEnv(&s)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks every section and returns ValidationErrors, or nil.
func (s Settings) Validate() error {
	return Validate(
		func() ValidationErrors {
			return CollectErrors(
				RequireValidPort("HTTP_PORT", s.Port),
				RequireOneOf("LOG_FORMAT", s.LogFormat, []string{"text", "json", "tint"}),
				RequireValidURL("PUBLIC_URL", s.PublicURL),
			)
		},
		s.Keystore.validate,
		s.JWT.validate,
		s.CORS.validate,
		s.CSRF.validate,
		s.RateLimit.validate,
		s.RPC.validate,
		s.Database.validate,
		func() ValidationErrors {
			return CollectErrors(RequirePositive("MAX_NBYTES", int(s.BodyLimit.MaxNBytes)))
		},
	)
}

// Usage returns the environment variable help text for Settings.
func Usage() string {
	var s Settings
	text, err := cleanenv.GetDescription(&s, nil)
	if err != nil {
		return err.Error()
	}
	return text
}
