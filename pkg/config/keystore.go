package config

import "time"

// KeystoreConfig describes where the signing keys live and when they rotate.
type KeystoreConfig struct {
	Secret PersistHandlerConfig `env-prefix:"KEYSTORE_SECRET_"`
	Pubkey PubkeyHandlerConfig  `env-prefix:"KEYSTORE_PUBKEY_"`

	// ExpiredAfterDays is the lifespan of a key from the moment it is generated.
	ExpiredAfterDays    int `env:"KEYSTORE_EXPIRED_AFTER_DAYS" env-default:"30"`
	MaxExpiredAfterDays int `env:"KEYSTORE_MAX_EXPIRED_AFTER_DAYS" env-default:"365"`

	// FlushThreshold is the number of signings after which the current key
	// is rotated out, regardless of its age.
	FlushThreshold int `env:"KEYSTORE_FLUSH_THRESHOLD" env-default:"550"`

	// RotateFraction of the lifespan after which the current key is rotated.
	RotateFraction float64 `env:"KEYSTORE_ROTATE_FRACTION" env-default:"0.5"`

	// CheckInterval is how often the rotation worker evaluates the policy.
	CheckInterval time.Duration `env:"KEYSTORE_CHECK_INTERVAL" env-default:"1m"`

	KeySizeBits int `env:"KEYSTORE_KEY_SIZE_BITS" env-default:"2048"`
	NumPrimes   int `env:"KEYSTORE_NUM_PRIMES" env-default:"2"`

	// NumBackups is how many previous versions of each file are kept.
	NumBackups int `env:"KEYSTORE_NUM_BACKUPS" env-default:"5"`
}

// PersistHandlerConfig locates one persisted JWK set.
type PersistHandlerConfig struct {
	Filepath string `env:"FILEPATH" env-default:"./data/jwks-private.json"`
}

// PubkeyHandlerConfig locates the public JWK set, either as a local file
// (issuer side) or as a remote URL (verifier side).
type PubkeyHandlerConfig struct {
	Filepath    string        `env:"FILEPATH" env-default:"./data/jwks-public.json"`
	URL         string        `env:"URL"`
	LifespanHrs int           `env:"LIFESPAN_HRS" env-default:"12"`
	Timeout     time.Duration `env:"TIMEOUT" env-default:"10s"`
}

// Lifespan returns the configured key lifespan capped at MaxExpiredAfterDays.
func (c KeystoreConfig) Lifespan() time.Duration {
	days := c.ExpiredAfterDays
	if c.MaxExpiredAfterDays > 0 && days > c.MaxExpiredAfterDays {
		days = c.MaxExpiredAfterDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// CacheTTL returns the verifier-side JWKS cache lifetime.
func (c PubkeyHandlerConfig) CacheTTL() time.Duration {
	return time.Duration(c.LifespanHrs) * time.Hour
}

// DefaultKeystoreConfig returns a KeystoreConfig with sensible defaults
func DefaultKeystoreConfig() KeystoreConfig {
	return KeystoreConfig{
		Secret:              PersistHandlerConfig{Filepath: "./data/jwks-private.json"},
		Pubkey:              PubkeyHandlerConfig{Filepath: "./data/jwks-public.json", LifespanHrs: 12, Timeout: 10 * time.Second},
		ExpiredAfterDays:    30,
		MaxExpiredAfterDays: 365,
		FlushThreshold:      550,
		RotateFraction:      0.5,
		CheckInterval:       time.Minute,
		KeySizeBits:         2048,
		NumPrimes:           2,
		NumBackups:          5,
	}
}

func (c KeystoreConfig) validate() ValidationErrors {
	errs := CollectErrors(
		RequireInRange("KEYSTORE_EXPIRED_AFTER_DAYS", c.ExpiredAfterDays, 1, c.MaxExpiredAfterDays),
		RequirePositive("KEYSTORE_FLUSH_THRESHOLD", c.FlushThreshold),
		RequireInRange("KEYSTORE_KEY_SIZE_BITS", c.KeySizeBits, 2048, 4096),
		RequireGreaterOrEqual("KEYSTORE_NUM_PRIMES", c.NumPrimes, 2),
		RequireNonNegative("KEYSTORE_NUM_BACKUPS", c.NumBackups),
		RequirePositiveDuration("KEYSTORE_CHECK_INTERVAL", c.CheckInterval),
		RequireFraction("KEYSTORE_ROTATE_FRACTION", c.RotateFraction),
	)
	if c.Pubkey.URL != "" {
		errs = append(errs, CollectErrors(
			RequireValidURL("KEYSTORE_PUBKEY_URL", c.Pubkey.URL),
			RequirePositive("KEYSTORE_PUBKEY_LIFESPAN_HRS", c.Pubkey.LifespanHrs),
		)...)
	}
	return errs
}
