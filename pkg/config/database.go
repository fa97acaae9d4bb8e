package config

import (
	"fmt"

	dbutils "github.com/tendant/db-utils/db"
)

// DatabaseConfig holds the PostgreSQL settings of the profile store used by
// the claim refresh RPC server. Empty Host disables the database.
type DatabaseConfig struct {
	Host     string `env:"IDM_PG_HOST"`
	Port     uint16 `env:"IDM_PG_PORT" env-default:"5432"`
	Database string `env:"IDM_PG_DATABASE" env-default:"ecommerce_usermgt"`
	User     string `env:"IDM_PG_USER" env-default:"usermgt"`
	Password string `env:"IDM_PG_PASSWORD"`
	Schema   string `env:"IDM_PG_SCHEMA" env-default:"public"`
}

// Enabled reports whether a database host is configured
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// ToDbConfig converts the config to a db-utils DbConfig
func (d DatabaseConfig) ToDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

func (d DatabaseConfig) validate() ValidationErrors {
	if !d.Enabled() {
		return nil
	}
	return CollectErrors(
		RequireValidPort("IDM_PG_PORT", d.Port),
		RequireNonEmpty("IDM_PG_DATABASE", d.Database),
		RequireNonEmpty("IDM_PG_USER", d.User),
	)
}
