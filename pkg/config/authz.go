package config

// AuthzConfig points at the app-code and quota-material tables.
type AuthzConfig struct {
	AppCodesFile      string `env:"APP_CODES_FILE" env-default:"./data/app_codes.json"`
	MaterialCodesFile string `env:"MATERIAL_CODES_FILE" env-default:"./data/material_codes.json"`
	AppLabel          string `env:"APP_LABEL" env-default:"user_management"`
}
