package config

// RedisConfig holds the connection settings of the session cache. An
// empty Addr keeps sessions in process memory.
type RedisConfig struct {
	Addr         string `env:"REDIS_ADDR"`
	Password     string `env:"REDIS_PASSWORD"`
	DB           int    `env:"REDIS_DB" env-default:"0"`
	PoolSize     int    `env:"REDIS_POOL_SIZE" env-default:"10"`
	MinIdleConns int    `env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
}
