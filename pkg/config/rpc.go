package config

import "time"

// RPCConfig configures the claim refresh RPC client and server.
type RPCConfig struct {
	// Transport is "nats" or "amqp".
	Transport string `env:"RPC_TRANSPORT" env-default:"nats"`
	URL       string `env:"RPC_URL" env-default:"nats://127.0.0.1:4222"`
	Exchange  string `env:"RPC_EXCHANGE" env-default:"rpc-default-allapps"`
	// AppLabel names this service in reply queue names.
	AppLabel string        `env:"RPC_APP_LABEL" env-default:"authcore"`
	NumRetry int           `env:"NUM_RETRY_RPC_RESPONSE" env-default:"5"`
	Timeout  time.Duration `env:"RPC_TIMEOUT" env-default:"5s"`
	// RetryDelay is the first backoff delay; it doubles per attempt.
	RetryDelay time.Duration `env:"RPC_RETRY_DELAY" env-default:"200ms"`
	ReplyTTL   time.Duration `env:"RPC_REPLY_TTL" env-default:"25s"`
	// PoolSize bounds the number of AMQP channels kept open for publishing.
	PoolSize int `env:"RPC_POOL_SIZE" env-default:"4"`
}

func (c RPCConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireOneOf("RPC_TRANSPORT", c.Transport, []string{"nats", "amqp"}),
		RequireValidURL("RPC_URL", c.URL),
		RequireNonNegative("NUM_RETRY_RPC_RESPONSE", c.NumRetry),
		RequirePositiveDuration("RPC_TIMEOUT", c.Timeout),
		RequirePositive("RPC_POOL_SIZE", c.PoolSize),
	)
}
