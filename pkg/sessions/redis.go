package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tendant/authcore/pkg/config"
)

// NewRedisClient connects to the configured server and pings it.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps sessions as JSON values expiring with the session.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store whose keys start with prefix
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + ":session:"}
}

func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+sess.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err == redis.Nil {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RedisBindingCache keeps account bindings as plain string values.
type RedisBindingCache struct {
	client *redis.Client
	prefix string
}

// NewRedisBindingCache creates a cache whose keys start with prefix
func NewRedisBindingCache(client *redis.Client, prefix string) *RedisBindingCache {
	return &RedisBindingCache{client: client, prefix: prefix + ":binding:"}
}

func (c *RedisBindingCache) Get(ctx context.Context, accountID string) (string, bool, error) {
	id, err := c.client.Get(ctx, c.prefix+accountID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get binding: %w", err)
	}
	return id, true, nil
}

func (c *RedisBindingCache) Set(ctx context.Context, accountID, sessionID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+accountID, sessionID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set binding: %w", err)
	}
	return nil
}

func (c *RedisBindingCache) Delete(ctx context.Context, accountID string) error {
	if err := c.client.Del(ctx, c.prefix+accountID).Err(); err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	return nil
}
