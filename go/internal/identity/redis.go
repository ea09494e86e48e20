package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores browser storage in Redis. Session scoped keys expire after
// SessionTTL without activity; persistent keys never expire.
type RedisBackend struct {
	client     *redis.Client
	prefix     string
	sessionTTL time.Duration
}

// DefaultSessionTTL is used when NewRedisBackend gets a zero TTL.
const DefaultSessionTTL = 12 * time.Hour

// NewRedisBackend connects to redisURL and checks the connection.
func NewRedisBackend(redisURL string, sessionTTL time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisBackendWithClient(client, sessionTTL), nil
}

// NewRedisBackendWithClient creates a backend from an existing client.
func NewRedisBackendWithClient(client *redis.Client, sessionTTL time.Duration) *RedisBackend {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &RedisBackend{
		client:     client,
		prefix:     "estimate:",
		sessionTTL: sessionTTL,
	}
}

// Storage returns the storage of one browser session.
func (b *RedisBackend) Storage(sessionID, clientID string) Storage {
	return &redisStorage{backend: b, sessionID: sessionID, clientID: clientID}
}

// Ping checks if Redis is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisStorage struct {
	backend   *RedisBackend
	sessionID string
	clientID  string
}

func (s *redisStorage) key(scope Scope, key string) string {
	if scope == ScopeSession {
		return s.backend.prefix + "session:" + s.sessionID + ":" + key
	}
	return s.backend.prefix + "client:" + s.clientID + ":" + key
}

func (s *redisStorage) Get(ctx context.Context, scope Scope, key string) (string, bool, error) {
	k := s.key(scope, key)
	v, err := s.backend.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s value: %w", scope, err)
	}
	if scope == ScopeSession {
		if err := s.backend.client.Expire(ctx, k, s.backend.sessionTTL).Err(); err != nil {
			return "", false, fmt.Errorf("refresh session ttl: %w", err)
		}
	}
	return v, true, nil
}

func (s *redisStorage) Set(ctx context.Context, scope Scope, key, value string) error {
	var ttl time.Duration
	if scope == ScopeSession {
		ttl = s.backend.sessionTTL
	}
	if err := s.backend.client.Set(ctx, s.key(scope, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s value: %w", scope, err)
	}
	return nil
}
