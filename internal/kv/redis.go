package kv

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcncl/worker-echo/internal/errors"
)

// Redis connection errors. Use errors.Is to check them.
var (
	ErrEmptyConnectionURL           = stderrors.New("empty redis connection URL")
	ErrFailedToParseRedisConnString = stderrors.New("failed to parse redis connection string")
	ErrRedisNotReady                = stderrors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed            = stderrors.New("redis healthcheck failed")
)

// RedisConfig holds connection settings for the Redis backend
type RedisConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// DefaultRedisConfig returns the connection defaults
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:            "redis://localhost:6379/0",
		RetryAttempts:  3,
		RetryInterval:  5 * time.Second,
		ConnectTimeout: 30 * time.Second,
	}
}

// Connect parses cfg.URL, opens a client and pings it until it answers, the
// attempts run out, or the connect timeout expires. The interval doubles
// after each failed attempt.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToParseRedisConnString, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	client := redis.NewClient(opts)
	interval := cfg.RetryInterval

	var pingErr error
	for i := 0; i < attempts; i++ {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			return client, nil
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, fmt.Errorf("%w: %v", ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
	}

	_ = client.Close()
	return nil, fmt.Errorf("%w: %v", ErrRedisNotReady, pingErr)
}

// RedisStore is a Store backed by Redis
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

var (
	_ Store   = (*RedisStore)(nil)
	_ Checker = (*RedisStore)(nil)
	_ Closer  = (*RedisStore)(nil)
)

// NewRedisStore wraps an existing client. A non-empty namespace prefixes every key.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *RedisStore) key(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

// Get returns the value stored under key. A missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WithDetails(
			errors.NewStoreError("redis get failed", err),
			map[string]interface{}{"key": key},
		)
	}
	return val, true, nil
}

// Put stores value under key with the requested expiration
func (s *RedisStore) Put(ctx context.Context, key, value string, opts PutOptions) error {
	if err := s.client.Set(ctx, s.key(key), value, opts.ExpirationTTL).Err(); err != nil {
		return errors.WithDetails(
			errors.NewStoreError("redis set failed", err),
			map[string]interface{}{"key": key},
		)
	}
	return nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHealthcheckFailed, err)
	}
	return nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
