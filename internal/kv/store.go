// Package kv provides the key-value store used by the echo handler's kv path.
//
// A Store exposes two operations: Get, which reports whether a key is present,
// and Put, which writes a value with an optional expiration. Two
// implementations are provided:
//
//   - MemoryStore: process-local map with lazy expiry, used by default and in tests
//   - RedisStore: backed by go-redis, for deployments where several echo
//     instances must observe the same entries
//
// Consistency is whatever the backend provides. Neither implementation
// retries a failed call.
package kv

import (
	"context"
	"time"
)

// PutOptions controls how a value is written
type PutOptions struct {
	// ExpirationTTL is how long the entry lives. Zero means no expiry.
	ExpirationTTL time.Duration
}

// Store is the key-value capability used by the echo handler
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Put stores value under key.
	Put(ctx context.Context, key, value string, opts PutOptions) error
}

// Checker is implemented by stores that can report their own health
type Checker interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by stores holding connections
type Closer interface {
	Close() error
}
