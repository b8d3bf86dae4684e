// Package storage provides the TTL key-value abstraction that session
// records are persisted in, plus an at-rest sealing decorator.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or already expired.
	ErrNotFound = errors.New("key not found")
	// ErrNoExpiry is returned by TTL for a key that exists without an expiry.
	ErrNoExpiry = errors.New("key has no expiry")
	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("stored value is corrupt")
)

// KV is a key-value store with native per-key expiry.
//
// A ttl <= 0 passed to Set stores the key without expiry. Expired keys are
// never returned by Get, TTL or Keys.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Keys returns every live key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
