// Package cache provides the small key/value store used for shared, expiring
// federation state such as connector backoff entries.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned by Get when the key does not exist or has expired.
	ErrMiss = errors.New("cache: miss")
	// ErrConflict is returned by Update when the key kept changing underneath it.
	ErrConflict = errors.New("cache: concurrent update")
)

// UpdateFunc computes the next value from the current one. Returning a nil
// value deletes the key.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Store is a key/value store with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Update runs fn as an atomic read-modify-write of key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}
