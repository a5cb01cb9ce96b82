// Package kv provides the TTL-bounded lock and flag store backing the
// engine's idempotency locks, done markers and per-conversation AI control
// state.
package kv

import (
	"context"
	"time"
)

// Store is a small key/value surface with acquire-if-absent semantics.
// Every entry carries an explicit TTL; a zero TTL means no expiry.
type Store interface {
	// TryAcquire sets the key if absent and reports whether this caller won
	// it. Used as a short-lived mutual exclusion lock.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release deletes a lock key. Safe to call when not held.
	Release(ctx context.Context, key string) error
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}
