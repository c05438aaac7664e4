// Package store provides the shared counter/cache store the router's
// enforcement state lives in: daily budget counters, sliding quota windows,
// conversation turn counters, and cached responses.
//
// Two backends are provided. The Redis backend is the production choice and
// makes enforcement state visible to every process instance; the in-memory
// backend has identical semantics for tests and single-instance deployments.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the set of primitives the router needs from a shared key-value
// store. All mutations are atomic server-side operations; callers never do
// read-modify-write on quota or monetary state.
type Store interface {
	// IncrByFloat atomically adds amount to the float counter at key and
	// returns the new value. The key expires ttl after its first write.
	IncrByFloat(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error)

	// GetFloat returns the current value of a float counter, 0 if absent.
	GetFloat(ctx context.Context, key string) (float64, error)

	// Incr atomically increments the integer counter at key and returns the
	// new value. The key expires ttl after its first write.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// WindowAdd records an event at now in the sliding window at key, prunes
	// events older than now-window, and returns the resulting event count.
	// The key expires ttl after the last write.
	WindowAdd(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error)

	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key with the given TTL, overwriting any previous
	// value (last-writer-wins).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
