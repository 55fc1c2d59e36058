// Package kv is the key/value capability the rate limiter and session
// store are built on: TTL-bound values plus membership sets. Two
// implementations exist, Redis and an in-process map, and a Failover
// wrapper degrades from one to the other per operation. Both backends
// must produce identical decisions for identical call sequences; the
// shared conformance suite in kv_test.go holds them to that.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for missing or expired keys. It is an
	// authoritative answer, not a failure: the Failover wrapper does not
	// fall back on it.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps backend connection and timeout failures.
	ErrUnavailable = errors.New("kv: store unavailable")
)

// Store is the capability set shared by all backends.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key with the given TTL. ttl must be > 0.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// AddToSet adds member to the named set and refreshes the set TTL.
	AddToSet(ctx context.Context, set, member string, ttl time.Duration) error
	// RemoveFromSet removes member from the named set.
	RemoveFromSet(ctx context.Context, set, member string) error
	// SetMembers returns all members of the named set; empty when the
	// set is missing or expired.
	SetMembers(ctx context.Context, set string) ([]string, error)
	// DeleteSet removes the whole set.
	DeleteSet(ctx context.Context, set string) error
}
