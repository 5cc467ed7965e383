package cache

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by Get when the key is not cached. A miss is not a
// failure: callers fall back to their source of truth (for projections, an
// event-log replay) and write the result back.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a generic caching layer used as a write-through front for derived
// state such as gateway projections.
type Cache[K comparable, V any] interface {
	// Get retrieves a cached value, or ErrCacheMiss.
	Get(ctx context.Context, key K) (V, error)
	// Set stores a value under key, replacing any previous value.
	Set(ctx context.Context, key K, value V) error
	// Delete removes a key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key K) error
}
