package cache

import (
	"context"
	"sync"
)

// InMemoryCache is a thread-safe, in-process Cache. It is the default
// projection cache for embedded deployments and tests.
type InMemoryCache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache[K comparable, V any]() *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{data: make(map[K]V)}
}

// Get retrieves a cached value, or ErrCacheMiss.
func (c *InMemoryCache[K, V]) Get(_ context.Context, key K) (V, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.data[key]
	if !ok {
		var zero V
		return zero, ErrCacheMiss
	}
	return value, nil
}

// Set stores a value under key.
func (c *InMemoryCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

// Delete removes a key.
func (c *InMemoryCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
