// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type item[V any] struct {
	value    V
	storedAt time.Time
}

// TTLCache memoizes fetched values per key for a bounded time. Concurrent
// fetches for the same key are deduplicated: only one fetch runs, every
// caller gets its result.
type TTLCache[K comparable, V any] struct {
	mu    sync.RWMutex
	data  map[K]item[V]
	ttl   time.Duration
	group singleflight.Group
}

func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		data: make(map[K]item[V]),
		ttl:  ttl,
	}
}

// Get returns the cached value for key if it is still fresh, otherwise runs
// fetch and caches the result. With invalidate set, any cached value is
// dropped before fetching so no caller observes the stale entry; concurrent
// callers share the single in-flight fetch.
func (c *TTLCache[K, V]) Get(key K, fetch func(K) (V, error), invalidate bool) (V, error) {
	if invalidate {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
	} else {
		c.mu.RLock()
		it, ok := c.data[key]
		c.mu.RUnlock()
		if ok && time.Since(it.storedAt) < c.ttl {
			return it.value, nil
		}
	}

	v, err, _ := c.group.Do(keyString(key), func() (interface{}, error) {
		value, err := fetch(key)
		if err != nil {
			return *new(V), err
		}

		c.mu.Lock()
		c.data[key] = item[V]{value: value, storedAt: time.Now()}
		c.mu.Unlock()

		return value, nil
	})
	if err != nil {
		return *new(V), err
	}
	return v.(V), nil
}

// keyString accepts both fmt.Stringer keys and primitives.
func keyString[K comparable](key K) string {
	if s, ok := any(key).(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", key)
}
