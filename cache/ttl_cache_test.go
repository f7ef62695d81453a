// Copyright (C) 2025, Cloak Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheCachesWithinTTL(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)

	var calls atomic.Int32
	fetch := func(string) (int, error) {
		calls.Add(1)
		return 42, nil
	}

	v, err := c.Get("k", fetch, false)
	require.NoError(t, err)
	require.Equal(t, 42, v)

	v, err = c.Get("k", fetch, false)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, int32(1), calls.Load())
}

func TestTTLCacheExpires(t *testing.T) {
	c := NewTTLCache[string, int](time.Millisecond)

	var calls atomic.Int32
	fetch := func(string) (int, error) {
		calls.Add(1)
		return int(calls.Load()), nil
	}

	_, err := c.Get("k", fetch, false)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	v, err := c.Get("k", fetch, false)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestTTLCacheInvalidate(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)

	var calls atomic.Int32
	fetch := func(string) (int, error) {
		calls.Add(1)
		return int(calls.Load()), nil
	}

	v, err := c.Get("k", fetch, false)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	v, err = c.Get("k", fetch, true)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestTTLCacheFetchError(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)

	boom := errors.New("boom")
	_, err := c.Get("k", func(string) (int, error) { return 0, boom }, false)
	require.ErrorIs(t, err, boom)

	// Errors are not cached.
	v, err := c.Get("k", func(string) (int, error) { return 7, nil }, false)
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestTTLCacheDeduplicatesConcurrentFetches(t *testing.T) {
	c := NewTTLCache[string, int](time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(string) (int, error) {
		calls.Add(1)
		<-release
		return 9, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get("k", fetch, false)
			require.NoError(t, err)
			require.Equal(t, 9, v)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
}
