package blobcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name string
}

func newFetchTestCache(t *testing.T, clock *ImmediateScheduler) *FetchCache[widget] {
	t.Helper()

	store := NewMemoryStore(WithScheduler(clock), WithJanitorInterval(0))
	fc := NewFetchCache[widget](store, JSONSerializer[widget]{})
	fc.SetCoalescer(NewCoalescer()) // isolate from the process-wide default between tests

	return fc
}

func TestFetchCache_GetOrFetchObject_HitSkipsFetch(t *testing.T) {
	ctx := context.Background()
	fc := newFetchTestCache(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, fc.Typed.InsertObject(ctx, "k", widget{Name: "cached"}, nil))

	var called bool

	v, err := fc.GetOrFetchObject(ctx, "k", func(ctx context.Context) (widget, error) {
		called = true

		return widget{Name: "fetched"}, nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "cached", v.Name)
	assert.False(t, called)
}

func TestFetchCache_GetOrFetchObject_MissCoalescesConcurrentFetches(t *testing.T) {
	ctx := context.Background()
	fc := newFetchTestCache(t, NewImmediateScheduler(time.Now()))

	var calls int32

	start := make(chan struct{})

	const callers = 10

	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			<-start

			_, err := fc.GetOrFetchObject(ctx, "k", func(ctx context.Context) (widget, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(5 * time.Millisecond)

				return widget{Name: "fetched"}, nil
			}, nil)
			assert.NoError(t, err)
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	v, err := fc.Typed.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fetched", v.Name)
}

// TestFetchCache_InvalidateObject_ClearsInFlightCoalescedFetch reproduces
// the source project's bug #524 (spec.md §4.7, §9, testable property #6,
// scenario S2): invalidating a key while a fetch for that key is still in
// flight must forget the coalescer's in-flight entry too, so a concurrent
// GetOrFetchObject call starts a fresh fetch instead of joining the stale
// one.
func TestFetchCache_InvalidateObject_ClearsInFlightCoalescedFetch(t *testing.T) {
	ctx := context.Background()
	fc := newFetchTestCache(t, NewImmediateScheduler(time.Now()))

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = fc.GetOrFetchObject(ctx, "k", func(ctx context.Context) (widget, error) {
			close(started)
			<-release

			return widget{Name: "first"}, nil
		}, nil)
	}()

	<-started // the first fetch is in flight; the coalescer holds an entry for "k"

	require.NoError(t, fc.InvalidateObject(ctx, "k"))

	var secondCalled int32

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, err := fc.GetOrFetchObject(ctx, "k", func(ctx context.Context) (widget, error) {
			atomic.AddInt32(&secondCalled, 1)

			return widget{Name: "second"}, nil
		}, nil)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second GetOrFetchObject never returned -- coalesced onto the stale in-flight call")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&secondCalled),
		"invalidate must forget the in-flight coalescer entry so a concurrent fetch isn't coalesced onto it")

	close(release)
}

func TestFetchCache_GetOrCreateObject_NotCoalesced(t *testing.T) {
	ctx := context.Background()
	fc := newFetchTestCache(t, NewImmediateScheduler(time.Now()))

	v, err := fc.GetOrCreateObject(ctx, "k", func(ctx context.Context) (widget, error) {
		return widget{Name: "created"}, nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "created", v.Name)

	stored, err := fc.Typed.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "created", stored.Name)
}

func TestFetchCache_GetAndFetchLatest_EmitsCachedThenFresh(t *testing.T) {
	ctx := context.Background()
	fc := newFetchTestCache(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, fc.Typed.InsertObject(ctx, "k", widget{Name: "stale"}, nil))

	var got []string

	for r := range fc.GetAndFetchLatest(ctx, "k", func(ctx context.Context) (widget, error) {
		return widget{Name: "fresh"}, nil
	}, nil) {
		require.NoError(t, r.Err)
		got = append(got, r.Value.Name)
	}

	require.Equal(t, []string{"stale", "fresh"}, got)

	stored, err := fc.Typed.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.Name)
}

func TestFetchCache_GetAndFetchLatest_NoCachedValueEmitsOnlyFresh(t *testing.T) {
	ctx := context.Background()
	fc := newFetchTestCache(t, NewImmediateScheduler(time.Now()))

	var got []string

	for r := range fc.GetAndFetchLatest(ctx, "k", func(ctx context.Context) (widget, error) {
		return widget{Name: "fresh"}, nil
	}, nil) {
		require.NoError(t, r.Err)
		got = append(got, r.Value.Name)
	}

	assert.Equal(t, []string{"fresh"}, got)
}

func TestFetchCache_GetAndFetchLatest_InvalidateOnError(t *testing.T) {
	ctx := context.Background()
	fc := newFetchTestCache(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, fc.Typed.InsertObject(ctx, "k", widget{Name: "stale"}, nil))

	sentinel := errors.New("upstream down")

	stream := fc.GetAndFetchLatest(ctx, "k", func(ctx context.Context) (widget, error) {
		return widget{}, sentinel
	}, nil, WithInvalidateOnError[widget](true))

	var results []Result[widget]
	for r := range stream {
		results = append(results, r)
	}

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, sentinel)

	_, err := fc.Typed.GetObject(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
