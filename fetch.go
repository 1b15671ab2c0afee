package blobcache

import (
	"context"
	"errors"
	"time"
)

// defaultCoalescer is the process-wide request coalescer (C7) used by
// every FetchCache built with NewFetchCache. It is process-wide state,
// created when the package is initialized.
// Callers needing isolation (tests, multi-tenant hosts) build their own
// Coalescer and assign it via FetchCache.SetCoalescer.
var defaultCoalescer = NewCoalescer()

// FetchFunc produces a fresh value to cache, e.g. a network or database
// call.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// FetchCache layers C8's get-or-fetch coordination over a TypedCache.
type FetchCache[T any] struct {
	Typed     *TypedCache[T]
	Coalescer *Coalescer
}

// NewFetchCache builds a FetchCache over store using serializer for T and
// the process-wide default Coalescer, wiring the same Coalescer into Typed
// so that Typed.InvalidateObject/InvalidateAllObjects also forget any
// matching in-flight fetch (bug #524, spec.md §4.7, testable property #6).
func NewFetchCache[T any](store BlobStore, serializer Serializer[T]) *FetchCache[T] {
	typed := NewTypedCache[T](store, serializer)
	typed.Coalescer = defaultCoalescer

	return &FetchCache[T]{
		Typed:     typed,
		Coalescer: defaultCoalescer,
	}
}

// SetCoalescer replaces the Coalescer used for fetch coordination, keeping
// Typed's Coalescer reference in sync so invalidation still forgets the
// right in-flight entries.
func (f *FetchCache[T]) SetCoalescer(c *Coalescer) {
	f.Coalescer = c
	f.Typed.Coalescer = c
}

// InvalidateObject removes key from the cache and forgets any in-flight
// coalesced fetch for key, so a concurrent GetOrFetchObject call can never
// observe a stale in-flight result after invalidation (bug #524, spec.md
// §4.7, testable property #6, scenario S2).
func (f *FetchCache[T]) InvalidateObject(ctx context.Context, key string) error {
	return f.Typed.InvalidateObject(ctx, key)
}

// InvalidateAllObjects removes every entry under T's type tag and forgets
// every in-flight coalesced fetch.
func (f *FetchCache[T]) InvalidateAllObjects(ctx context.Context) error {
	return f.Typed.InvalidateAllObjects(ctx)
}

// GetOrFetchObject implements C8's GetOrFetch: a cache hit is returned
// immediately, bypassing the coalescer entirely. A miss coalesces
// concurrent callers for the same key through a single fetch + InsertObject
// (spec.md §4.8, testable property #5).
func (f *FetchCache[T]) GetOrFetchObject(ctx context.Context, key string, fetch FetchFunc[T], expiresAt *time.Time) (T, error) {
	var zero T

	if key == "" {
		return zero, newArgumentNull("key")
	}

	if fetch == nil {
		return zero, newArgumentNull("fetch")
	}

	if v, err := f.Typed.GetObject(ctx, key); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return zero, err
	}

	data, err := f.Coalescer.GetOrCreateRequest(ctx, key, func(ctx context.Context) ([]byte, error) {
		value, fetchErr := fetch(ctx)
		if fetchErr != nil {
			return nil, fetchErr
		}

		encoded, encodeErr := f.Typed.encode(value)
		if encodeErr != nil {
			return nil, encodeErr
		}

		if insertErr := f.Typed.Store.InsertTyped(ctx, key, encoded, f.Typed.typeTag(), expiresAt); insertErr != nil {
			return nil, insertErr
		}

		return encoded, nil
	})
	if err != nil {
		return zero, err
	}

	return f.Typed.decode(data)
}

// GetOrCreateObject is GetOrFetchObject's uncoalesced sibling: a miss
// invokes create synchronously, without going through the Coalescer.
// Spec.md §4.8 keeps this as a distinct, simpler entry point for callers
// who don't need cross-goroutine deduplication.
func (f *FetchCache[T]) GetOrCreateObject(ctx context.Context, key string, create FetchFunc[T], expiresAt *time.Time) (T, error) {
	var zero T

	if key == "" {
		return zero, newArgumentNull("key")
	}

	if create == nil {
		return zero, newArgumentNull("create")
	}

	if v, err := f.Typed.GetObject(ctx, key); err == nil {
		return v, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return zero, err
	}

	value, err := create(ctx)
	if err != nil {
		return zero, err
	}

	if err := f.Typed.InsertObject(ctx, key, value, expiresAt); err != nil {
		return zero, err
	}

	return value, nil
}

type fetchLatestConfig[T any] struct {
	fetchPredicate           func(createdAt time.Time) bool
	cacheValidationPredicate func(value T) bool
	invalidateOnError        bool
}

// FetchLatestOption configures GetAndFetchLatest.
type FetchLatestOption[T any] func(cfg *fetchLatestConfig[T])

// WithFetchPredicate skips the fresh fetch entirely when a cached value
// exists and predicate(createdAt) is false -- e.g. "only refetch once the
// cached copy is older than a day".
func WithFetchPredicate[T any](predicate func(createdAt time.Time) bool) FetchLatestOption[T] {
	return func(cfg *fetchLatestConfig[T]) { cfg.fetchPredicate = predicate }
}

// WithCacheValidationPredicate rejects a freshly fetched value from being
// cached or emitted when predicate(value) is false; the stream simply ends
// without a second emission.
func WithCacheValidationPredicate[T any](predicate func(value T) bool) FetchLatestOption[T] {
	return func(cfg *fetchLatestConfig[T]) { cfg.cacheValidationPredicate = predicate }
}

// WithInvalidateOnError removes key from cache when fetch fails, so a
// future call doesn't keep replaying a value known to be unreachable
// upstream.
func WithInvalidateOnError[T any](invalidate bool) FetchLatestOption[T] {
	return func(cfg *fetchLatestConfig[T]) { cfg.invalidateOnError = invalidate }
}

// GetAndFetchLatest implements C8's stale-while-revalidate pattern: the
// cached value, if any, is emitted first; a freshly fetched value is then
// emitted, unless fetchPredicate rejects refetching or
// cacheValidationPredicate rejects the fetched value. The coalescer's entry
// for key is cleared before the fresh value is cached, so a concurrent
// GetOrFetchObject call never observes a stale in-flight result for the
// same key (spec.md §9, testable property #7).
//
// Each call returns its own channel and goroutine; concurrent
// GetAndFetchLatest calls for the same key are not multicast to each other
// the way a single call's two emissions are ordered to its own caller.
func (f *FetchCache[T]) GetAndFetchLatest(
	ctx context.Context,
	key string,
	fetch FetchFunc[T],
	expiresAt *time.Time,
	opts ...FetchLatestOption[T],
) <-chan Result[T] {
	out := make(chan Result[T], 2)

	var cfg fetchLatestConfig[T]
	for _, o := range opts {
		o(&cfg)
	}

	if key == "" {
		out <- Result[T]{Err: newArgumentNull("key")}
		close(out)

		return out
	}

	if fetch == nil {
		out <- Result[T]{Err: newArgumentNull("fetch")}
		close(out)

		return out
	}

	go func() {
		defer close(out)

		var (
			hadCached bool
			createdAt time.Time
		)

		cached, err := f.Typed.GetObject(ctx, key)

		switch {
		case err == nil:
			hadCached = true
			out <- Result[T]{Value: cached}

			if at, caErr := f.Typed.Store.GetCreatedAtTyped(ctx, key, f.Typed.typeTag()); caErr == nil && at != nil {
				createdAt = *at
			}
		case !errors.Is(err, ErrKeyNotFound):
			out <- Result[T]{Err: err}

			return
		}

		if hadCached && cfg.fetchPredicate != nil && !cfg.fetchPredicate(createdAt) {
			return
		}

		value, err := fetch(ctx)
		if err != nil {
			if cfg.invalidateOnError {
				_ = f.InvalidateObject(ctx, key)
			}

			out <- Result[T]{Err: err}

			return
		}

		if cfg.cacheValidationPredicate != nil && !cfg.cacheValidationPredicate(value) {
			return
		}

		f.Coalescer.Clear(key)

		if err := f.Typed.InsertObject(ctx, key, value, expiresAt); err != nil {
			out <- Result[T]{Err: err}

			return
		}

		out <- Result[T]{Value: value}
	}()

	return out
}
