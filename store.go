package blobcache

import (
	"context"
	"time"
)

// BlobStore is the contract shared by every storage backend (C4, C5):
// a thread-safe key to bytes map with lazy, time-based expiration and an
// optional type tag per entry for type-scoped operations. See spec.md §3-4.
//
// Go has no method overloading, so spec.md's `get(k)` / `get(k,T)` pairs
// become a plain and a *Typed variant. Every operation fails with
// ErrDisposed once Close has been called.
type BlobStore interface {
	// Insert upserts an untyped entry.
	Insert(ctx context.Context, key string, value []byte, expiresAt *time.Time) error
	// InsertTyped upserts an entry tagged with typeTag, indexing it for
	// type-scoped operations.
	InsertTyped(ctx context.Context, key string, value []byte, typeTag string, expiresAt *time.Time) error
	// InsertMany upserts a batch of untyped entries atomically: observers
	// see either all pairs or none.
	InsertMany(ctx context.Context, pairs map[string][]byte, expiresAt *time.Time) error
	// InsertManyTyped upserts a batch of typed entries atomically.
	InsertManyTyped(ctx context.Context, pairs map[string][]byte, typeTag string, expiresAt *time.Time) error

	// Get returns the live value for key, or ErrKeyNotFound if absent or
	// expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetTyped returns the live value for key. A store MAY or MAY NOT
	// require the stored entry's type tag to match typeTag; MemoryStore
	// does not (see DESIGN.md), matching the teacher's permissive read.
	GetTyped(ctx context.Context, key, typeTag string) ([]byte, error)
	// GetMany streams the live pairs for keys, silently skipping any
	// absent or expired key.
	GetMany(ctx context.Context, keys []string) <-chan Result[KeyValue]
	// GetManyTyped is the type-scoped counterpart of GetMany.
	GetManyTyped(ctx context.Context, keys []string, typeTag string) <-chan Result[KeyValue]
	// GetAll streams every live entry tagged with typeTag.
	GetAll(ctx context.Context, typeTag string) <-chan Result[KeyValue]
	// GetAllKeys streams every live key regardless of type.
	GetAllKeys(ctx context.Context) <-chan Result[string]
	// GetAllKeysTyped streams every live key tagged with typeTag.
	GetAllKeysTyped(ctx context.Context, typeTag string) <-chan Result[string]

	// GetCreatedAt returns the entry's creation time, or nil if the key is
	// absent or expired. Unlike Get, a miss is not an error.
	GetCreatedAt(ctx context.Context, key string) (*time.Time, error)
	// GetCreatedAtTyped is the type-scoped counterpart of GetCreatedAt.
	GetCreatedAtTyped(ctx context.Context, key, typeTag string) (*time.Time, error)

	// UpdateExpiration rewrites the expiration of an existing entry without
	// touching its value, used by the stale-then-extend pattern (spec.md
	// scenario S3). Fails with ErrKeyNotFound if the key is absent.
	UpdateExpiration(ctx context.Context, key string, expiresAt *time.Time) error
	// UpdateExpirationTyped is the type-scoped counterpart.
	UpdateExpirationTyped(ctx context.Context, key, typeTag string, expiresAt *time.Time) error

	// Invalidate removes key from the store and every type index bucket.
	Invalidate(ctx context.Context, key string) error
	// InvalidateTyped removes key; typeTag narrows intent but the key
	// space is shared, so the effect matches Invalidate.
	InvalidateTyped(ctx context.Context, key, typeTag string) error
	// InvalidateMany removes each key, best-effort: already-absent keys
	// are not an error.
	InvalidateMany(ctx context.Context, keys []string) error
	// InvalidateManyTyped is the type-scoped counterpart.
	InvalidateManyTyped(ctx context.Context, keys []string, typeTag string) error
	// InvalidateAll clears the store.
	InvalidateAll(ctx context.Context) error
	// InvalidateAllTyped clears only entries tagged with typeTag.
	InvalidateAllTyped(ctx context.Context, typeTag string) error

	// Flush forces any buffered writes to become durable. A no-op for
	// backends that are always durable (e.g. MemoryStore).
	Flush(ctx context.Context) error
	// FlushTyped is the type-scoped counterpart of Flush.
	FlushTyped(ctx context.Context, typeTag string) error
	// Vacuum physically removes every expired entry and reclaims backing
	// storage. Serializable with reads and writes: concurrent readers
	// observe either the pre- or post-vacuum state, never a partial one.
	Vacuum(ctx context.Context) error

	// Close disposes the store. Idempotent; every operation on a disposed
	// store subsequently fails with ErrDisposed.
	Close() error
}
