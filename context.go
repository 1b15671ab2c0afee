package blobcache

import (
	"context"
	"time"
)

type ttlCtxKey struct{}

// WithTTL returns a context that overrides the store's default
// time-to-live for the next insert performed with it. Pass UnlimitedTTL to
// disable expiration for that single call.
func WithTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, ttlCtxKey{}, ttl)
}

// ttlOverride extracts a TTL set by WithTTL, or DefaultTTL if none was set.
func ttlOverride(ctx context.Context) time.Duration {
	if ttl, ok := ctx.Value(ttlCtxKey{}).(time.Duration); ok {
		return ttl
	}

	return DefaultTTL
}

type skipReadCtxKey struct{}

// WithSkipRead returns a context that forces the next read on that context
// to behave as a cache miss, without touching the stored entry.
func WithSkipRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipReadCtxKey{}, true)
}

// SkipRead reports whether ctx requests bypassing the cache on read.
func SkipRead(ctx context.Context) bool {
	skip, _ := ctx.Value(skipReadCtxKey{}).(bool)

	return skip
}
