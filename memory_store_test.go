package blobcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T, clock *ImmediateScheduler) *MemoryStore {
	t.Helper()

	return NewMemoryStore(WithScheduler(clock), WithDefaultTTL(UnlimitedTTL), WithJanitorInterval(0))
}

func TestMemoryStore_InsertGet(t *testing.T) {
	ctx := context.Background()
	clock := NewImmediateScheduler(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := newTestMemoryStore(t, clock)

	require.NoError(t, store.Insert(ctx, "k", []byte("v"), nil))

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	clock := NewImmediateScheduler(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := newTestMemoryStore(t, clock)

	exp := clock.Now().Add(time.Minute)
	require.NoError(t, store.Insert(ctx, "k", []byte("v"), &exp))

	clock.Advance(30 * time.Second)

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	clock.Advance(time.Minute)

	_, err = store.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestMemoryStore_UpdateExpirationExtends(t *testing.T) {
	ctx := context.Background()
	clock := NewImmediateScheduler(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := newTestMemoryStore(t, clock)

	exp := clock.Now().Add(time.Minute)
	require.NoError(t, store.Insert(ctx, "k", []byte("v"), &exp))

	clock.Advance(45 * time.Second)

	newExp := clock.Now().Add(time.Hour)
	require.NoError(t, store.UpdateExpiration(ctx, "k", &newExp))

	clock.Advance(2 * time.Minute)

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryStore_UpdateExpirationMissingKey(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	exp := time.Now().Add(time.Minute)
	err := store.UpdateExpiration(ctx, "missing", &exp)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestMemoryStore_InvalidateAndInvalidateAll(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, store.Insert(ctx, "a", []byte("1"), nil))
	require.NoError(t, store.Insert(ctx, "b", []byte("2"), nil))

	require.NoError(t, store.Invalidate(ctx, "a"))

	_, err := store.Get(ctx, "a")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	v, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, store.InvalidateAll(ctx))

	_, err = store.Get(ctx, "b")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestMemoryStore_TypedEnumeration(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, store.InsertTyped(ctx, "a", []byte("1"), "widget", nil))
	require.NoError(t, store.InsertTyped(ctx, "b", []byte("2"), "widget", nil))
	require.NoError(t, store.InsertTyped(ctx, "c", []byte("3"), "gadget", nil))

	values, err := collect(store.GetAll(ctx, "widget"))
	require.NoError(t, err)
	assert.Len(t, values, 2)

	require.NoError(t, store.InvalidateAllTyped(ctx, "widget"))

	values, err = collect(store.GetAll(ctx, "widget"))
	require.NoError(t, err)
	assert.Empty(t, values)

	v, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)
}

func TestMemoryStore_GetTypedDoesNotEnforceTag(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, store.InsertTyped(ctx, "k", []byte("v"), "widget", nil))

	v, err := store.GetTyped(ctx, "k", "completely-different-type")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryStore_SkipRead(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, store.Insert(ctx, "k", []byte("v"), nil))

	_, err := store.Get(WithSkipRead(ctx), "k")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryStore_CloseDisposes(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	require.NoError(t, store.Insert(ctx, "k", []byte("v"), nil))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // idempotent

	_, err := store.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrDisposed))

	err = store.Insert(ctx, "k2", []byte("v"), nil)
	assert.True(t, errors.Is(err, ErrDisposed))
}

func TestMemoryStore_GetCreatedAtAbsentIsNotError(t *testing.T) {
	ctx := context.Background()
	store := newTestMemoryStore(t, NewImmediateScheduler(time.Now()))

	at, err := store.GetCreatedAt(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, at)
}
