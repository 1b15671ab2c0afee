package blobcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedCache_InsertGetObject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	cache := NewTypedCache[widget](store, JSONSerializer[widget]{})

	require.NoError(t, cache.InsertObject(ctx, "k", widget{Name: "a"}, nil))

	v, err := cache.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", v.Name)
}

func TestTypedCache_NilPointerStoresNullMarker(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	cache := NewTypedCache[*widget](store, JSONSerializer[*widget]{})

	require.NoError(t, cache.InsertObject(ctx, "k", nil, nil))

	raw, err := store.GetTyped(ctx, "k", cache.typeTag())
	require.NoError(t, err)
	assert.Empty(t, raw)

	v, err := cache.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTypedCache_EmptyKeyFailsBeforeIO(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	cache := NewTypedCache[widget](store, JSONSerializer[widget]{})

	err := cache.InsertObject(ctx, "", widget{}, nil)
	assert.ErrorIs(t, err, ErrArgumentNull)

	_, err = cache.GetObject(ctx, "")
	assert.ErrorIs(t, err, ErrArgumentNull)
}

func TestTypedCache_ReadsAltKeyWrittenUnderTypePrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	cache := NewTypedCache[widget](store, JSONSerializer[widget]{})

	data, err := cache.Serializer.Serialize(widget{Name: "legacy"})
	require.NoError(t, err)

	altKey := typePrefixedKey(cache.typeTag(), "k")
	require.NoError(t, store.InsertTyped(ctx, altKey, data, cache.typeTag(), nil))

	v, err := cache.GetObject(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "legacy", v.Name)
}

func TestTypedCache_InvalidateAllObjectsScopesToTypeTag(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	cache := NewTypedCache[widget](store, JSONSerializer[widget]{})

	require.NoError(t, cache.InsertObject(ctx, "a", widget{Name: "a"}, nil))
	require.NoError(t, cache.InsertObject(ctx, "b", widget{Name: "b"}, nil))
	require.NoError(t, store.Insert(ctx, "untyped", []byte("raw"), nil))

	require.NoError(t, cache.InvalidateAllObjects(ctx))

	_, err := cache.GetObject(ctx, "a")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	v, err := store.Get(ctx, "untyped")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), v)
}

func TestInsertHeterogeneousObjects(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))

	pairs := map[string]any{
		"a": widget{Name: "a"},
		"b": 42,
		"c": nil,
	}

	require.NoError(t, InsertHeterogeneousObjects(ctx, store, pairs, nil))

	widgetCache := NewTypedCache[widget](store, JSONSerializer[widget]{})

	values, err := collect(widgetCache.GetAllObjects(ctx))
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "a", values[0].Name)

	v, err := store.GetTyped(ctx, "b", "int")
	require.NoError(t, err)
	assert.Equal(t, "42", string(v))

	v, err = store.GetTyped(ctx, "c", "Object")
	require.NoError(t, err)
	assert.Empty(t, v)
}
