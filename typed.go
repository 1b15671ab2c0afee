package blobcache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// TypedCache is the C6 typed object layer: it serializes/deserializes
// values of T through a Serializer[T] on top of any BlobStore, stores the
// empty-byte null marker for nil values (spec.md §4.6), and tags every
// entry with T's type tag for type-scoped enumeration and invalidation.
// The key space itself is shared: writing a second type under the same key
// replaces the first type's entry.
type TypedCache[T any] struct {
	Store      BlobStore
	Serializer Serializer[T]

	// Coalescer, when set, is cleared for a key every time that key is
	// invalidated. Without this, invalidating a key while a GetOrFetchObject
	// call is in flight for the same key leaves the coalescer's in-flight
	// entry alone, so the next caller joins that stale call instead of
	// triggering a fresh fetch -- the source project's bug #524 (spec.md
	// §4.7, §9, testable property #6, scenario S2). NewFetchCache wires this
	// to the same Coalescer it hands out for fetch coordination.
	Coalescer *Coalescer
}

// NewTypedCache builds a TypedCache over store using serializer to encode
// and decode values of T.
func NewTypedCache[T any](store BlobStore, serializer Serializer[T]) *TypedCache[T] {
	return &TypedCache[T]{Store: store, Serializer: serializer}
}

func (c *TypedCache[T]) typeTag() string { return typeName[T]() }

// isNilValue reports whether v is a nilable Go value (pointer, interface,
// slice, map, channel, func) that is nil. Non-nilable kinds (structs,
// scalars) are never null by this definition.
func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)

	//nolint:exhaustive
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

func (c *TypedCache[T]) encode(value T) ([]byte, error) {
	if isNilValue(value) {
		return []byte{}, nil
	}

	return c.Serializer.Serialize(value)
}

func (c *TypedCache[T]) decode(data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}

	return c.Serializer.Deserialize(data)
}

// readBytes probes key, then key's type-prefixed alternate, matching the
// compatibility shim's alt-key order (spec.md §4.2, §4.6): a value written
// under the bare key by an older scheme is still found by a newer typed
// reader, and vice versa. The first KeyNotFound -- not the alt probe's --
// is what's returned when both probes miss.
func (c *TypedCache[T]) readBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := c.Store.GetTyped(ctx, key, c.typeTag())
	if err == nil {
		return data, nil
	}

	if !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	altKey := typePrefixedKey(c.typeTag(), key)
	if altKey != key {
		if altData, altErr := c.Store.GetTyped(ctx, altKey, c.typeTag()); altErr == nil {
			return altData, nil
		}
	}

	return nil, err
}

// InsertObject stores value under key, serialized via Serializer. A nil
// value (pointer/interface/slice/map T) stores the null marker instead of
// invoking Serializer (spec.md §4.6).
func (c *TypedCache[T]) InsertObject(ctx context.Context, key string, value T, expiresAt *time.Time) error {
	if key == "" {
		return newArgumentNull("key")
	}

	data, err := c.encode(value)
	if err != nil {
		return err
	}

	return c.Store.InsertTyped(ctx, key, data, c.typeTag(), expiresAt)
}

// GetObject returns the value stored at key. A stored null marker decodes
// to T's zero value with no error, indistinguishable from "never written
// distinctly from absent" only at the caller's discretion -- GetObject
// itself still returns ErrKeyNotFound for a genuinely absent key.
func (c *TypedCache[T]) GetObject(ctx context.Context, key string) (T, error) {
	var zero T

	if key == "" {
		return zero, newArgumentNull("key")
	}

	data, err := c.readBytes(ctx, key)
	if err != nil {
		return zero, err
	}

	return c.decode(data)
}

// GetAllObjects streams every non-null entry under T's type tag.
func (c *TypedCache[T]) GetAllObjects(ctx context.Context) <-chan Result[T] {
	out := make(chan Result[T])

	go func() {
		defer close(out)

		for r := range c.Store.GetAll(ctx, c.typeTag()) {
			if r.Err != nil {
				out <- Result[T]{Err: r.Err}
				continue
			}

			if len(r.Value.Value) == 0 {
				continue
			}

			v, err := c.Serializer.Deserialize(r.Value.Value)
			out <- Result[T]{Value: v, Err: err}
		}
	}()

	return out
}

// GetObjectCreatedAt returns the insertion time of key, or nil if absent.
func (c *TypedCache[T]) GetObjectCreatedAt(ctx context.Context, key string) (*time.Time, error) {
	if key == "" {
		return nil, newArgumentNull("key")
	}

	return c.Store.GetCreatedAtTyped(ctx, key, c.typeTag())
}

// InsertObjects stores a homogeneous batch of T values under their
// respective keys, all sharing T's type tag.
func (c *TypedCache[T]) InsertObjects(ctx context.Context, pairs map[string]T, expiresAt *time.Time) error {
	if pairs == nil {
		return newArgumentNull("pairs")
	}

	encoded := make(map[string][]byte, len(pairs))

	for k, v := range pairs {
		if k == "" {
			return newArgumentNull("key")
		}

		data, err := c.encode(v)
		if err != nil {
			return err
		}

		encoded[k] = data
	}

	return c.Store.InsertManyTyped(ctx, encoded, c.typeTag(), expiresAt)
}

// InvalidateObject removes key from T's type tag and, if a Coalescer is
// wired, forgets any in-flight coalesced fetch for key -- closing the bug
// #524 gap where a concurrent GetOrFetchObject would otherwise keep
// returning a stale result after invalidation.
func (c *TypedCache[T]) InvalidateObject(ctx context.Context, key string) error {
	if key == "" {
		return newArgumentNull("key")
	}

	if err := c.Store.InvalidateTyped(ctx, key, c.typeTag()); err != nil {
		return err
	}

	if c.Coalescer != nil {
		c.Coalescer.Clear(key)
	}

	return nil
}

// InvalidateAllObjects removes every entry under T's type tag and, if a
// Coalescer is wired, forgets every in-flight coalesced fetch (the
// type-scoped key set isn't tracked by Coalescer, so this clears globally
// rather than risk leaving a stale in-flight entry behind).
func (c *TypedCache[T]) InvalidateAllObjects(ctx context.Context) error {
	if err := c.Store.InvalidateAllTyped(ctx, c.typeTag()); err != nil {
		return err
	}

	if c.Coalescer != nil {
		c.Coalescer.ClearAll()
	}

	return nil
}

// InsertHeterogeneousObjects stores a batch whose values have varying
// dynamic types (spec.md §4.6): each pair's typeTag is its value's dynamic
// type name, or "Object" for a nil value. Values are JSON-encoded, since
// their static type is unknown at compile time and so cannot go through a
// Serializer[T]. Unlike InsertObjects, entries land in per-dynamic-type
// buckets on store -- equivalent to calling InsertObject once per pair with
// each value's own type.
func InsertHeterogeneousObjects(ctx context.Context, store BlobStore, pairs map[string]any, expiresAt *time.Time) error {
	if pairs == nil {
		return newArgumentNull("pairs")
	}

	byType := make(map[string]map[string][]byte)

	for k, v := range pairs {
		if k == "" {
			return newArgumentNull("key")
		}

		tag := "Object"

		var data []byte

		if v == nil || isNilValue(v) {
			data = []byte{}
		} else {
			// Same naming as typeName[T], so InsertObject and this batch
			// agree on the tag for a given dynamic type.
			rt := reflect.TypeOf(v)

			tag = rt.Name()
			if rt.PkgPath() != "" {
				tag = rt.PkgPath() + "." + rt.Name()
			}

			enc, err := json.Marshal(v)
			if err != nil {
				return newSerializationError(tag, k, err)
			}

			data = enc
		}

		if byType[tag] == nil {
			byType[tag] = make(map[string][]byte)
		}

		byType[tag][k] = data
	}

	for tag, kv := range byType {
		if err := store.InsertManyTyped(ctx, kv, tag, expiresAt); err != nil {
			return err
		}
	}

	return nil
}
