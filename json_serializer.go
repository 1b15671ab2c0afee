package blobcache

import (
	"bytes"
	"encoding/json"
	"reflect"
	"time"
)

// JSONSerializer encodes values as UTF-8 JSON (spec.md §4.1, §6). It is the
// text/JSON family; BSONSerializer is the binary family. Both are
// interchangeable at runtime behind the Serializer[T] interface.
type JSONSerializer[T any] struct {
	// ForcedDateTimeKind, when not DateTimeKindUnspecified, coerces every
	// time.Time value (including inside the top-level struct's fields
	// reachable via JSON marshaling of time.Time itself) to that kind
	// before encoding and after decoding.
	ForcedDateTimeKind DateTimeKind
}

var _ Serializer[struct{}] = JSONSerializer[struct{}]{}

// Serialize implements Serializer.
func (s JSONSerializer[T]) Serialize(value T) ([]byte, error) {
	coerceDateTimes(reflect.ValueOf(&value).Elem(), s.ForcedDateTimeKind)

	data, err := json.Marshal(value)
	if err != nil {
		return nil, newSerializationError(typeName[T](), "", err)
	}

	return data, nil
}

// Deserialize implements Serializer.
func (s JSONSerializer[T]) Deserialize(data []byte) (T, error) {
	var value T

	if len(data) == 0 {
		return value, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(&value); err != nil {
		return value, newSerializationError(typeName[T](), "", err)
	}

	coerceDateTimes(reflect.ValueOf(&value).Elem(), s.ForcedDateTimeKind)

	return value, nil
}

// Format implements Serializer.
func (s JSONSerializer[T]) Format() Format { return FormatJSON }

// typeName returns the fully-qualified name used as a typeTag throughout
// the typed layer (C6) and the compatibility shim's alt-key probing (C2).
// Unnamed types (pointers, slices, maps, ...) have no name and yield "",
// which stores treat as untyped.
func typeName[T any]() string {
	var zero T

	t := reflect.TypeOf(zero)
	if t == nil {
		// T is an interface type, so zero is a nil interface and
		// reflect.TypeOf returns nil; fall back to the static type via a
		// typed nil pointer.
		t = reflect.TypeOf(&zero).Elem()
	}

	if t.PkgPath() == "" {
		return t.Name()
	}

	return t.PkgPath() + "." + t.Name()
}

// coerceDateTimes walks v (a struct, pointer, slice, map or time.Time) and
// coerces every time.Time it finds to kind, in place. Unexported fields and
// unaddressable values are skipped rather than panicking: best-effort
// coercion, matching the shim's documented lossiness (spec.md §9).
func coerceDateTimes(v reflect.Value, kind DateTimeKind) {
	if kind == DateTimeKindUnspecified || !v.IsValid() {
		return
	}

	//nolint:exhaustive
	switch v.Kind() {
	case reflect.Ptr:
		if !v.IsNil() {
			coerceDateTimes(v.Elem(), kind)
		}
	case reflect.Interface:
		if !v.IsNil() {
			coerceDateTimes(v.Elem(), kind)
		}
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			if v.CanSet() {
				v.Set(reflect.ValueOf(kind.coerce(t)))
			}

			return
		}

		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).PkgPath != "" {
				continue // unexported
			}

			coerceDateTimes(v.Field(i), kind)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			coerceDateTimes(v.Index(i), kind)
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			e := v.MapIndex(k)

			ev := reflect.New(e.Type()).Elem()
			ev.Set(e)
			coerceDateTimes(ev, kind)
			v.SetMapIndex(k, ev)
		}
	}
}
