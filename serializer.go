package blobcache

import "time"

// DateTimeKind forces every DateTime read or written through a Serializer
// to a fixed zone, matching spec.md §4.1. The coercion converts the value
// with time.Time.UTC or time.Time.Local: the instant is preserved and the
// wall-clock reading changes to that zone's; the original wall-clock value
// and zone are not kept.
type DateTimeKind int

const (
	// DateTimeKindUnspecified performs no coercion.
	DateTimeKindUnspecified DateTimeKind = iota
	// DateTimeKindUTC coerces every time.Time to UTC.
	DateTimeKindUTC
	// DateTimeKindLocal coerces every time.Time to the local zone.
	DateTimeKindLocal
)

func (k DateTimeKind) coerce(t time.Time) time.Time {
	switch k {
	case DateTimeKindUTC:
		return t.UTC()
	case DateTimeKindLocal:
		return t.Local()
	default:
		return t
	}
}

// Format identifies a serializer's byte layout, used by the compatibility
// shim's format sniffing (spec.md §4.2).
type Format int

const (
	// FormatUnknown is returned by sniffing when the byte layout can't be
	// classified.
	FormatUnknown Format = iota
	// FormatJSON is a UTF-8 JSON document.
	FormatJSON
	// FormatBSON is a BSON-encoded document.
	FormatBSON
)

// Serializer converts a value of type T to and from bytes (C1). Two
// interchangeable families are provided: JSONSerializer (text) and
// BSONSerializer (binary), both supporting ForcedDateTimeKind coercion.
type Serializer[T any] interface {
	// Serialize encodes value. Fails with ErrSerialization wrapping the
	// underlying cause on cyclic graphs or other runtime encoding errors.
	Serialize(value T) ([]byte, error)
	// Deserialize decodes data into a T. An empty data yields the zero
	// value and no error -- callers needing the null-marker distinction
	// use the typed layer (C6), not Serializer directly.
	Deserialize(data []byte) (T, error)
	// Format reports the byte layout this serializer produces, used by
	// the compatibility shim for format sniffing.
	Format() Format
}
