package blobcache

import "bytes"

// SniffFormat heuristically classifies data's byte layout (spec.md §4.2):
// a '{' or '[' after optional leading ASCII whitespace suggests JSON; a
// leading 4-byte little-endian length of at least 5 and at most len(data)+4
// suggests BSON (every BSON document starts with its own total length).
// Anything else is FormatUnknown.
func SniffFormat(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}

	if len(data) >= 4 {
		length := int32(data[0]) | int32(data[1])<<8 | int32(data[2])<<16 | int32(data[3])<<24
		if length >= 5 && int(length) <= len(data)+4 {
			return FormatBSON
		}
	}

	return FormatUnknown
}

// CompatSerializer is the C2 compatibility shim: it wraps a primary
// Serializer and, on a decode failure, sniffs the byte layout and retries
// with whichever Alternates entry matches. DateTime-kind coercion is
// already handled per-format by each wrapped Serializer, so the shim only
// adds format sniffing; alternative-key probing (the other half of C2) is
// implemented by the typed layer (TypedCache.readBytes in typed.go), since
// it needs access to the backing BlobStore, not just bytes in hand.
//
// CompatSerializer never returns a value from the wrong type domain: every
// Alternates entry decodes into the same T as Primary, so a successful
// alternate decode is type-correct by construction.
type CompatSerializer[T any] struct {
	Primary    Serializer[T]
	Alternates []Serializer[T]
}

var _ Serializer[struct{}] = CompatSerializer[struct{}]{}

// NewCompatSerializer builds a CompatSerializer that falls back to
// alternates, in order, only when primary fails to decode.
func NewCompatSerializer[T any](primary Serializer[T], alternates ...Serializer[T]) CompatSerializer[T] {
	return CompatSerializer[T]{Primary: primary, Alternates: alternates}
}

// Serialize implements Serializer, always using Primary.
func (c CompatSerializer[T]) Serialize(value T) ([]byte, error) {
	return c.Primary.Serialize(value)
}

// Deserialize implements Serializer.
func (c CompatSerializer[T]) Deserialize(data []byte) (T, error) {
	value, err := c.Primary.Deserialize(data)
	if err == nil {
		return value, nil
	}

	sniffed := SniffFormat(data)

	for _, alt := range c.Alternates {
		if sniffed != FormatUnknown && alt.Format() != sniffed {
			continue
		}

		if v, altErr := alt.Deserialize(data); altErr == nil {
			return v, nil
		}
	}

	return value, err
}

// Format implements Serializer, reporting Primary's format.
func (c CompatSerializer[T]) Format() Format { return c.Primary.Format() }
