package blobcache

import (
	"reflect"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// BSONSerializer encodes values using BSON, the binary/BSON-compatible
// family required by spec.md §4.1/§6. Grounded on go.mongodb.org/mongo-
// driver/v2/bson, used standalone here purely as a codec (no database
// connection involved).
type BSONSerializer[T any] struct {
	// ForcedDateTimeKind coerces every time.Time value the same way
	// JSONSerializer does; see spec.md §9 for the lossiness caveat.
	ForcedDateTimeKind DateTimeKind
}

var _ Serializer[struct{}] = BSONSerializer[struct{}]{}

// Serialize implements Serializer. BSON documents must be maps or structs
// at the top level, so scalar T values are wrapped in a single-field
// envelope and unwrapped again on Deserialize.
func (s BSONSerializer[T]) Serialize(value T) ([]byte, error) {
	coerceDateTimes(reflect.ValueOf(&value).Elem(), s.ForcedDateTimeKind)

	data, err := bson.Marshal(bsonEnvelope[T]{V: value})
	if err != nil {
		return nil, newSerializationError(typeName[T](), "", err)
	}

	return data, nil
}

// Deserialize implements Serializer.
func (s BSONSerializer[T]) Deserialize(data []byte) (T, error) {
	var env bsonEnvelope[T]

	if len(data) == 0 {
		return env.V, nil
	}

	if err := bson.Unmarshal(data, &env); err != nil {
		return env.V, newSerializationError(typeName[T](), "", err)
	}

	coerceDateTimes(reflect.ValueOf(&env.V).Elem(), s.ForcedDateTimeKind)

	return env.V, nil
}

// Format implements Serializer.
func (s BSONSerializer[T]) Format() Format { return FormatBSON }

type bsonEnvelope[T any] struct {
	V T `bson:"v"`
}
