package neo4jmirror

import (
	"errors"
	"reflect"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// A errPropertyNotFound occurs when a column of a record is missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a column of a record has a runtime
// type that is different from the expected type. The error message contains
// the effective type of the property at runtime.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	return "unexpected property type: " + e.Type.String()
}

// The recordProperty interface lists the values getRecordProperty supports.
//
// These type constraints protect against types the neo4j driver never returns,
// like int, uint32, float32, etc.
type recordProperty interface {
	int64 | float64 | bool | string | []any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}
