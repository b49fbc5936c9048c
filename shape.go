package detach

import (
	"reflect"
	"time"
)

// Shape is the container form of a value, which decides how it is walked
type Shape int

const (
	ShapeNil      Shape = iota // nil pointer, map, slice or interface
	ShapeScalar                // opaque leaf
	ShapeEnum                  // named integer or string type
	ShapeArray                 // fixed-size array
	ShapeSequence              // slice
	ShapeSet                   // map[K]struct{}
	ShapeMapping               // any other map
	ShapeEntity                // struct, reached directly or through a pointer
)

var shapeNames = map[Shape]string{
	ShapeNil:      "nil",
	ShapeScalar:   "scalar",
	ShapeEnum:     "enum",
	ShapeArray:    "array",
	ShapeSequence: "sequence",
	ShapeSet:      "set",
	ShapeMapping:  "mapping",
	ShapeEntity:   "entity",
}

func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return "unknown"
}

// Container reports whether values of this shape hold other values
func (s Shape) Container() bool {
	return s == ShapeArray || s == ShapeSequence || s == ShapeSet || s == ShapeMapping
}

var timeType = reflect.TypeOf(time.Time{})

// ShapeOf classifies value the way a walk would
func ShapeOf(value any) Shape {
	return shapeOf(reflect.ValueOf(value))
}

func shapeOf(v reflect.Value) Shape {
	for {
		if !v.IsValid() {
			return ShapeNil
		}
		switch v.Kind() {
		case reflect.Interface, reflect.Pointer:
			if v.IsNil() {
				return ShapeNil
			}
			v = v.Elem()
			continue
		case reflect.Map, reflect.Slice:
			if v.IsNil() {
				return ShapeNil
			}
		}
		return shapeOfType(v.Type())
	}
}

func shapeOfType(t reflect.Type) Shape {
	switch t.Kind() {
	case reflect.Pointer:
		return shapeOfType(t.Elem())
	case reflect.Struct:
		if t == timeType {
			return ShapeScalar
		}
		return ShapeEntity
	case reflect.Array:
		return ShapeArray
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return ShapeScalar
		}
		return ShapeSequence
	case reflect.Map:
		if isEmptyStruct(t.Elem()) {
			return ShapeSet
		}
		return ShapeMapping
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
		if t.Name() != "" && t.PkgPath() != "" {
			return ShapeEnum
		}
		return ShapeScalar
	}
	return ShapeScalar
}

func isEmptyStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.NumField() == 0
}

// mayHoldReferences reports whether values of type t can reach entities or
// lazy references, so leaf-only containers are not walked element by element
func mayHoldReferences(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			return false
		}
		return true
	case reflect.Array:
		return mayHoldReferences(t.Elem())
	case reflect.Struct:
		return t != timeType && !isEmptyStruct(t)
	}
	return false
}
