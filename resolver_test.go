package detach

import (
	"reflect"
	"testing"
	"time"
)

type testStatus string

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  Class
	}{
		{"nil", nil, ClassPlain},
		{"scalar", 3, ClassPlain},
		{"plain slice", []int{1}, ClassPlain},
		{"entity", loadedCustomer("1", "Al"), ClassInitializedEntity},
		{"unloaded proxy", unloadedCustomer("1"), ClassUninitialized},
		{"unloaded handle", &testHandle{id: "1"}, ClassUninitialized},
		{"loaded handle", &testHandle{id: "1", target: loadedCustomer("1", "")}, ClassProxy},
		{"unloaded slice", UnloadedSlice[int](), ClassUninitialized},
		{"loaded slice", NewLazySlice(1, 2), ClassInitializedContainer},
		{"unloaded set", UnloadedSet[string](), ClassUninitialized},
		{"loaded map", NewLazyMap(map[string]int{"a": 1}), ClassInitializedContainer},
		{"unloaded map", UnloadedMap[string, int](), ClassUninitialized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.value); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify_NeverLoads(t *testing.T) {
	s := UnloadedSlice[int]()
	Classify(s)
	if s.IsInitialized() || s.Items() != nil {
		t.Error("classification loaded the collection")
	}
}

func TestShapeOf(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  Shape
	}{
		{"nil", nil, ShapeNil},
		{"nil pointer", (*testCustomer)(nil), ShapeNil},
		{"nil slice", []int(nil), ShapeNil},
		{"int", 1, ShapeScalar},
		{"string", "x", ShapeScalar},
		{"bytes", []byte("x"), ShapeScalar},
		{"time", time.Now(), ShapeScalar},
		{"named string", testStatus("open"), ShapeEnum},
		{"mode", AccessorAccess, ShapeEnum},
		{"array", [2]int{}, ShapeArray},
		{"slice", []int{1}, ShapeSequence},
		{"set", map[string]struct{}{}, ShapeSet},
		{"mapping", map[string]int{}, ShapeMapping},
		{"struct", testLine{}, ShapeEntity},
		{"pointer to struct", &testLine{}, ShapeEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShapeOf(tt.value); got != tt.want {
				t.Errorf("ShapeOf() = %v, want %v", got, tt.want)
			}
		})
	}

	if !ShapeSet.Container() || ShapeEntity.Container() {
		t.Error("unexpected Container() result")
	}
}

func TestSetIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		field   any
		id      any
		want    any
		wantErr bool
	}{
		{"string to string", "", "abc", "abc", false},
		{"int to string", "", 12, "12", false},
		{"string to int", int64(0), "42", int64(42), false},
		{"string to uint", uint32(0), "7", uint32(7), false},
		{"int to uint", uint(0), 9, uint(9), false},
		{"not a number", 0, "abc", nil, true},
		{"unsupported", 0.0, "1", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := reflect.New(reflect.TypeOf(tt.field)).Elem()
			err := setIdentifier(field, tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setIdentifier() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && field.Interface() != tt.want {
				t.Errorf("field = %v, want %v", field.Interface(), tt.want)
			}
		})
	}
}

func TestDistinct(t *testing.T) {
	a := &testLine{Oid: "a"}
	aCopy := &testLine{Oid: "a"}
	noID := &testLine{}
	seq := reflect.ValueOf([]*testLine{a, nil, aCopy, noID, noID, nil})

	got := distinct(seq).Interface().([]*testLine)

	want := []*testLine{a, nil, noID}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("distinct() = %v, want %v", got, want)
	}

	values := distinct(reflect.ValueOf([]string{"x", "y", "x"})).Interface().([]string)
	if !reflect.DeepEqual(values, []string{"x", "y"}) {
		t.Errorf("distinct() = %v", values)
	}
}

func TestPlainCopy(t *testing.T) {
	src := map[string]int{"a": 1}
	cp := plainCopy(reflect.ValueOf(src)).Interface().(map[string]int)
	cp["b"] = 2
	if len(src) != 1 {
		t.Error("copy shares storage with the source")
	}

	if plainCopy(reflect.ValueOf([]int(nil))).IsValid() {
		t.Error("copy of a nil slice should be invalid")
	}
}
