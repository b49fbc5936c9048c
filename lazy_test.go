package detach

import (
	"encoding/json"
	"errors"
	"testing"
)

var (
	_ RefillableCollection = (*LazySlice[int])(nil)
	_ RefillableCollection = (*LazySet[string])(nil)
	_ RefillableCollection = (*LazyMap[string, int])(nil)
)

func TestLazyCollections_Refill(t *testing.T) {
	t.Run("slice", func(t *testing.T) {
		s := NewLazySlice(1, 1, 2)
		if err := s.Refill([]int{1, 2}); err != nil {
			t.Fatalf("Refill failed: %v", err)
		}
		if got := s.Items(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
			t.Errorf("Items() = %v, want [1 2]", got)
		}
		if !s.IsInitialized() {
			t.Error("refilled slice reports unloaded")
		}
	})

	t.Run("set", func(t *testing.T) {
		s := NewLazySet("a", "b", "c")
		if err := s.Refill(map[string]struct{}{"a": {}}); err != nil {
			t.Fatalf("Refill failed: %v", err)
		}
		if s.Len() != 1 {
			t.Errorf("Len() = %d, want 1", s.Len())
		}
	})

	t.Run("map", func(t *testing.T) {
		m := NewLazyMap(map[string]int{"a": 1, "b": 2})
		if err := m.Refill(map[string]int{"b": 2}); err != nil {
			t.Fatalf("Refill failed: %v", err)
		}
		data, err := json.Marshal(m)
		if err != nil || string(data) != `{"b":2}` {
			t.Errorf("MarshalJSON = %s, %v", data, err)
		}
	})

	t.Run("wrong contents", func(t *testing.T) {
		for name, c := range map[string]RefillableCollection{
			"slice": NewLazySlice(1),
			"set":   NewLazySet("a"),
			"map":   NewLazyMap(map[string]int{}),
		} {
			if err := c.Refill([]string{"x"}); !errors.Is(err, ErrReflectiveAccess) {
				t.Errorf("%s: expected ErrReflectiveAccess, got %v", name, err)
			}
		}
	})
}

func TestLazyCollections_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"unloaded slice", UnloadedSlice[int](), "null"},
		{"loaded slice", NewLazySlice(3, 1), "[3,1]"},
		{"unloaded set", UnloadedSet[string](), "null"},
		{"loaded set", NewLazySet("only"), `["only"]`},
		{"unloaded map", UnloadedMap[string, int](), "null"},
		{"loaded map", NewLazyMap(map[string]int{"k": 1}), `{"k":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("got %s, want %s", data, tt.want)
			}
		})
	}
}
