package detach

import (
	"fmt"
	"strings"
)

// Entity is a mapped domain object exposing a stable identifier
type Entity interface {
	GetOid() string
}

// Identifiable is an Entity whose identifier can be assigned
type Identifiable interface {
	Entity
	SetOid(oid string)
}

// FieldRef is one child slot of a GraphNode.
// Get must not trigger a load; Set receives nil to clear the slot.
type FieldRef struct {
	Name string
	Get  func() any
	Set  func(value any) error
}

// GraphNode lets an entity type enumerate its children explicitly.
// When implemented it is used instead of reflection, whatever the Mode.
type GraphNode interface {
	DetachFields() []FieldRef
}

// AccessTyped lets a type declare how its state is reached.
// Only honoured in AccessorAccess mode: a type returning FieldAccess is
// walked field by field even when accessors are requested.
type AccessTyped interface {
	DetachAccess() Mode
}

// Mode selects how entity state is read and written during a walk
type Mode int

const (
	// FieldAccess reads and writes struct fields directly (binary/JSON encoders)
	FieldAccess Mode = iota
	// AccessorAccess goes through Get/Set method pairs (XML/bean encoders)
	AccessorAccess
)

func (m Mode) String() string {
	switch m {
	case FieldAccess:
		return "field"
	case AccessorAccess:
		return "accessor"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts "field" or "accessor" to a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "field", "fields", "serialization":
		return FieldAccess, nil
	case "accessor", "accessors", "property", "xml":
		return AccessorAccess, nil
	}
	return FieldAccess, WithContext(ErrInvalidConfig, map[string]interface{}{
		"field":  "Mode",
		"value":  s,
		"reason": "expected \"field\" or \"accessor\"",
	})
}
