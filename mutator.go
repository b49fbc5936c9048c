package detach

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
	"unsafe"
)

var (
	anyType        = reflect.TypeOf((*any)(nil)).Elem()
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	proxyStateType = reflect.TypeOf(ProxyState{})
)

// slot is one child position of an object: a field, a property, a container
// element or a GraphNode reference
type slot struct {
	owner reflect.Type
	name  string
	index int
	typ   reflect.Type
	get   func() (reflect.Value, error)
	// set is nil when the slot is read-only
	set func(reflect.Value) error
}

func (s slot) label() string {
	owner := "<nil>"
	if s.owner != nil {
		owner = s.owner.String()
	}
	if s.name == "" {
		return fmt.Sprintf("%s[%d]", owner, s.index)
	}
	return owner + "." + s.name
}

// assign writes val into s. An invalid val clears the slot; a pointer is
// dereferenced when the slot holds the struct by value.
func assign(s slot, val reflect.Value) (err error) {
	if s.set == nil {
		return fmt.Errorf("%w: %s is read-only", ErrReflectiveAccess, s.label())
	}
	coerced, ok := coerce(val, s.typ)
	if !ok {
		return fmt.Errorf("%w: %s is not assignable to %s (%s)", ErrReflectiveAccess, val.Type(), s.label(), s.typ)
	}
	defer recoverAccess(&err, s.label())
	return s.set(coerced)
}

// coerce adapts val to type t: invalid becomes the zero value, a pointer to
// an assignable struct is dereferenced
func coerce(val reflect.Value, t reflect.Type) (reflect.Value, bool) {
	switch {
	case !val.IsValid():
		return reflect.Zero(t), true
	case val.Type().AssignableTo(t):
		return val, true
	case val.Kind() == reflect.Pointer && !val.IsNil() && val.Type().Elem().AssignableTo(t):
		return val.Elem(), true
	}
	return reflect.Value{}, false
}

// recoverAccess turns a panic in user code (getter, setter, FieldRef) into ErrReflectiveAccess
func recoverAccess(err *error, where string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s panicked: %v", ErrReflectiveAccess, where, r)
	}
}

// writableView returns a settable view of v. Unexported fields of an
// addressable struct are reached through their address.
func writableView(v reflect.Value) (reflect.Value, bool) {
	if v.CanSet() {
		return v, true
	}
	if !v.CanAddr() {
		return v, false
	}
	return reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem(), true
}

func unwrapInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	return v
}

// isNilRef reports whether v is missing or a nil reference
func isNilRef(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// asInterface returns v, or its address when only the pointer type
// implements I, as an I
func asInterface[I any](v reflect.Value) (I, bool) {
	var zero I
	if isNilRef(v) {
		return zero, false
	}
	if v.CanInterface() {
		if x, ok := v.Interface().(I); ok {
			return x, true
		}
	}
	if v.Kind() != reflect.Pointer && v.CanAddr() {
		if p := v.Addr(); p.CanInterface() {
			if x, ok := p.Interface().(I); ok {
				return x, true
			}
		}
	}
	return zero, false
}

// fieldInfo is one walkable field of a struct type
type fieldInfo struct {
	name  string
	index []int
	typ   reflect.Type
}

// fieldsOf lists the fields of t that can reach references, flattening
// embedded structs. Leaf fields and transient fields are left out.
func (d *Detacher) fieldsOf(t reflect.Type) []fieldInfo {
	if cached, ok := d.fields.Load(t); ok {
		return cached.([]fieldInfo)
	}
	infos := collectFields(t, nil, nil)
	d.fields.Store(t, infos)
	return infos
}

func collectFields(t reflect.Type, prefix []int, out []fieldInfo) []fieldInfo {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == "_" || sf.Type == proxyStateType || isTransient(sf) {
			continue
		}
		index := make([]int, len(prefix)+1)
		copy(index, prefix)
		index[len(prefix)] = i

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			out = collectFields(sf.Type, index, out)
			continue
		}
		if !mayHoldReferences(sf.Type) {
			continue
		}
		out = append(out, fieldInfo{name: sf.Name, index: index, typ: sf.Type})
	}
	return out
}

// isTransient reports fields excluded from serialization
func isTransient(sf reflect.StructField) bool {
	return sf.Tag.Get("detach") == "-" || sf.Tag.Get("json") == "-"
}

// isTransientProperty reports whether the field backing property name of
// struct type st is excluded from XML. Such properties are written through
// the field, never through their setter.
func isTransientProperty(st reflect.Type, name string) bool {
	if st.Kind() != reflect.Struct {
		return false
	}
	for _, candidate := range []string{name, lowerFirst(name)} {
		if sf, ok := st.FieldByName(candidate); ok {
			return sf.Tag.Get("detach") == "-" || sf.Tag.Get("xml") == "-"
		}
	}
	return false
}

// fieldSlots exposes the walkable fields of struct v
func (d *Detacher) fieldSlots(v reflect.Value) []slot {
	infos := d.fieldsOf(v.Type())
	slots := make([]slot, 0, len(infos))
	for _, info := range infos {
		view, writable := writableView(v.FieldByIndex(info.index))
		s := slot{
			owner: v.Type(),
			name:  info.name,
			typ:   info.typ,
			get:   func() (reflect.Value, error) { return view, nil },
		}
		if writable {
			s.set = func(r reflect.Value) error {
				view.Set(r)
				return nil
			}
		}
		slots = append(slots, s)
	}
	return slots
}

// property is a getter, with its optional setter, on a pointer type
type property struct {
	name      string
	getter    reflect.Method
	setter    reflect.Method
	hasSetter bool
	// transient properties bypass the setter
	transient bool
	typ       reflect.Type
}

// propertiesOf lists the accessor pairs of pointer type pt whose values can
// reach references
func (d *Detacher) propertiesOf(pt reflect.Type) []property {
	if cached, ok := d.accessors.Load(pt); ok {
		return cached.([]property)
	}
	props := collectProperties(pt)
	d.accessors.Store(pt, props)
	return props
}

func collectProperties(pt reflect.Type) []property {
	setters := make(map[string]reflect.Method)
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if len(m.Name) <= 3 || !strings.HasPrefix(m.Name, "Set") {
			continue
		}
		if m.Type.NumIn() != 2 {
			continue
		}
		if m.Type.NumOut() > 1 || (m.Type.NumOut() == 1 && m.Type.Out(0) != errorType) {
			continue
		}
		setters[m.Name[3:]] = m
	}

	byName := make(map[string]property)
	var order []string
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if m.Type.NumIn() != 1 || m.Type.NumOut() != 1 || m.Type.Out(0) == errorType {
			continue
		}
		var name string
		explicit := false
		switch {
		case len(m.Name) > 3 && strings.HasPrefix(m.Name, "Get"):
			name, explicit = m.Name[3:], true
		default:
			if _, ok := setters[m.Name]; !ok {
				continue
			}
			name = m.Name
		}
		typ := m.Type.Out(0)
		if !mayHoldReferences(typ) {
			continue
		}
		if existing, ok := byName[name]; ok && strings.HasPrefix(existing.getter.Name, "Get") && !explicit {
			continue
		}
		p := property{name: name, getter: m, typ: typ, transient: isTransientProperty(pt.Elem(), name)}
		if setter, ok := setters[name]; ok && setter.Type.In(1) == typ {
			p.setter, p.hasSetter = setter, true
		}
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = p
	}

	props := make([]property, 0, len(order))
	for _, name := range order {
		props = append(props, byName[name])
	}
	return props
}

// accessorSlots exposes the properties of struct v. Writes go through the
// setter, falling back to a field named after the property; transient
// properties go straight to the field.
func (d *Detacher) accessorSlots(v reflect.Value) []slot {
	var recv reflect.Value
	addressable := v.CanAddr()
	if addressable {
		recv = v.Addr()
	} else {
		recv = reflect.New(v.Type())
		recv.Elem().Set(v)
	}

	props := d.propertiesOf(recv.Type())
	slots := make([]slot, 0, len(props))
	for _, p := range props {
		p := p
		s := slot{
			owner: v.Type(),
			name:  p.name,
			typ:   p.typ,
			get: func() (out reflect.Value, err error) {
				defer recoverAccess(&err, v.Type().String()+"."+p.getter.Name)
				return p.getter.Func.Call([]reflect.Value{recv})[0], nil
			},
		}
		if addressable {
			s.set = func(r reflect.Value) error {
				if p.hasSetter && !p.transient {
					err := callSetter(recv, p.setter, r)
					if err == nil {
						return nil
					}
					if !errors.Is(err, ErrReflectiveAccess) {
						return err
					}
				}
				return setFieldNamed(v, p.name, r)
			}
		}
		slots = append(slots, s)
	}
	return slots
}

// callSetter invokes setter on recv; a panic is reported as ErrReflectiveAccess
func callSetter(recv reflect.Value, setter reflect.Method, val reflect.Value) (err error) {
	defer recoverAccess(&err, recv.Type().String()+"."+setter.Name)
	out := setter.Func.Call([]reflect.Value{recv, val})
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

// setFieldNamed writes val to the field name (or its lower-cased form) of struct v
func setFieldNamed(v reflect.Value, name string, val reflect.Value) error {
	for _, candidate := range []string{name, lowerFirst(name)} {
		f := v.FieldByName(candidate)
		if !f.IsValid() {
			continue
		}
		view, ok := writableView(f)
		if !ok {
			break
		}
		coerced, ok := coerce(val, view.Type())
		if !ok {
			break
		}
		view.Set(coerced)
		return nil
	}
	return fmt.Errorf("%w: no setter or field for %s.%s", ErrReflectiveAccess, v.Type(), name)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}

// graphNodeSlots exposes the explicit references of a GraphNode
func graphNodeSlots(owner reflect.Type, node GraphNode) []slot {
	refs := node.DetachFields()
	slots := make([]slot, 0, len(refs))
	for _, ref := range refs {
		if ref.Get == nil {
			continue
		}
		ref := ref
		where := owner.String() + "." + ref.Name
		s := slot{
			owner: owner,
			name:  ref.Name,
			typ:   anyType,
			get: func() (out reflect.Value, err error) {
				defer recoverAccess(&err, where)
				return reflect.ValueOf(ref.Get()), nil
			},
		}
		if ref.Set != nil {
			s.set = func(r reflect.Value) error {
				var value any
				if r.IsValid() {
					value = r.Interface()
				}
				if err := ref.Set(value); err != nil {
					return fmt.Errorf("%w: %s: %v", ErrReflectiveAccess, where, err)
				}
				return nil
			}
		}
		slots = append(slots, s)
	}
	return slots
}

// elementSlot exposes element i of an array or slice
func elementSlot(container reflect.Value, i int) slot {
	el := container.Index(i)
	s := slot{
		owner: container.Type(),
		index: i,
		typ:   container.Type().Elem(),
		get:   func() (reflect.Value, error) { return el, nil },
	}
	if el.CanSet() {
		s.set = func(r reflect.Value) error {
			el.Set(r)
			return nil
		}
	}
	return s
}
