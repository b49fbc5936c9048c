package detach

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Class is the resolver's verdict on one reference
type Class int

const (
	// ClassPlain is an ordinary value: walk it as is
	ClassPlain Class = iota
	// ClassUninitialized is an unloaded proxy or collection: never expand it
	ClassUninitialized
	// ClassInitializedContainer is a loaded lazy collection: copy into a plain container
	ClassInitializedContainer
	// ClassInitializedEntity is an entity (or a loaded proxy that is its own target)
	ClassInitializedEntity
	// ClassProxy is a loaded proxy with a separate target: replace by the target
	ClassProxy
)

func (c Class) String() string {
	switch c {
	case ClassPlain:
		return "plain"
	case ClassUninitialized:
		return "uninitialized"
	case ClassInitializedContainer:
		return "initialized-container"
	case ClassInitializedEntity:
		return "initialized-entity"
	case ClassProxy:
		return "proxy"
	}
	return "unknown"
}

// Classify reports how a walk treats value. It never triggers a load.
func Classify(value any) Class {
	return classify(reflect.ValueOf(value))
}

func classify(v reflect.Value) Class {
	v = unwrapInterface(v)
	if isNilRef(v) {
		return ClassPlain
	}
	if p, ok := asInterface[Proxy](v); ok {
		if !p.IsInitialized() {
			return ClassUninitialized
		}
		if p.Target() != nil {
			return ClassProxy
		}
		return ClassInitializedEntity
	}
	if c, ok := asInterface[LazyCollection](v); ok {
		if !c.IsInitialized() {
			return ClassUninitialized
		}
		return ClassInitializedContainer
	}
	if l, ok := asInterface[Lazy](v); ok && !l.IsInitialized() {
		return ClassUninitialized
	}
	if _, ok := asInterface[Entity](v); ok {
		return ClassInitializedEntity
	}
	return ClassPlain
}

// resolution is what should become of one slot
type resolution struct {
	class   Class
	replace bool
	// value replaces the slot content; invalid means the slot's zero value
	value reflect.Value
	// inPlace is walked instead when a loaded collection cannot be swapped
	// for a plain one because the slot is typed as the lazy collection
	inPlace reflect.Value
}

// slotKind decides the uninitialized-proxy policy of a slot
type slotKind int

const (
	slotField slotKind = iota
	// slotProperty is a property reached through accessors: unloaded
	// proxies there are cleared, not replaced by stand-ins
	slotProperty
	slotElement
	slotMapKey
	slotMapValue
)

// resolve applies the lazy reference policy to v, held in a slot of type
// target, without fetching anything
func (w *walker) resolve(v reflect.Value, kind slotKind, target reflect.Type) resolution {
	v = unwrapInterface(v)
	class := classify(v)
	switch class {
	case ClassUninitialized:
		p, isProxy := asInterface[Proxy](v)
		if !isProxy {
			w.report.CollectionsNulled++
			w.metrics.Increment(MetricCollectionNulled)
			return resolution{class: class, replace: true}
		}
		switch kind {
		case slotMapValue:
			w.report.ValuesNulled++
			return resolution{class: class, replace: true}
		case slotProperty:
			w.report.ProxiesNulled++
			w.metrics.Increment(MetricProxyNulled)
			w.logger.Debug("nulling out unloaded property", "type", v.Type().String())
			return resolution{class: class, replace: true}
		}
		standIn, err := w.standIn(p, v)
		if err != nil {
			w.report.Unresolved++
			w.metrics.Increment(MetricProxyUnresolved)
			w.logger.Error("no id constructor and unable to set id field, proxy left in place",
				"type", v.Type().String(),
				"identifier", p.Identifier(),
				"error", err,
			)
			return resolution{class: class}
		}
		w.report.ProxiesReplaced++
		w.metrics.Increment(MetricProxyReplaced)
		return resolution{class: class, replace: true, value: standIn}

	case ClassProxy:
		p, _ := asInterface[Proxy](v)
		w.report.ProxiesUnwrapped++
		w.metrics.Increment(MetricProxyUnwrapped)
		return resolution{class: class, replace: true, value: reflect.ValueOf(p.Target())}

	case ClassInitializedContainer:
		c, _ := asInterface[LazyCollection](v)
		contents := reflect.ValueOf(c.Unwrap())
		plain := plainCopy(contents)
		if plain.IsValid() {
			if _, ok := coerce(plain, target); !ok {
				w.logger.Debug("collection type is fixed by its slot, walking contents in place",
					"type", v.Type().String(), "slot_type", target.String())
				return resolution{class: class, inPlace: w.refill(v, contents, plain)}
			}
		}
		w.report.CollectionsReplaced++
		w.metrics.Increment(MetricCollectionReplaced)
		return resolution{class: class, replace: true, value: plain}
	}
	return resolution{class: class}
}

// refill stores plain back into the lazy collection v when the copy dropped
// duplicates, and returns the contents to walk
func (w *walker) refill(v, contents, plain reflect.Value) reflect.Value {
	if !shrunk(contents, plain) {
		return contents
	}
	r, ok := asInterface[RefillableCollection](v)
	if !ok {
		return contents
	}
	if err := r.Refill(plain.Interface()); err != nil {
		w.accessFailure(v.Type().String(), err)
		return contents
	}
	w.report.CollectionsReplaced++
	w.report.Mutations++
	w.metrics.Increment(MetricCollectionReplaced)
	return plain
}

// shrunk reports whether plain holds fewer entries than contents
func shrunk(contents, plain reflect.Value) bool {
	switch contents.Kind() {
	case reflect.Slice, reflect.Map:
		return plain.Kind() == contents.Kind() && plain.Len() < contents.Len()
	}
	return false
}

// standIn builds an identity-only instance of the proxy's declared type:
// a registered identifier constructor first, then a zero instance with the
// identifier assigned to its oid/id field
func (w *walker) standIn(p Proxy, v reflect.Value) (reflect.Value, error) {
	target := p.TargetType()
	if target == nil {
		target = v.Type()
	}
	for target.Kind() == reflect.Pointer {
		target = target.Elem()
	}
	if target.Kind() != reflect.Struct {
		return reflect.Value{}, WithContext(ErrUnresolvableProxy, map[string]interface{}{
			"type":   target.String(),
			"reason": "target is not a struct type",
		})
	}
	id := p.Identifier()
	if id == nil {
		return reflect.Value{}, WithContext(ErrUnresolvableProxy, map[string]interface{}{
			"type":   target.String(),
			"reason": "proxy carries no identifier",
		})
	}

	if ctor := w.d.constructor(target); ctor != nil {
		out, err := ctor(id)
		if err == nil && out != nil {
			return reflect.ValueOf(out), nil
		}
		w.logger.Debug("identifier constructor failed, trying id field",
			"type", target.String(), "error", err)
	}

	instance := reflect.New(target)
	if err := assignIdentifier(instance.Elem(), id); err != nil {
		return reflect.Value{}, WithContext(ErrUnresolvableProxy, map[string]interface{}{
			"type":   target.String(),
			"reason": err.Error(),
		})
	}
	return instance, nil
}

// identifierFieldNames are tried in order, case-insensitively
var identifierFieldNames = []string{"oid", "id"}

// assignIdentifier writes id into the first oid/id field of the struct v
func assignIdentifier(v reflect.Value, id any) error {
	t := v.Type()
	for _, name := range identifierFieldNames {
		sf, ok := t.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, name) })
		if !ok {
			continue
		}
		field, err := v.FieldByIndexErr(sf.Index)
		if err != nil {
			continue
		}
		view, ok := writableView(field)
		if !ok {
			continue
		}
		return setIdentifier(view, id)
	}
	return fmt.Errorf("%s has no oid or id field", t)
}

// setIdentifier converts id to the field's type where the conversion is lossless
func setIdentifier(field reflect.Value, id any) error {
	idv := reflect.ValueOf(id)
	if idv.Type().AssignableTo(field.Type()) {
		field.Set(idv)
		return nil
	}
	switch {
	case field.Kind() == reflect.String:
		field.SetString(fmt.Sprint(id))
		return nil
	case isInt(field.Kind()) && idv.Kind() == reflect.String:
		n, err := strconv.ParseInt(idv.String(), 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("identifier %q is not an integer: %w", idv.String(), err)
		}
		field.SetInt(n)
		return nil
	case isUint(field.Kind()) && idv.Kind() == reflect.String:
		n, err := strconv.ParseUint(idv.String(), 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("identifier %q is not an unsigned integer: %w", idv.String(), err)
		}
		field.SetUint(n)
		return nil
	case (isInt(field.Kind()) || isUint(field.Kind())) && (isInt(idv.Kind()) || isUint(idv.Kind())):
		field.Set(idv.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("identifier of type %s cannot be stored in %s", idv.Type(), field.Type())
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

// plainCopy copies a loaded lazy container into a plain one of the same kind.
// Sequences lose value-equal duplicates; sets and maps are copied entry by entry.
func plainCopy(v reflect.Value) reflect.Value {
	v = unwrapInterface(v)
	if isNilRef(v) {
		return reflect.Value{}
	}
	switch shapeOf(v) {
	case ShapeSequence:
		return distinct(v)
	case ShapeSet:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		member := reflect.New(v.Type().Elem()).Elem()
		keys := distinct(keysOf(v))
		for i := 0; i < keys.Len(); i++ {
			out.SetMapIndex(keys.Index(i), member)
		}
		return out
	case ShapeMapping:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out
	case ShapeArray:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		return out
	}
	return v
}

// keysOf returns the keys of map m as a slice of its key type
func keysOf(m reflect.Value) reflect.Value {
	keys := reflect.MakeSlice(reflect.SliceOf(m.Type().Key()), 0, m.Len())
	iter := m.MapRange()
	for iter.Next() {
		keys = reflect.Append(keys, iter.Key())
	}
	return keys
}

// entityKey makes entities with the same type and identifier equal
type entityKey struct {
	typ reflect.Type
	oid string
}

type nilKey struct{}

// distinctKey returns the value-equality key of v; false means v is never
// merged with anything
func distinctKey(v reflect.Value) (any, bool) {
	v = unwrapInterface(v)
	if !v.IsValid() || isNilRef(v) {
		return nilKey{}, true
	}
	if classify(v) != ClassUninitialized {
		if e, ok := asInterface[Entity](v); ok {
			if oid := e.GetOid(); oid != "" {
				return entityKey{typ: v.Type(), oid: oid}, true
			}
		}
	}
	if v.CanInterface() && v.Comparable() {
		return v.Interface(), true
	}
	return nil, false
}

// distinct returns a copy of the slice seq without value-equal duplicates,
// keeping first occurrences in order
func distinct(seq reflect.Value) reflect.Value {
	out := reflect.MakeSlice(seq.Type(), 0, seq.Len())
	seen := make(map[any]struct{}, seq.Len())
	for i := 0; i < seq.Len(); i++ {
		el := seq.Index(i)
		if key, ok := distinctKey(el); ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = reflect.Append(out, el)
	}
	return out
}
