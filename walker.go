package detach

import "reflect"

// walker holds the state of one top-level walk. It is created per call and
// never shared.
type walker struct {
	d       *Detacher
	mode    Mode
	logger  Logger
	metrics Metrics
	guard   *guard
	visited *visitedSet
	report  *Report
}

func (d *Detacher) newWalker(mode Mode, report *Report) *walker {
	logger, metrics, hasher := d.observers()
	w := &walker{
		d:       d,
		mode:    mode,
		logger:  logger,
		metrics: metrics,
		visited: newVisitedSet(hasher),
		report:  report,
	}
	w.guard = &guard{
		opts:    d.opts,
		mode:    mode,
		logger:  logger,
		metrics: metrics,
		report:  report,
	}
	w.visited.onCollision = func(key uint64, id, first identity, seen bool) {
		if !seen {
			w.metrics.Increment(MetricCollisions)
		}
		w.logger.Debug("identity key collision",
			"key", key,
			"type", id.typ.String(),
			"bucket_type", first.typ.String(),
			"already_walked", seen,
		)
	}
	return w
}

// walkRoot walks the graph under root. The root reference itself can never
// be replaced, so a loaded proxy or collection root is walked through.
func (w *walker) walkRoot(root reflect.Value) error {
	root = unwrapInterface(root)
	if isNilRef(root) {
		return nil
	}

	switch classify(root) {
	case ClassUninitialized:
		w.logger.Debug("root is an unloaded reference, nothing to walk", "type", root.Type().String())
		return nil
	case ClassProxy:
		p, _ := asInterface[Proxy](root)
		root = unwrapInterface(reflect.ValueOf(p.Target()))
	case ClassInitializedContainer:
		c, _ := asInterface[LazyCollection](root)
		root = unwrapInterface(reflect.ValueOf(c.Unwrap()))
	}
	if isNilRef(root) {
		return nil
	}

	if (root.Kind() == reflect.Struct || root.Kind() == reflect.Array) && !root.CanAddr() {
		w.logger.Warn("root passed by value, its own fields cannot be replaced",
			"type", root.Type().String())
		addressable := reflect.New(root.Type()).Elem()
		addressable.Set(root)
		root = addressable
	}
	return w.walk(root, 0)
}

// walk expands the value v found at depth. Leaves return immediately; every
// object is recorded before its children are visited, so cycles end at the
// second visit.
func (w *walker) walk(v reflect.Value, depth int) error {
	v = unwrapInterface(v)
	if isNilRef(v) {
		return nil
	}
	shape := shapeOfType(v.Type())
	if shape == ShapeScalar || shape == ShapeEnum {
		return nil
	}
	if proceed, err := w.guard.enter(v, depth); !proceed {
		return err
	}
	class := classify(v)
	if class == ClassUninitialized {
		return nil
	}
	if id, ok := identityOf(v); ok && w.visited.shouldSkip(id) {
		return nil
	}
	if class == ClassInitializedContainer {
		// A loaded collection that stayed in place is walked through its contents
		c, _ := asInterface[LazyCollection](v)
		return w.walk(reflect.ValueOf(c.Unwrap()), depth)
	}

	switch v.Kind() {
	case reflect.Pointer:
		// The pointee shares the pointer's identity; dispatch without recording it again
		elem := v.Elem()
		switch elem.Kind() {
		case reflect.Struct:
			return w.walkEntity(elem, depth)
		case reflect.Array:
			return w.walkArray(elem, depth)
		}
		return w.walk(elem, depth)
	case reflect.Struct:
		return w.walkEntity(v, depth)
	case reflect.Array:
		return w.walkArray(v, depth)
	case reflect.Slice:
		return w.walkSequence(v, depth)
	case reflect.Map:
		if shape == ShapeSet {
			return w.walkSet(v, depth)
		}
		return w.walkMapping(v, depth)
	}
	return nil
}

// modeFor applies a type's declared access preference in accessor mode
func (w *walker) modeFor(v reflect.Value) Mode {
	if w.mode != AccessorAccess {
		return w.mode
	}
	if typed, ok := asInterface[AccessTyped](v); ok {
		return typed.DetachAccess()
	}
	return w.mode
}

// walkEntity visits every child slot of the struct v. Embedded structs are
// flattened, so promoted fields are children of v at the same depth.
func (w *walker) walkEntity(v reflect.Value, depth int) error {
	var slots []slot
	kind := slotField
	if node, ok := asInterface[GraphNode](v); ok {
		slots = graphNodeSlots(v.Type(), node)
	} else if w.modeFor(v) == AccessorAccess {
		slots = w.d.accessorSlots(v)
		kind = slotProperty
	} else {
		slots = w.d.fieldSlots(v)
	}

	for _, s := range slots {
		if err := w.walkSlot(s, depth, kind); err != nil {
			return err
		}
	}
	return nil
}

// walkSlot resolves the content of s, writes the replacement back and walks
// what the slot holds afterwards one level deeper. A freshly built stand-in
// carries nothing but its identifier and is not walked.
func (w *walker) walkSlot(s slot, depth int, kind slotKind) error {
	cur, err := s.get()
	if err != nil {
		w.accessFailure(s.label(), err)
		return nil
	}
	cur = unwrapInterface(cur)
	if isNilRef(cur) {
		return nil
	}

	res := w.resolve(cur, kind, s.typ)
	switch {
	case res.replace:
		if err := assign(s, res.value); err != nil {
			w.accessFailure(s.label(), err)
			if res.class != ClassInitializedContainer {
				return nil
			}
			// Walk the copy: its elements are the caller's objects
			cur = res.value
			break
		}
		w.report.Mutations++
		if res.class == ClassUninitialized {
			return nil
		}
		if cur, err = s.get(); err != nil {
			w.accessFailure(s.label(), err)
			return nil
		}
	case res.inPlace.IsValid():
		cur = res.inPlace
	case res.class == ClassUninitialized:
		return nil
	}

	return w.walk(cur, depth+1)
}

func (w *walker) walkArray(v reflect.Value, depth int) error {
	if !mayHoldReferences(v.Type().Elem()) {
		return nil
	}
	for i := 0; i < v.Len(); i++ {
		if err := w.walkSlot(elementSlot(v, i), depth, slotElement); err != nil {
			return err
		}
	}
	return nil
}

// walkSequence replaces elements in place. The slice keeps its length: only
// copies of loaded lazy sequences are deduplicated.
func (w *walker) walkSequence(v reflect.Value, depth int) error {
	return w.walkArray(v, depth)
}

// walkSet resolves every member, walks the members, then rebuilds the set in
// place when a member was replaced. Cardinality is preserved.
func (w *walker) walkSet(v reflect.Value, depth int) error {
	keyType := v.Type().Key()
	if !mayHoldReferences(keyType) {
		return nil
	}

	keys := v.MapKeys()
	members := make([]reflect.Value, len(keys))
	standIns := make([]bool, len(keys))
	changed := false
	for i, k := range keys {
		members[i] = k
		res := w.resolve(k, slotMapKey, keyType)
		if !res.replace {
			continue
		}
		r, ok := coerce(res.value, keyType)
		if !ok {
			w.accessFailure(v.Type().String()+" member", ErrReflectiveAccess)
			continue
		}
		members[i] = r
		standIns[i] = res.class == ClassUninitialized
		changed = true
	}

	for i, k := range members {
		if standIns[i] {
			continue
		}
		inner := unwrapInterface(k)
		if inner.Kind() == reflect.Struct || inner.Kind() == reflect.Array {
			// Members held by value are walked through a copy and re-added
			c := reflect.New(inner.Type()).Elem()
			c.Set(inner)
			before := w.report.Mutations
			if err := w.walk(c, depth+1); err != nil {
				return err
			}
			if w.report.Mutations != before {
				members[i] = c
				changed = true
			}
			continue
		}
		if err := w.walk(k, depth+1); err != nil {
			return err
		}
	}

	if !changed {
		return nil
	}
	if !v.CanInterface() {
		w.accessFailure(v.Type().String(), ErrReflectiveAccess)
		return nil
	}
	member := reflect.New(v.Type().Elem()).Elem()
	v.Clear()
	for _, k := range members {
		v.SetMapIndex(k, member)
	}
	w.report.Mutations++
	return nil
}

// mapEntry is a pending write to a mapping
type mapEntry struct {
	oldKey, key, val reflect.Value
	rekey            bool
}

// walkMapping resolves keys and values, applies all replacements after the
// scan, then walks every key and value
func (w *walker) walkMapping(v reflect.Value, depth int) error {
	t := v.Type()
	keyRefs, valRefs := mayHoldReferences(t.Key()), mayHoldReferences(t.Elem())
	if !keyRefs && !valRefs {
		return nil
	}
	writable := v.CanInterface()

	var pending []mapEntry
	// keys that are freshly built stand-ins are not walked
	standIns := make(map[any]bool)
	for _, k := range v.MapKeys() {
		val := v.MapIndex(k)
		e := mapEntry{oldKey: k, key: k, val: val}
		changed := false
		if keyRefs {
			if res := w.resolve(k, slotMapKey, t.Key()); res.replace {
				if r, ok := coerce(res.value, t.Key()); ok {
					e.key, e.rekey, changed = r, true, true
					if res.class == ClassUninitialized && writable {
						standIns[r.Interface()] = true
					}
				} else {
					w.accessFailure(t.String()+" key", ErrReflectiveAccess)
				}
			}
		}
		if valRefs {
			if res := w.resolve(val, slotMapValue, t.Elem()); res.replace {
				if r, ok := coerce(res.value, t.Elem()); ok {
					e.val, changed = r, true
				} else {
					w.accessFailure(t.String()+" value", ErrReflectiveAccess)
				}
			}
		}
		if changed {
			pending = append(pending, e)
		}
	}

	if len(pending) > 0 {
		if !writable {
			w.accessFailure(t.String(), ErrReflectiveAccess)
		} else {
			for _, e := range pending {
				if e.rekey {
					v.SetMapIndex(e.oldKey, reflect.Value{})
				}
			}
			for _, e := range pending {
				v.SetMapIndex(e.key, e.val)
				w.report.Mutations++
			}
		}
	}

	var rewrites []mapEntry
	for _, k := range v.MapKeys() {
		if keyRefs && classify(k) != ClassUninitialized && !(writable && standIns[k.Interface()]) {
			if err := w.walk(k, depth+1); err != nil {
				return err
			}
		}
		if !valRefs {
			continue
		}
		val := v.MapIndex(k)
		if classify(val) == ClassUninitialized {
			continue
		}
		inner := unwrapInterface(val)
		if writable && (inner.Kind() == reflect.Struct || inner.Kind() == reflect.Array) {
			c := reflect.New(inner.Type()).Elem()
			c.Set(inner)
			before := w.report.Mutations
			if err := w.walk(c, depth+1); err != nil {
				return err
			}
			if w.report.Mutations != before {
				rewrites = append(rewrites, mapEntry{key: k, val: c})
			}
			continue
		}
		if err := w.walk(val, depth+1); err != nil {
			return err
		}
	}
	for _, e := range rewrites {
		v.SetMapIndex(e.key, e.val)
	}
	return nil
}

// accessFailure records a field or property that could not be read or written.
// The walk continues with the next slot.
func (w *walker) accessFailure(where string, err error) {
	w.report.AccessFailures++
	w.metrics.Increment(MetricAccessFailure)
	w.logger.Error("unable to access field or property, continuing",
		"slot", where,
		"mode", w.mode.String(),
		"error", err,
	)
}
