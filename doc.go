// Package detach makes partially loaded entity graphs safe to serialize.
//
// # Overview
//
// Entities fetched by an ORM-style layer carry lazy references: proxies that
// stand in for entities not yet fetched and collections that load on first
// use. Handing such a graph to an encoder either triggers fetches long after
// the data source is gone or fails outright. A Detacher walks the graph once,
// in place, and leaves only plain data behind:
//
//   - unloaded proxies become identity-only stand-ins (a zero entity carrying
//     just the identifier), or stay in place with an error log when no
//     identifier can be written
//   - unloaded collections become nil
//   - loaded collections become plain slices, sets and maps
//   - loaded proxies are replaced by their target
//
// Nothing is fetched during a walk. Cycles and shared references are walked
// once; the walk is bounded by a configurable depth limit.
//
// # Quick Start
//
//	d, err := detach.NewDetacher(detach.DefaultGuardOptions())
//	if err != nil {
//	    return err
//	}
//	report, err := d.Sanitize(order, detach.FieldAccess)
//	if err != nil {
//	    return err // only a depth limit breach fails a walk
//	}
//	data, _ := json.Marshal(order)
//
// With observability:
//
//	logger, _ := detach.NewProductionZapLogger(zapcore.InfoLevel)
//	metrics := detach.NewPrometheusMetrics(prometheus.NewRegistry())
//	d, _ := detach.NewDetacherWithObservability(detach.DefaultGuardOptions(), logger, metrics)
//
// # Modes
//
// FieldAccess reads and writes struct fields directly, including unexported
// ones and the fields of embedded structs. It suits encoders that look at
// fields (JSON, gob). AccessorAccess goes through GetX/SetX method pairs, for
// encoders and frameworks built on properties. In that mode an unloaded
// reference held by a property is set to nil rather than replaced with a
// stand-in, and a property whose backing field is tagged xml:"-" is written
// through the field instead of its setter. A type may pin its own mode by
// implementing AccessTyped, or avoid reflection entirely with GraphNode.
//
// # Lazy references
//
// The package defines the capabilities a persistence layer implements:
// Lazy, Proxy and LazyCollection. ProxyState can be embedded in an entity so
// a pointer of the entity's own type can carry an unloaded reference, and
// LazySlice, LazySet and LazyMap are ready-made collections. A loaded
// collection held in a slot of its own lazy type stays in place; when it held
// duplicates it is refilled through RefillableCollection.
//
// # Storing
//
// Store sanitizes right before encoding: PutJSON walks in FieldAccess mode,
// PutXML in AccessorAccess mode. Backends exist for the local filesystem and
// Redis; a RedisBackend can sit behind a CircuitBreaker so an outage fails
// fast with ErrBackendUnavailable.
package detach
