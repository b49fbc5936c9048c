package detach

import (
	"reflect"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// Test entity graph: customers place orders made of lines, tags are shared.

type testCustomer struct {
	ProxyState
	Oid    string       `json:"oid" xml:"oid"`
	Name   string       `json:"name,omitempty" xml:"name,omitempty"`
	Orders []*testOrder `json:"-" xml:"-"`
}

func (c *testCustomer) GetOid() string    { return c.Oid }
func (c *testCustomer) SetOid(oid string) { c.Oid = oid }

type testLine struct {
	Oid string `json:"oid"`
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

func (l *testLine) GetOid() string { return l.Oid }

type testTag struct {
	ProxyState
	Oid string
}

func (t *testTag) GetOid() string { return t.Oid }

// MarshalText lets tags key a JSON object
func (t *testTag) MarshalText() ([]byte, error) { return []byte(t.Oid), nil }

type testOrder struct {
	Oid      string                   `json:"oid"`
	Customer *testCustomer            `json:"customer,omitempty"`
	Lines    *LazySlice[*testLine]    `json:"lines,omitempty"`
	Items    any                      `json:"items,omitempty"`
	Tags     map[*testTag]struct{}    `json:"tags,omitempty"`
	Lookup   map[string]*testCustomer `json:"lookup,omitempty"`
	Previous [2]*testCustomer         `json:"previous"`
	Notes    []string                 `json:"notes,omitempty"`
	audit    *testCustomer
	Cache    *testCustomer `json:"-"`
}

func (o *testOrder) GetOid() string    { return o.Oid }
func (o *testOrder) SetOid(oid string) { o.Oid = oid }

// testAccount is keyed by an integer
type testAccount struct {
	ProxyState
	ID   int64
	Name string
}

// testOpaque has no identifier field, so no stand-in can be built for it
type testOpaque struct {
	ProxyState
	Name string
}

type testHolder struct {
	Account *testAccount
	Opaque  *testOpaque
	Owner   any
}

// testHandle is a proxy with a separate target, as a generated proxy class would be
type testHandle struct {
	id     string
	target *testCustomer
}

func (h *testHandle) IsInitialized() bool      { return h.target != nil }
func (h *testHandle) Identifier() any          { return h.id }
func (h *testHandle) TargetType() reflect.Type { return reflect.TypeOf(testCustomer{}) }
func (h *testHandle) Target() any {
	if h.target == nil {
		return nil
	}
	return h.target
}

// testNode builds chains and cycles
type testNode struct {
	Oid  string
	Next *testNode
}

func newChain(n int) *testNode {
	var head *testNode
	for i := n - 1; i >= 0; i-- {
		head = &testNode{Oid: string(rune('a' + i)), Next: head}
	}
	return head
}

// testWrapper's first field shares the wrapper's address
type testWrapper struct {
	Inner testInner
	Label string
}

type testInner struct {
	Customer *testCustomer
}

// testInvoice is reached through accessors only
type testInvoice struct {
	number   string
	customer *testCustomer
	lines    any
	billing  *testCustomer
	rejected *testCustomer
}

func (i *testInvoice) GetNumber() string            { return i.number }
func (i *testInvoice) GetCustomer() *testCustomer   { return i.customer }
func (i *testInvoice) SetCustomer(c *testCustomer)  { i.customer = c }
func (i *testInvoice) GetLines() any                { return i.lines }
func (i *testInvoice) Billing() *testCustomer       { return i.billing }
func (i *testInvoice) SetBilling(c *testCustomer)   { i.billing = c }
func (i *testInvoice) GetBroken() *testCustomer     { panic("getter exploded") }
func (i *testInvoice) GetRejecting() *testCustomer  { return i.rejected }
func (i *testInvoice) SetRejecting(c *testCustomer) { panic("setter exploded") }

// testReceipt keeps its payer out of XML, so the payer is never set through SetPayer
type testReceipt struct {
	Payer    *testCustomer `xml:"-"`
	Amount   int           `xml:"amount"`
	setCalls int
}

func (r *testReceipt) GetPayer() *testCustomer  { return r.Payer }
func (r *testReceipt) SetPayer(c *testCustomer) { r.setCalls++; r.Payer = c }

// testLegacy has no accessors and asks to be walked by field
type testLegacy struct {
	Customer *testCustomer
}

func (testLegacy) DetachAccess() Mode { return FieldAccess }

// testShipment is an XML document with accessors
type testShipment struct {
	Oid       string        `xml:"oid,attr"`
	Recipient *testCustomer `xml:"recipient"`
	Parcels   any           `xml:"parcels>parcel"`
}

func (s *testShipment) GetRecipient() *testCustomer  { return s.Recipient }
func (s *testShipment) SetRecipient(c *testCustomer) { s.Recipient = c }
func (s *testShipment) GetParcels() any              { return s.Parcels }
func (s *testShipment) SetParcels(p any)             { s.Parcels = p }

// testGraphNode lists its references explicitly
type testGraphNode struct {
	parent   any
	children any
	sealed   any
}

func (n *testGraphNode) DetachFields() []FieldRef {
	return []FieldRef{
		{Name: "parent", Get: func() any { return n.parent }, Set: func(v any) error { n.parent = v; return nil }},
		{Name: "children", Get: func() any { return n.children }, Set: func(v any) error { n.children = v; return nil }},
		{Name: "sealed", Get: func() any { return n.sealed }},
	}
}

func unloadedCustomer(oid string) *testCustomer {
	return &testCustomer{ProxyState: NewProxyState(oid)}
}

func loadedCustomer(oid, name string) *testCustomer {
	return &testCustomer{Oid: oid, Name: name}
}

// newTestDetacher returns a detacher logging into an observer at debug level
func newTestDetacher(t *testing.T, opts GuardOptions) (*Detacher, *observer.ObservedLogs, *InMemoryMetrics) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := NewInMemoryMetrics()
	d, err := NewDetacherWithObservability(opts, NewZapLogger(zap.New(core)), metrics)
	if err != nil {
		t.Fatalf("NewDetacherWithObservability failed: %v", err)
	}
	return d, logs, metrics
}

func mustSanitize(t *testing.T, d *Detacher, root any, mode Mode) *Report {
	t.Helper()
	report, err := d.Sanitize(root, mode)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	return report
}
