package detach

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	backend := NewFilesystemBackend(t.TempDir())
	metrics := NewInMemoryMetrics()
	store := NewStoreWithObservability(backend, nil, &NoOpLogger{}, metrics)

	t.Run("PutJSON sanitizes before encoding", func(t *testing.T) {
		order := &testOrder{
			Oid:      "o-1",
			Customer: unloadedCustomer("42"),
			Lines:    UnloadedSlice[*testLine](),
			Items:    NewLazySlice(&testLine{Oid: "l1", SKU: "A", Qty: 2}),
		}

		if err := store.PutJSON(ctx, "orders/o-1.json", order); err != nil {
			t.Fatalf("PutJSON failed: %v", err)
		}

		var stored map[string]any
		if err := store.GetJSON(ctx, "orders/o-1.json", &stored); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
		customer, ok := stored["customer"].(map[string]any)
		if !ok || customer["oid"] != "42" {
			t.Errorf("customer = %v, want a stand-in with oid 42", stored["customer"])
		}
		if _, ok := stored["lines"]; ok {
			t.Error("unloaded collection was encoded")
		}
		items, ok := stored["items"].([]any)
		if !ok || len(items) != 1 {
			t.Errorf("items = %v, want one line", stored["items"])
		}
	})

	t.Run("PutXML sanitizes through accessors", func(t *testing.T) {
		shipment := &testShipment{
			Oid:       "s-1",
			Recipient: unloadedCustomer("7"),
			Parcels:   NewLazySlice("p-1", "p-2", "p-1"),
		}

		if err := store.PutXML(ctx, "shipments/s-1.xml", shipment); err != nil {
			t.Fatalf("PutXML failed: %v", err)
		}

		raw, err := backend.Get(ctx, "shipments/s-1.xml")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !strings.Contains(string(raw), "<parcels><parcel>p-1</parcel><parcel>p-2</parcel></parcels>") {
			t.Errorf("unexpected parcels encoding: %s", raw)
		}

		var back testShipment
		if err := store.GetXML(ctx, "shipments/s-1.xml", &back); err != nil {
			t.Fatalf("GetXML failed: %v", err)
		}
		if back.Oid != "s-1" || back.Recipient != nil {
			t.Errorf("unexpected shipment: %+v", back)
		}
		if shipment.Recipient != nil {
			t.Error("unloaded recipient should be nulled through its setter")
		}
	})

	t.Run("Save assigns an identifier", func(t *testing.T) {
		order := &testOrder{Customer: unloadedCustomer("9")}

		key, err := store.Save(ctx, "/orders/", order)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !IsValidID(order.Oid) {
			t.Fatalf("Oid %q is not a generated identifier", order.Oid)
		}
		if key != "orders/"+order.Oid+".json" {
			t.Errorf("key = %s", key)
		}

		keys, err := store.List(ctx, "orders/")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		found := false
		for _, k := range keys {
			found = found || k == key
		}
		if !found {
			t.Errorf("saved key %s not listed in %v", key, keys)
		}
	})

	t.Run("Exists and Delete", func(t *testing.T) {
		key := "orders/gone.json"
		if err := store.PutJSON(ctx, key, &testOrder{Oid: "gone"}); err != nil {
			t.Fatalf("PutJSON failed: %v", err)
		}
		if ok, _ := store.Exists(ctx, key); !ok {
			t.Fatal("expected key to exist")
		}
		if err := store.Delete(ctx, key); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := store.Delete(ctx, key); !IsNotFound(err) {
			t.Errorf("second Delete: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid data", func(t *testing.T) {
		backend.Put(ctx, "broken.json", []byte("not json"))
		var dest map[string]any
		err := store.GetJSON(ctx, "broken.json", &dest)
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("expected ErrInvalidData, got %v", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		before := metrics.Counters[MetricStoreError]
		var dest map[string]any
		if err := store.GetJSON(ctx, "missing.json", &dest); !IsNotFound(err) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if metrics.Counters[MetricStoreError] != before {
			t.Error("a missing key was counted as a store error")
		}
	})

	if metrics.Counters[MetricStorePut] == 0 || metrics.Counters[MetricStoreGet] == 0 {
		t.Errorf("store metrics not recorded: %+v", metrics.Counters)
	}
	if len(metrics.Timings[MetricStoreDuration]) == 0 {
		t.Error("store timings not recorded")
	}
}

func TestStore_SanitizeFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	opts := DefaultGuardOptions()
	opts.MaxDepth = 1
	d, _ := NewDetacher(opts)
	store := NewStore(NewFilesystemBackend(t.TempDir()), d)

	err := store.PutJSON(ctx, "chain.json", newChain(4))
	if !IsDepthExceeded(err) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
	if ok, _ := store.Exists(ctx, "chain.json"); ok {
		t.Error("entity stored after a failed walk")
	}
}

func TestStore_WarnsOnUnresolvedProxies(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewStoreWithObservability(NewFilesystemBackend(t.TempDir()), nil,
		NewZapLogger(zap.New(core)), &NoOpMetrics{})

	h := &testHolder{Opaque: &testOpaque{ProxyState: NewProxyState("x")}, Owner: "plain"}
	if err := store.PutJSON(context.Background(), "holder.json", h); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}

	entries := logs.FilterMessage("storing entity with unresolved proxies").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(entries))
	}
	if entries[0].ContextMap()["unresolved"] != int64(1) {
		t.Errorf("unexpected context: %v", entries[0].ContextMap())
	}
}

func TestStore_Redis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewStore(NewRedisBackend(client, "detach:", 0), nil)
	defer store.Close()

	order := &testOrder{Oid: "o-7", Customer: unloadedCustomer("c-7")}
	key, err := store.Save(ctx, "orders", order)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := mr.Get("detach:" + key)
	if err != nil {
		t.Fatalf("key not in redis: %v", err)
	}
	var stored struct {
		Oid      string `json:"oid"`
		Customer struct {
			Oid string `json:"oid"`
		} `json:"customer"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	if stored.Oid != "o-7" || stored.Customer.Oid != "c-7" {
		t.Errorf("unexpected stored value: %s", raw)
	}

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if store.Backend() == nil {
		t.Error("Backend() returned nil")
	}
}
