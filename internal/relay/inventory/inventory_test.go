package inventory

import (
	"testing"
	"time"

	"relaynet/internal/wire"
)

func item(b byte) wire.InventoryItem {
	var h wire.Hash
	h[0] = b
	return wire.InventoryItem{Type: wire.InvTx, Hash: h}
}

func TestOfferRequestsOnce(t *testing.T) {
	m := NewManager()
	items := []wire.InventoryItem{item(1), item(2)}

	want := m.Offer("peer-a", items, nil)
	if len(want) != 2 {
		t.Fatalf("first offer should request both items, got %d", len(want))
	}

	// A second peer offering the same items must not trigger new requests.
	want = m.Offer("peer-b", items, nil)
	if len(want) != 0 {
		t.Fatalf("duplicate offer produced %d requests", len(want))
	}
	if !m.OfferedBy("peer-b", item(1).Hash) {
		t.Fatal("second peer's offer not recorded")
	}
	if peer, ok := m.PendingPeer(item(1).Hash); !ok || peer != "peer-a" {
		t.Fatalf("pending against %q, want peer-a", peer)
	}
}

func TestHaveSkipsRequest(t *testing.T) {
	m := NewManager()
	have := func(h wire.Hash) bool { return h == item(1).Hash }
	want := m.Offer("peer-a", []wire.InventoryItem{item(1), item(2)}, have)
	if len(want) != 1 || want[0].Hash != item(2).Hash {
		t.Fatalf("expected only the unheld item, got %v", want)
	}
}

func TestMarkReceivedAllowsNothingFurther(t *testing.T) {
	m := NewManager()
	m.Offer("peer-a", []wire.InventoryItem{item(1)}, nil)
	m.MarkReceived(item(1).Hash)
	if m.PendingSize() != 0 {
		t.Fatal("pending entry survived receipt")
	}
}

func TestGCFreesStaleRequests(t *testing.T) {
	m := NewManager()
	base := time.Unix(1_700_000_000, 0)
	clock := base
	m.now = func() time.Time { return clock }

	m.Offer("peer-a", []wire.InventoryItem{item(1)}, nil)
	clock = clock.Add(5 * time.Minute)
	freed := m.GC(2 * time.Minute)
	if len(freed) != 1 || freed[0] != item(1).Hash {
		t.Fatalf("freed %v, want the stale item", freed)
	}

	// Freed items may be requested again from another offerer.
	want := m.Offer("peer-b", []wire.InventoryItem{item(1)}, nil)
	if len(want) != 1 {
		t.Fatal("freed item not re-requestable")
	}
}

func TestPurgePeer(t *testing.T) {
	m := NewManager()
	m.Offer("peer-a", []wire.InventoryItem{item(1)}, nil)
	m.Offer("peer-b", []wire.InventoryItem{item(2)}, nil)

	m.PurgePeer("peer-a")
	if m.OfferedBy("peer-a", item(1).Hash) {
		t.Fatal("purged peer still recorded as offerer")
	}
	if _, ok := m.PendingPeer(item(1).Hash); ok {
		t.Fatal("request pending against purged peer")
	}
	if _, ok := m.PendingPeer(item(2).Hash); !ok {
		t.Fatal("unrelated pending request purged")
	}
}
