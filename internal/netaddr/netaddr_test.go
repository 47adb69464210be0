package netaddr

import (
	"testing"
	"time"

	"relaynet/internal/session"
	"relaynet/internal/transport"
)

func tcpAddr(endpoint string) transport.Addr {
	return transport.Addr{Type: transport.TCP, Endpoint: endpoint}
}

func TestRecordAndLookup(t *testing.T) {
	db := NewDB(10, time.Hour)
	a := tcpAddr("1.2.3.4:8333")
	db.Record(a, session.Services(session.NodeNetwork))
	db.Record(a, session.Services(session.NodeNetwork))

	e, ok := db.Lookup(a)
	if !ok {
		t.Fatal("entry not found")
	}
	if e.SeenCount != 2 {
		t.Fatalf("seen count %d, want 2", e.SeenCount)
	}
	if !e.Services.Has(session.NodeNetwork) {
		t.Fatal("services not recorded")
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	db := NewDB(2, time.Hour)
	base := time.Unix(1_700_000_000, 0)
	clock := base
	db.now = func() time.Time { return clock }

	db.Record(tcpAddr("1.1.1.1:8333"), 0)
	clock = clock.Add(time.Minute)
	db.Record(tcpAddr("2.2.2.2:8333"), 0)
	clock = clock.Add(time.Minute)
	db.Record(tcpAddr("3.3.3.3:8333"), 0)

	if db.Len() != 2 {
		t.Fatalf("len %d, want 2", db.Len())
	}
	if _, ok := db.Lookup(tcpAddr("1.1.1.1:8333")); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := db.Lookup(tcpAddr("3.3.3.3:8333")); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestExpiry(t *testing.T) {
	db := NewDB(10, time.Hour)
	base := time.Unix(1_700_000_000, 0)
	clock := base
	db.now = func() time.Time { return clock }

	db.Record(tcpAddr("1.1.1.1:8333"), 0)
	clock = clock.Add(2 * time.Hour)
	if _, ok := db.Lookup(tcpAddr("1.1.1.1:8333")); ok {
		t.Fatal("expired entry returned")
	}
	if removed := db.Expire(); removed != 1 {
		t.Fatalf("expired %d, want 1", removed)
	}
	if db.Len() != 0 {
		t.Fatalf("len %d after expire, want 0", db.Len())
	}
}

func TestPubkeySeparateKeyspace(t *testing.T) {
	db := NewDB(10, time.Hour)
	sock := tcpAddr("1.1.1.1:8333")
	pk := transport.Addr{Type: transport.Iroh, Endpoint: "12D3KooWExample"}
	db.Record(sock, 0)
	db.Record(pk, 0)
	if db.Len() != 2 {
		t.Fatalf("len %d, want 2", db.Len())
	}
	if got := db.Sample(10); len(got) != 1 {
		t.Fatalf("Sample should return only socket addresses, got %v", got)
	}
}

func TestBanExpiry(t *testing.T) {
	bl := NewBanList()
	base := time.Unix(1_700_000_000, 0)
	clock := base
	bl.now = func() time.Time { return clock }

	a := tcpAddr("9.9.9.9:8333")
	bl.BanFor(a, time.Hour, "misbehaving")
	if !bl.IsBanned(a) {
		t.Fatal("address not banned")
	}
	clock = clock.Add(2 * time.Hour)
	if bl.IsBanned(a) {
		t.Fatal("ban should have expired")
	}
	if bl.Len() != 0 {
		t.Fatal("expired entry not removed")
	}
}

func TestPermanentBanDominates(t *testing.T) {
	bl := NewBanList()
	a := tcpAddr("9.9.9.9:8333")
	bl.Add(Ban{Addr: a, UnbanTimestamp: PermanentBan, Reason: "manual"})
	bl.BanFor(a, time.Hour, "auto")

	snap := bl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len %d, want 1", len(snap))
	}
	if !snap[0].Permanent() {
		t.Fatal("permanent ban lost to temporary ban")
	}
	if snap[0].Reason != "manual; auto" {
		t.Fatalf("reasons not concatenated: %q", snap[0].Reason)
	}
}

func TestLongerTemporaryBanWins(t *testing.T) {
	bl := NewBanList()
	a := tcpAddr("9.9.9.9:8333")
	bl.Add(Ban{Addr: a, UnbanTimestamp: 2000})
	bl.Add(Ban{Addr: a, UnbanTimestamp: 1000})
	if bl.Snapshot()[0].UnbanTimestamp != 2000 {
		t.Fatal("shorter ban overwrote longer one")
	}
	bl.Add(Ban{Addr: a, UnbanTimestamp: 3000})
	if bl.Snapshot()[0].UnbanTimestamp != 3000 {
		t.Fatal("longer ban did not extend")
	}
}

func TestSnapshotSorted(t *testing.T) {
	bl := NewBanList()
	bl.Add(Ban{Addr: tcpAddr("b:1"), UnbanTimestamp: PermanentBan})
	bl.Add(Ban{Addr: tcpAddr("a:1"), UnbanTimestamp: PermanentBan})
	snap := bl.Snapshot()
	if snap[0].Addr.Endpoint != "a:1" || snap[1].Addr.Endpoint != "b:1" {
		t.Fatalf("snapshot not sorted: %v", snap)
	}
}
