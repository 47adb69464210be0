package session

import (
	"testing"
	"time"

	"relaynet/internal/transport"
	"relaynet/internal/wire"
)

func newTestSession(limits Limits) *PeerSession {
	return New(transport.Addr{Type: transport.TCP, Endpoint: "127.0.0.1:8333"}, limits)
}

func TestHandshakeReachesReady(t *testing.T) {
	p := newTestSession(Limits{})
	if got := p.State(); got != Fresh {
		t.Fatalf("initial state %v, want Fresh", got)
	}

	p.MarkVersionSent()
	if got := p.State(); got != VersionSent {
		t.Fatalf("state after send %v, want VersionSent", got)
	}

	v := &wire.VersionMsg{
		ProtocolVersion: 70015,
		Services:        uint64(NodeCompactFilters | NodePackageRelay),
		Nonce:           0x11,
		UserAgent:       "/relaynet:0.1/",
		StartHeight:     1000,
	}
	if err := p.HandleVersion(v); err != nil {
		t.Fatalf("HandleVersion failed: %v", err)
	}
	if got := p.State(); got != VersionReceived {
		t.Fatalf("state after version %v, want VersionReceived", got)
	}

	if err := p.HandleVerack(); err != nil {
		t.Fatalf("HandleVerack failed: %v", err)
	}
	if !p.IsReady() {
		t.Fatalf("session not Ready after version+verack, state %v", p.State())
	}

	if !p.Supports(NodeCompactFilters) || !p.Supports(NodePackageRelay) {
		t.Fatal("advertised services not recorded")
	}
	if p.Supports(NodeFIBRE) {
		t.Fatal("unadvertised service reported as supported")
	}
	if p.ProtocolVersion() != 70015 {
		t.Fatalf("protocol version %d, want 70015", p.ProtocolVersion())
	}
}

func TestDuplicateVersionRejected(t *testing.T) {
	p := newTestSession(Limits{})
	v := &wire.VersionMsg{ProtocolVersion: 70015}
	if err := p.HandleVersion(v); err != nil {
		t.Fatalf("first version failed: %v", err)
	}
	if err := p.HandleVersion(v); err != ErrDuplicateVersion {
		t.Fatalf("expected ErrDuplicateVersion, got %v", err)
	}
}

func TestMessageBeforeReadyIsViolation(t *testing.T) {
	p := newTestSession(Limits{})
	if err := p.CheckReady(wire.CmdVersion); err != nil {
		t.Fatalf("version should pass pre-ready: %v", err)
	}
	if err := p.CheckReady(wire.CmdInv); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if p.Violations() != 1 {
		t.Fatalf("violations %d, want 1", p.Violations())
	}
}

func TestRateLimitExhaustionAccumulatesViolations(t *testing.T) {
	p := newTestSession(Limits{Burst: 2, RefillPerSecond: 0.001, BanThreshold: 3})
	for i := 0; i < 2; i++ {
		if err := p.Admit(wire.CmdInv); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := p.Admit(wire.CmdInv); err != ErrRateLimited {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
	}
	if !p.ShouldBan() {
		t.Fatalf("expected auto-ban after 3 violations, have %d", p.Violations())
	}
}

func TestMethodBucketThrottlesExpensiveRequests(t *testing.T) {
	p := newTestSession(Limits{Burst: 1000, RefillPerSecond: 1000})
	limited := false
	for i := 0; i < 30; i++ {
		if err := p.Admit(wire.CmdGetUTXOSet); err == ErrRateLimited {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("method bucket never throttled getutxoset despite generous peer bucket")
	}
}

func TestInventoryDedup(t *testing.T) {
	p := newTestSession(Limits{})
	var h wire.Hash
	h[0] = 0xab
	if !p.RecordInventory(h) {
		t.Fatal("first offer should be new")
	}
	if p.RecordInventory(h) {
		t.Fatal("second offer should be a duplicate")
	}
	if !p.HasInventory(h) {
		t.Fatal("inventory not recorded")
	}
}

func TestClosingRejectsAdmission(t *testing.T) {
	p := newTestSession(Limits{})
	p.BeginClose()
	if got := p.State(); got != Closing {
		t.Fatalf("state %v, want Closing", got)
	}
	if err := p.Admit(wire.CmdInv); err != ErrClosing {
		t.Fatalf("expected ErrClosing, got %v", err)
	}
}

func TestLastSeenAdvances(t *testing.T) {
	p := newTestSession(Limits{})
	before := p.LastSeen()
	time.Sleep(5 * time.Millisecond)
	if err := p.Admit(wire.CmdPing); err != nil {
		t.Fatalf("admit failed: %v", err)
	}
	if !p.LastSeen().After(before) {
		t.Fatal("last-seen timestamp did not advance")
	}
}
