package router

import (
	"context"
	"testing"
	"time"

	"relaynet/core"
	"relaynet/internal/session"
	"relaynet/internal/transport"
	"relaynet/internal/wire"
)

type fakeUTXOSource struct{}

func (fakeUTXOSource) CommitmentAt(height uint64, blockHash wire.Hash) ([]byte, uint64, bool) {
	return []byte{0xc0, 0xff, 0xee}, 42, true
}

func newTestManager(t *testing.T, services session.Services, deps Deps) *Manager {
	t.Helper()
	m := NewManager(Config{
		Network:     wire.Regtest,
		ListenTCP:   "127.0.0.1:0",
		Transports:  []transport.Type{transport.TCP},
		MaxPeers:    8,
		Services:    services,
		UserAgent:   "/relaynet-test:0.1/",
		ProtocolVer: 70015,
	}, deps, nil)
	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeEndToEnd(t *testing.T) {
	services := session.Services(session.NodeCompactFilters | session.NodePackageRelay)
	b := newTestManager(t, services, Deps{})
	a := newTestManager(t, session.Services(session.NodeNetwork), Deps{})

	addr := b.ListenerAddrs()[0]
	peerID, err := a.Connect(context.Background(), addr)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, "a's session ready", func() bool {
		sess, ok := a.Session(peerID)
		return ok && sess.IsReady()
	})
	waitFor(t, "b's session ready", func() bool {
		for _, pc := range b.readyPeers("") {
			_ = pc
			return true
		}
		return false
	})

	sess, _ := a.Session(peerID)
	if !sess.Supports(session.NodeCompactFilters) || !sess.Supports(session.NodePackageRelay) {
		t.Fatalf("peer services not recorded: %x", sess.Services())
	}
	if sess.ProtocolVersion() != 70015 {
		t.Fatalf("protocol version %d, want 70015", sess.ProtocolVersion())
	}
}

func TestBannedAddressFailsBeforeSessionCreated(t *testing.T) {
	a := newTestManager(t, 0, Deps{})
	banned := transport.Addr{Type: transport.TCP, Endpoint: "203.0.113.5:8333"}
	a.Bans.BanFor(banned, time.Hour, "test")

	if _, err := a.Connect(context.Background(), banned); err == nil {
		t.Fatal("connect to banned address succeeded")
	}
	if a.PeerCount() != 0 {
		t.Fatal("session state created for banned address")
	}
}

func TestFirewallRefusesOutboundDial(t *testing.T) {
	m := NewManager(Config{}, Deps{}, nil)
	addr := transport.Addr{Type: transport.TCP, Endpoint: "203.0.113.7:8333"}
	m.Firewall.BlockPeer(core.PeerID(addr.String()))

	if _, err := m.Connect(context.Background(), addr); err == nil {
		t.Fatal("connect through firewall rule succeeded")
	}
	if m.PeerCount() != 0 {
		t.Fatal("session state created for firewalled address")
	}
}

func TestBanListSyncsIntoFirewall(t *testing.T) {
	m := NewManager(Config{}, Deps{}, nil)
	addr := transport.Addr{Type: transport.TCP, Endpoint: "203.0.113.8:8333"}

	m.Bans.BanFor(addr, time.Hour, "test")
	m.syncFirewall()
	if !m.Firewall.IsPeerBlocked(core.PeerID(addr.String())) {
		t.Fatal("ban not synced into firewall")
	}

	m.Bans.Remove(addr)
	m.syncFirewall()
	if m.Firewall.IsPeerBlocked(core.PeerID(addr.String())) {
		t.Fatal("lifted ban still enforced by firewall")
	}
}

func TestRequestTimeout(t *testing.T) {
	m := NewManager(Config{
		Network:        wire.Regtest,
		RequestTimeout: 50 * time.Millisecond,
	}, Deps{}, nil)

	id, ch := m.RegisterRequest("peer-x")
	select {
	case resp := <-ch:
		if resp.Err != ErrRequestTimeout {
			t.Fatalf("resolved with %v, want ErrRequestTimeout", resp.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("request never resolved")
	}
	if m.requests.contains(id) {
		t.Fatal("pending entry survived timeout")
	}
}

func TestRequestResolvesExactlyOnce(t *testing.T) {
	m := NewManager(Config{RequestTimeout: 50 * time.Millisecond}, Deps{}, nil)
	id, ch := m.RegisterRequest("peer-x")

	if !m.requests.complete(id, "peer-x", &wire.PongMsg{}) {
		t.Fatal("completion failed")
	}
	// Late timeout and duplicate completion must both be no-ops.
	if m.requests.complete(id, "peer-x", &wire.PongMsg{}) {
		t.Fatal("second completion delivered")
	}
	time.Sleep(80 * time.Millisecond)

	resp := <-ch
	if resp.Err != nil {
		t.Fatalf("first resolution was an error: %v", resp.Err)
	}
	select {
	case extra := <-ch:
		t.Fatalf("request resolved twice: %+v", extra)
	default:
	}
}

func TestRequestFromWrongPeerDiscarded(t *testing.T) {
	m := NewManager(Config{RequestTimeout: time.Second}, Deps{}, nil)
	id, _ := m.RegisterRequest("peer-a")
	if m.requests.complete(id, "peer-b", &wire.PongMsg{}) {
		t.Fatal("reply from unexpected peer accepted")
	}
	if !m.requests.contains(id) {
		t.Fatal("pending entry dropped by mismatched reply")
	}
}

func TestUTXOSetRequestCorrelation(t *testing.T) {
	b := newTestManager(t, session.Services(session.NodeUTXOCommitments), Deps{UTXO: fakeUTXOSource{}})
	a := newTestManager(t, 0, Deps{})

	peerID, err := a.Connect(context.Background(), b.ListenerAddrs()[0])
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, "handshake", func() bool {
		sess, ok := a.Session(peerID)
		return ok && sess.IsReady()
	})

	id, ch, err := a.RequestUTXOSet(peerID, 100, wire.Hash{0xab})
	if err != nil {
		t.Fatalf("RequestUTXOSet failed: %v", err)
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			t.Fatalf("request failed: %v", resp.Err)
		}
		reply, ok := resp.Msg.(*wire.UTXOSetMsg)
		if !ok {
			t.Fatalf("unexpected reply type %T", resp.Msg)
		}
		if reply.RequestID != id || reply.UTXOCount != 42 {
			t.Fatalf("unexpected reply %+v", reply)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("utxoset reply never arrived")
	}
	if a.PendingRequests() != 0 {
		t.Fatal("pending table not cleaned after reply")
	}
}

func TestCancelRequest(t *testing.T) {
	m := NewManager(Config{RequestTimeout: time.Hour}, Deps{}, nil)
	id, ch := m.RegisterRequest("peer-a")
	m.CancelRequest(id)
	resp := <-ch
	if resp.Err != ErrRequestCancelled {
		t.Fatalf("resolved with %v, want ErrRequestCancelled", resp.Err)
	}
	if m.PendingRequests() != 0 {
		t.Fatal("cancelled entry still pending")
	}
}
