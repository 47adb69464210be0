package banshare

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"relaynet/internal/netaddr"
	"relaynet/internal/transport"
)

func tcpAddr(endpoint string) transport.Addr {
	return transport.Addr{Type: transport.TCP, Endpoint: endpoint}
}

func TestBuildVerifyRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey failed: %v", err)
	}
	local := netaddr.NewBanList()
	local.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:8333"), UnbanTimestamp: netaddr.PermanentBan, Reason: "spam"})
	local.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.2:8333"), UnbanTimestamp: 99_999_999_999, Reason: "flood"})

	msg, err := Build(local, true, priv)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(msg.Entries) != 2 {
		t.Fatalf("entries %d, want 2", len(msg.Entries))
	}
	if err := Verify(msg); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestTamperedListRejected(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	local := netaddr.NewBanList()
	local.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:8333"), UnbanTimestamp: netaddr.PermanentBan})

	msg, err := Build(local, false, priv)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	msg.Entries[0].Reason = "injected"
	if err := Verify(msg); err == nil {
		t.Fatal("tampered list verified")
	}
}

func TestImportMergesAndDropsExpired(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	now := time.Now()

	remote := netaddr.NewBanList()
	remote.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:8333"), UnbanTimestamp: netaddr.PermanentBan, Reason: "perm"})
	remote.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.2:8333"), UnbanTimestamp: uint64(now.Unix()) - 100, Reason: "expired"})
	remote.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.3:8333"), UnbanTimestamp: uint64(now.Unix()) + 3600, Reason: "fresh"})

	msg, err := Build(remote, true, priv)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	local := netaddr.NewBanList()
	merged, err := Import(msg, local, now)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if merged != 2 {
		t.Fatalf("merged %d, want 2 (expired entry dropped)", merged)
	}
	if !local.IsBanned(tcpAddr("10.0.0.1:8333")) || !local.IsBanned(tcpAddr("10.0.0.3:8333")) {
		t.Fatal("unexpired entries not merged")
	}
	if local.IsBanned(tcpAddr("10.0.0.2:8333")) {
		t.Fatal("expired entry merged")
	}
}

func TestImportRespectsDominanceRules(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	now := time.Unix(1_700_000_000, 0)

	local := netaddr.NewBanList()
	local.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:8333"), UnbanTimestamp: netaddr.PermanentBan, Reason: "local"})

	remote := netaddr.NewBanList()
	remote.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:8333"), UnbanTimestamp: uint64(now.Unix()) + 60, Reason: "remote"})
	msg, err := Build(remote, true, priv)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := Import(msg, local, now); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	snap := local.Snapshot()
	if len(snap) != 1 || !snap[0].Permanent() {
		t.Fatal("temporary import overrode a permanent local ban")
	}
	if snap[0].Reason != "local; remote" {
		t.Fatalf("reasons not concatenated: %q", snap[0].Reason)
	}
}

func TestImportRejectsWrongKey(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	other, _ := btcec.NewPrivateKey()
	remote := netaddr.NewBanList()
	remote.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:8333"), UnbanTimestamp: netaddr.PermanentBan})
	msg, err := Build(remote, true, priv)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	msg.SignerPubKey = other.PubKey().SerializeCompressed()
	if _, err := Import(msg, netaddr.NewBanList(), time.Now()); err == nil {
		t.Fatal("import with mismatched signer accepted")
	}
}

func TestEntriesSortedCanonically(t *testing.T) {
	priv, _ := btcec.NewPrivateKey()
	local := netaddr.NewBanList()
	local.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.9:8333"), UnbanTimestamp: netaddr.PermanentBan})
	local.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:9000"), UnbanTimestamp: netaddr.PermanentBan})
	local.Add(netaddr.Ban{Addr: tcpAddr("10.0.0.1:8333"), UnbanTimestamp: netaddr.PermanentBan})

	msg, err := Build(local, true, priv)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if msg.Entries[0].Addr.Port != 8333 || msg.Entries[1].Addr.Port != 9000 {
		t.Fatalf("entries not sorted by (address, port): %v", msg.Entries)
	}
}
