package wire

import (
	"bytes"
	"testing"
)

func hashOf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestVersionRoundTrip(t *testing.T) {
	want := &VersionMsg{
		ProtocolVersion: 70016,
		Services:        0x01,
		Timestamp:       1732000000,
		Nonce:           0xdeadbeefcafef00d,
		UserAgent:       "/relaynet:0.1.0/",
		StartHeight:     812345,
	}
	got := &VersionMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	p := &PingMsg{Nonce: 12345}
	got := &PingMsg{}
	if err := got.Decode(p.Encode()); err != nil {
		t.Fatal(err)
	}
	if got.Nonce != p.Nonce {
		t.Fatalf("nonce mismatch")
	}
}

func TestInvRoundTrip(t *testing.T) {
	want := &InvMsg{Items: []InventoryItem{
		{Type: InvTx, Hash: hashOf(1)},
		{Type: InvBlock, Hash: hashOf(2)},
		{Type: InvCmpctBlock, Hash: hashOf(3)},
	}}
	got := &InvMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 3 || got.Items[1].Type != InvBlock {
		t.Fatalf("got %+v", got.Items)
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	want := &HeadersMsg{Headers: []HeaderEntry{
		{Hash: hashOf(1), Raw: []byte{0xde, 0xad}, TxCount: 0},
		{Hash: hashOf(2), Raw: []byte{}, TxCount: 5},
	}}
	got := &HeadersMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if len(got.Headers) != 2 || !bytes.Equal(got.Headers[0].Raw, want.Headers[0].Raw) {
		t.Fatalf("got %+v", got.Headers)
	}
	if got.Headers[1].TxCount != 5 {
		t.Fatalf("txcount mismatch: %d", got.Headers[1].TxCount)
	}
}

func TestCmpctBlockRoundTrip(t *testing.T) {
	want := &CmpctBlockMsg{
		HeaderHash: hashOf(7),
		HeaderRaw:  []byte{1, 2, 3, 4},
		Nonce:      0x1122334455667788,
		ShortIDs:   [][6]byte{{1, 2, 3, 4, 5, 6}, {9, 9, 9, 9, 9, 9}},
		PrefilledTx: []PrefilledTx{
			{Index: 0, Raw: []byte{0xaa}},
			{Index: 3, Raw: []byte{0xbb, 0xcc}},
		},
	}
	got := &CmpctBlockMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if got.Nonce != want.Nonce || len(got.ShortIDs) != 2 || len(got.PrefilledTx) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.PrefilledTx[1].Index != 3 || !bytes.Equal(got.PrefilledTx[1].Raw, []byte{0xbb, 0xcc}) {
		t.Fatalf("prefilled mismatch: %+v", got.PrefilledTx[1])
	}
}

func TestCFHeadersRoundTrip(t *testing.T) {
	want := &CFHeadersMsg{
		FilterType:   0,
		StopHash:     hashOf(9),
		PrevHeader:   hashOf(8),
		FilterHashes: []Hash{hashOf(1), hashOf(2), hashOf(3)},
	}
	got := &CFHeadersMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if len(got.FilterHashes) != 3 || got.PrevHeader != want.PrevHeader {
		t.Fatalf("got %+v", got)
	}
}

func TestPkgTxnRejectRoundTrip(t *testing.T) {
	want := &PkgTxnRejectMsg{PackageID: hashOf(4), Reason: PkgRejectWeightExceedsLimit}
	got := &PkgTxnRejectMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if got.Reason != PkgRejectWeightExceedsLimit {
		t.Fatalf("reason = %v", got.Reason)
	}
}

func TestBanListRoundTrip(t *testing.T) {
	want := &BanListMsg{
		Entries: []BanEntryWire{
			{Addr: NetAddr{Services: 1, Port: 8333}, UnbanTimestamp: 1700000000, Reason: "spam"},
		},
		IsFull:       true,
		Signature:    []byte{1, 2, 3},
		SignerPubKey: []byte{4, 5, 6, 7},
	}
	got := &BanListMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Reason != "spam" || !got.IsFull {
		t.Fatalf("got %+v", got)
	}
	if !bytes.Equal(got.SignerPubKey, want.SignerPubKey) {
		t.Fatalf("pubkey mismatch")
	}
}

func TestRejectRoundTrip(t *testing.T) {
	want := &RejectMsg{Rejected: CmdTx, Code: 0x12, Reason: "dust"}
	got := &RejectMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if got.Rejected != CmdTx || got.Code != 0x12 || got.Reason != "dust" {
		t.Fatalf("got %+v", got)
	}
}

func TestGetFilteredBlockRoundTrip(t *testing.T) {
	want := &GetFilteredBlockMsg{RequestID: 42, BlockHash: hashOf(5), WantCFilter: true}
	got := &GetFilteredBlockMsg{}
	if err := got.Decode(want.Encode()); err != nil {
		t.Fatal(err)
	}
	if got.RequestID != 42 || !got.WantCFilter {
		t.Fatalf("got %+v", got)
	}
}
