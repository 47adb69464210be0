package filters

import (
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcutil/gcs"

	"relaynet/internal/testutil"
	"relaynet/internal/txcodec"
	"relaynet/internal/wire"
)

type fakeChain struct {
	blocks []([]byte)
	hashes []wire.Hash
}

func newFakeChain(t *testing.T, n int) *fakeChain {
	t.Helper()
	fc := &fakeChain{}
	for i := 0; i < n; i++ {
		header := make([]byte, 80)
		binary.LittleEndian.PutUint32(header, uint32(i))
		raw := testutil.SerializeBlock(header, [][]byte{testutil.CoinbaseTx(int64(i + 1))})
		fc.blocks = append(fc.blocks, raw)
		fc.hashes = append(fc.hashes, txcodec.Hash(header))
	}
	return fc
}

func (fc *fakeChain) BlockAtHeight(h uint32) ([]byte, wire.Hash, bool) {
	if int(h) >= len(fc.blocks) {
		return nil, wire.Hash{}, false
	}
	return fc.blocks[h], fc.hashes[h], true
}

func (fc *fakeChain) HeightOf(hash wire.Hash) (uint32, bool) {
	for i, h := range fc.hashes {
		if h == hash {
			return uint32(i), true
		}
	}
	return 0, false
}

func (fc *fakeChain) BestHeight() uint32 { return uint32(len(fc.blocks) - 1) }

func TestGeneratedFilterMatchesScripts(t *testing.T) {
	fc := newFakeChain(t, 3)
	svc := NewService(fc)

	filter, blockHash, err := svc.filterAt(1)
	if err != nil {
		t.Fatalf("filterAt failed: %v", err)
	}
	parsed, err := gcs.FromNBytes(gcsP, gcsM, filter)
	if err != nil {
		t.Fatalf("FromNBytes failed: %v", err)
	}
	var key [gcs.KeySize]byte
	copy(key[:], blockHash[:gcs.KeySize])
	match, err := parsed.Match(key, []byte{0x51})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !match {
		t.Fatal("filter does not match the block's output script")
	}
}

func TestGetFilterCached(t *testing.T) {
	fc := newFakeChain(t, 2)
	svc := NewService(fc)
	if _, ok := svc.GetFilter(fc.hashes[1]); ok {
		t.Fatal("filter cached before generation")
	}
	if _, _, err := svc.filterAt(1); err != nil {
		t.Fatalf("filterAt failed: %v", err)
	}
	if _, ok := svc.GetFilter(fc.hashes[1]); !ok {
		t.Fatal("filter not cached after generation")
	}
}

func TestHeaderChainLinks(t *testing.T) {
	fc := newFakeChain(t, 4)
	svc := NewService(fc)

	prev, err := svc.GetPrevFilterHeader(0)
	if err != nil {
		t.Fatalf("GetPrevFilterHeader failed: %v", err)
	}
	if prev != (wire.Hash{}) {
		t.Fatal("genesis predecessor should be the zero hash")
	}

	hashes, prev1, err := svc.GetFilterHeadersRange(1, fc.hashes[3])
	if err != nil {
		t.Fatalf("GetFilterHeadersRange failed: %v", err)
	}
	if len(hashes) != 3 {
		t.Fatalf("filter hashes %d, want 3", len(hashes))
	}

	// prev1 must equal the genesis filter header computed by hand.
	filter0, _, err := svc.filterAt(0)
	if err != nil {
		t.Fatalf("filterAt failed: %v", err)
	}
	want := chainHeader(FilterHash(filter0), wire.Hash{})
	if prev1 != want {
		t.Fatal("predecessor header does not chain from genesis")
	}
}

func TestServeGetCFiltersBounded(t *testing.T) {
	fc := newFakeChain(t, 2300)
	srv := NewServer(NewService(fc))

	var got int
	req := &wire.GetCFiltersMsg{
		FilterType:  BasicFilterType,
		StartHeight: 0,
		StopHash:    fc.hashes[2250],
	}
	err := srv.ServeGetCFilters(req, func(m *wire.CFilterMsg) error {
		got++
		return nil
	})
	if err != nil {
		t.Fatalf("ServeGetCFilters failed: %v", err)
	}
	if got != MaxGetCFiltersResponses {
		t.Fatalf("yielded %d responses, want %d", got, MaxGetCFiltersResponses)
	}
}

func TestServeGetCFiltersUnsupportedType(t *testing.T) {
	fc := newFakeChain(t, 2)
	srv := NewServer(NewService(fc))
	req := &wire.GetCFiltersMsg{FilterType: 1, StopHash: fc.hashes[1]}
	if err := srv.ServeGetCFilters(req, func(*wire.CFilterMsg) error { return nil }); err != ErrUnsupportedFilterType {
		t.Fatalf("expected ErrUnsupportedFilterType, got %v", err)
	}
}

func TestServeGetCFCheckpt(t *testing.T) {
	fc := newFakeChain(t, 2300)
	srv := NewServer(NewService(fc))
	resp, err := srv.ServeGetCFCheckpt(&wire.GetCFCheckptMsg{
		FilterType: BasicFilterType,
		StopHash:   fc.hashes[2250],
	})
	if err != nil {
		t.Fatalf("ServeGetCFCheckpt failed: %v", err)
	}
	if len(resp.FilterHeaders) != 2 {
		t.Fatalf("checkpoints %d, want 2 (heights 1000 and 2000)", len(resp.FilterHeaders))
	}
}

func TestServeGetCFHeaders(t *testing.T) {
	fc := newFakeChain(t, 6)
	srv := NewServer(NewService(fc))
	resp, err := srv.ServeGetCFHeaders(&wire.GetCFHeadersMsg{
		FilterType:  BasicFilterType,
		StartHeight: 2,
		StopHash:    fc.hashes[5],
	})
	if err != nil {
		t.Fatalf("ServeGetCFHeaders failed: %v", err)
	}
	if len(resp.FilterHashes) != 4 {
		t.Fatalf("filter hashes %d, want 4", len(resp.FilterHashes))
	}
	if resp.PrevHeader == (wire.Hash{}) {
		t.Fatal("predecessor header missing for non-genesis start")
	}
}
