package compact

import (
	"bytes"
	"testing"

	"relaynet/internal/testutil"
	"relaynet/internal/transport"
	"relaynet/internal/txcodec"
	"relaynet/internal/wire"
)

func testBlock(t *testing.T, txs [][]byte) (*txcodec.Block, []byte) {
	t.Helper()
	header := make([]byte, 80)
	header[0] = 0x02
	raw := testutil.SerializeBlock(header, txs)
	b, err := txcodec.ParseBlock(raw)
	if err != nil {
		t.Fatalf("ParseBlock failed: %v", err)
	}
	return b, raw
}

func spendTx(prev [32]byte, index uint32, value int64) []byte {
	return testutil.SerializeTx(testutil.TxSpec{
		Inputs:  []testutil.TxInSpec{{Hash: prev, Index: index}},
		Outputs: []int64{value},
	})
}

func TestShortIDDeterministic(t *testing.T) {
	var h wire.Hash
	h[0] = 0x42
	a := ShortID(h, 7)
	b := ShortID(h, 7)
	if a != b {
		t.Fatal("short id not deterministic")
	}
	if a == ShortID(h, 8) {
		t.Fatal("different nonces should give different short ids")
	}
}

func TestFullReconstructionByteEquals(t *testing.T) {
	var p1, p2 [32]byte
	p1[0], p2[0] = 1, 2
	cb := testutil.CoinbaseTx(50)
	txA := spendTx(p1, 0, 10)
	txB := spendTx(p2, 0, 20)
	block, origin := testBlock(t, [][]byte{cb, txA, txB})

	msg := Build(block, 0x1234, nil)
	if len(msg.PrefilledTx) != 1 || msg.PrefilledTx[0].Index != 0 {
		t.Fatalf("coinbase not prefilled: %+v", msg.PrefilledTx)
	}
	if len(msg.ShortIDs) != 2 {
		t.Fatalf("short ids %d, want 2", len(msg.ShortIDs))
	}

	rec, err := Reconstruct(msg, [][]byte{txB, txA})
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if !rec.Complete() {
		t.Fatalf("expected complete reconstruction, missing %v", rec.Missing)
	}
	got, err := rec.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !bytes.Equal(got, origin) {
		t.Fatal("reconstructed block does not byte-equal origin")
	}
}

func TestMissingTxRequestedAndFilled(t *testing.T) {
	var p1, p2 [32]byte
	p1[0], p2[0] = 1, 2
	cb := testutil.CoinbaseTx(50)
	txA := spendTx(p1, 0, 10)
	txB := spendTx(p2, 0, 20)
	block, origin := testBlock(t, [][]byte{cb, txA, txB})

	msg := Build(block, 99, nil)
	// Mempool holds txA but not txB.
	rec, err := Reconstruct(msg, [][]byte{txA})
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if len(rec.Missing) != 1 || rec.Missing[0] != 2 {
		t.Fatalf("missing %v, want [2]", rec.Missing)
	}

	reply := &wire.BlockTxnMsg{BlockHash: block.Hash, Txs: [][]byte{txB}}
	if err := rec.Fill(reply); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	got, err := rec.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !bytes.Equal(got, origin) {
		t.Fatal("filled block does not byte-equal origin")
	}
}

func TestDoubleSpendCandidateNotMatched(t *testing.T) {
	var p1 [32]byte
	p1[0] = 1
	cb := testutil.CoinbaseTx(50)
	tx1 := spendTx(p1, 0, 10)
	tx2 := spendTx(p1, 0, 99) // spends the same prevout as tx1
	block, _ := testBlock(t, [][]byte{cb, tx1, tx2})

	msg := Build(block, 7, nil)
	rec, err := Reconstruct(msg, [][]byte{tx1, tx2})
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	// tx1 matches first and marks its prevout spent; tx2 then conflicts
	// and must be left missing rather than matched.
	if rec.Complete() {
		t.Fatal("double-spending candidate completed the block")
	}
	if len(rec.Missing) != 1 || rec.Missing[0] != 2 {
		t.Fatalf("missing %v, want [2]", rec.Missing)
	}
}

func TestZeroPrefilledRecoversFromMempool(t *testing.T) {
	var prevs [4][32]byte
	txs := make([][]byte, 0, 4)
	for i := range prevs {
		prevs[i][0] = byte(i + 1)
		txs = append(txs, spendTx(prevs[i], 0, int64(10*(i+1))))
	}
	header := make([]byte, 80)
	raw := testutil.SerializeBlock(header, txs)
	block, err := txcodec.ParseBlock(raw)
	if err != nil {
		t.Fatalf("ParseBlock failed: %v", err)
	}

	// Emulate zero prefilled slots by building and stripping the coinbase
	// prefill: construct the message manually.
	msg := &wire.CmpctBlockMsg{HeaderHash: block.Hash, HeaderRaw: block.HeaderRaw, Nonce: 5}
	for _, tx := range block.Txs {
		msg.ShortIDs = append(msg.ShortIDs, ShortID(tx.ID, 5))
	}

	rec, err := Reconstruct(msg, txs)
	if err != nil {
		t.Fatalf("Reconstruct failed: %v", err)
	}
	if !rec.Complete() {
		t.Fatalf("expected full recovery, missing %v", rec.Missing)
	}
	got, err := rec.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("recovered block mismatch")
	}
}

func TestFillValidation(t *testing.T) {
	rec := &Reconstruction{HeaderHash: wire.Hash{1}, Txs: make([][]byte, 1), Missing: []uint64{0}}
	if err := rec.Fill(&wire.BlockTxnMsg{BlockHash: wire.Hash{2}}); err != ErrWrongBlock {
		t.Fatalf("expected ErrWrongBlock, got %v", err)
	}
	if err := rec.Fill(&wire.BlockTxnMsg{BlockHash: wire.Hash{1}}); err != ErrWrongTxCount {
		t.Fatalf("expected ErrWrongTxCount, got %v", err)
	}
	if _, err := rec.Assemble(); err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestRecommendedParams(t *testing.T) {
	if v, announce := RecommendedParams(transport.TCP); v != 1 || announce {
		t.Fatalf("tcp params (%d, %v), want (1, false)", v, announce)
	}
	if v, announce := RecommendedParams(transport.Quinn); v != 2 || !announce {
		t.Fatalf("quinn params (%d, %v), want (2, true)", v, announce)
	}
	if v, announce := RecommendedParams(transport.Iroh); v != 2 || !announce {
		t.Fatalf("iroh params (%d, %v), want (2, true)", v, announce)
	}
}
