package txcodec

import (
	"testing"

	"relaynet/internal/testutil"
)

func TestParseTx(t *testing.T) {
	var prev [32]byte
	prev[0] = 0xaa
	raw := testutil.SerializeTx(testutil.TxSpec{
		Inputs:  []testutil.TxInSpec{{Hash: prev, Index: 1}},
		Outputs: []int64{50_000, 25_000},
	})
	tx, err := ParseTx(raw)
	if err != nil {
		t.Fatalf("ParseTx failed: %v", err)
	}
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 2 {
		t.Fatalf("parsed %d inputs / %d outputs", len(tx.Inputs), len(tx.Outputs))
	}
	if tx.Inputs[0].PrevOut.Hash[0] != 0xaa || tx.Inputs[0].PrevOut.Index != 1 {
		t.Fatal("prevout not parsed")
	}
	if tx.OutputSum() != 75_000 {
		t.Fatalf("output sum %d, want 75000", tx.OutputSum())
	}
	if tx.Weight != len(raw)*4 {
		t.Fatalf("legacy weight %d, want %d", tx.Weight, len(raw)*4)
	}
	if tx.ID != Hash(raw) {
		t.Fatal("txid mismatch")
	}
}

func TestParseTxTruncated(t *testing.T) {
	raw := testutil.SerializeTx(testutil.TxSpec{
		Inputs:  []testutil.TxInSpec{{Index: 0}},
		Outputs: []int64{1},
	})
	if _, err := ParseTx(raw[:len(raw)-3]); err == nil {
		t.Fatal("truncated transaction parsed without error")
	}
}

func TestCoinbaseDetection(t *testing.T) {
	cb, err := ParseTx(testutil.CoinbaseTx(50_0000_0000))
	if err != nil {
		t.Fatalf("ParseTx failed: %v", err)
	}
	if !cb.IsCoinbase() {
		t.Fatal("coinbase not detected")
	}

	var prev [32]byte
	prev[5] = 1
	normal, err := ParseTx(testutil.SerializeTx(testutil.TxSpec{
		Inputs:  []testutil.TxInSpec{{Hash: prev, Index: 0}},
		Outputs: []int64{1},
	}))
	if err != nil {
		t.Fatalf("ParseTx failed: %v", err)
	}
	if normal.IsCoinbase() {
		t.Fatal("normal tx misdetected as coinbase")
	}
}

func TestParseBlock(t *testing.T) {
	header := make([]byte, 80)
	header[0] = 0x01
	cb := testutil.CoinbaseTx(50)
	var prev [32]byte
	prev[1] = 2
	tx := testutil.SerializeTx(testutil.TxSpec{
		Inputs:  []testutil.TxInSpec{{Hash: prev, Index: 0}},
		Outputs: []int64{10},
	})
	raw := testutil.SerializeBlock(header, [][]byte{cb, tx})

	b, err := ParseBlock(raw)
	if err != nil {
		t.Fatalf("ParseBlock failed: %v", err)
	}
	if len(b.Txs) != 2 {
		t.Fatalf("parsed %d txs, want 2", len(b.Txs))
	}
	if !b.Txs[0].IsCoinbase() {
		t.Fatal("first tx should be coinbase")
	}
	if b.Hash != Hash(header) {
		t.Fatal("block hash should cover the header only")
	}
}
