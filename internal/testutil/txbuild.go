package testutil

import "encoding/binary"

// TxInSpec names one input prevout for a hand-built test transaction.
type TxInSpec struct {
	Hash  [32]byte
	Index uint32
}

// TxSpec describes a minimal legacy transaction for tests.
type TxSpec struct {
	Inputs  []TxInSpec
	Outputs []int64
}

func putVarInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return append(append(buf, 0xfd), b...)
	default:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return append(append(buf, 0xfe), b...)
	}
}

// SerializeTx renders spec as a legacy (non-witness) transaction with empty
// signature scripts and a fixed one-byte output script.
func SerializeTx(spec TxSpec) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, 0x02, 0x00, 0x00, 0x00) // version 2

	buf = putVarInt(buf, uint64(len(spec.Inputs)))
	for _, in := range spec.Inputs {
		buf = append(buf, in.Hash[:]...)
		idx := make([]byte, 4)
		binary.LittleEndian.PutUint32(idx, in.Index)
		buf = append(buf, idx...)
		buf = putVarInt(buf, 0)                      // empty script sig
		buf = append(buf, 0xff, 0xff, 0xff, 0xff)    // sequence
	}

	buf = putVarInt(buf, uint64(len(spec.Outputs)))
	for _, v := range spec.Outputs {
		val := make([]byte, 8)
		binary.LittleEndian.PutUint64(val, uint64(v))
		buf = append(buf, val...)
		buf = putVarInt(buf, 1)
		buf = append(buf, 0x51) // OP_TRUE
	}

	buf = append(buf, 0x00, 0x00, 0x00, 0x00) // locktime
	return buf
}

// CoinbaseTx builds a coinbase paying value to a trivial script.
func CoinbaseTx(value int64) []byte {
	return SerializeTx(TxSpec{
		Inputs:  []TxInSpec{{Hash: [32]byte{}, Index: 0xffffffff}},
		Outputs: []int64{value},
	})
}

// SerializeBlock renders an 80-byte header followed by the given raw
// transactions.
func SerializeBlock(header []byte, txs [][]byte) []byte {
	buf := append([]byte(nil), header...)
	buf = putVarInt(buf, uint64(len(txs)))
	for _, tx := range txs {
		buf = append(buf, tx...)
	}
	return buf
}
