// Package txcodec parses just enough of the Bitcoin transaction and block
// serialization for relay policy: txids, input prevouts, output values and
// weight. Consensus validation of the parsed data happens elsewhere.
package txcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"relaynet/internal/wire"
)

// ErrTruncated is returned when a serialization ends mid-field.
var ErrTruncated = errors.New("txcodec: truncated serialization")

// OutPoint references one output of a previous transaction.
type OutPoint struct {
	Hash  wire.Hash
	Index uint32
}

// TxIn is one parsed transaction input.
type TxIn struct {
	PrevOut OutPoint
}

// TxOut is one parsed transaction output.
type TxOut struct {
	Value  int64
	Script []byte
}

// Tx is a parsed transaction. Raw holds the original bytes; ID is the
// double-SHA256 of them, the relay identity used across the engines.
type Tx struct {
	Raw     []byte
	ID      wire.Hash
	Inputs  []TxIn
	Outputs []TxOut
	// BaseSize is the serialized size without witness data; Weight is
	// BaseSize*3 + total size per BIP141.
	BaseSize int
	Weight   int
}

// IsCoinbase reports whether the transaction spends the null prevout.
func (tx *Tx) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	in := tx.Inputs[0]
	return in.PrevOut.Hash == (wire.Hash{}) && in.PrevOut.Index == 0xffffffff
}

// OutputSum returns the total value carried by the outputs.
func (tx *Tx) OutputSum() int64 {
	var sum int64
	for _, o := range tx.Outputs {
		sum += o.Value
	}
	return sum
}

// Hash computes the relay identity of a raw serialization.
func Hash(raw []byte) wire.Hash {
	var h wire.Hash
	copy(h[:], chainhash.DoubleHashB(raw))
	return h
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) varint() (uint64, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	switch b[0] {
	case 0xfd:
		v, err := r.bytes(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(v)), nil
	case 0xfe:
		v, err := r.bytes(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(v)), nil
	case 0xff:
		return r.u64()
	default:
		return uint64(b[0]), nil
	}
}

func (r *reader) varbytes() ([]byte, error) {
	n, err := r.varint()
	if err != nil {
		return nil, err
	}
	if uint64(r.remaining()) < n {
		return nil, ErrTruncated
	}
	return r.bytes(int(n))
}

// ParseTx decodes one transaction, legacy or segwit serialization.
func ParseTx(raw []byte) (*Tx, error) {
	r := &reader{buf: raw}
	if _, err := r.u32(); err != nil { // version
		return nil, err
	}

	vinCount, err := r.varint()
	if err != nil {
		return nil, err
	}
	segwit := false
	if vinCount == 0 {
		// Segwit marker 0x00 followed by flag 0x01.
		flag, err := r.bytes(1)
		if err != nil {
			return nil, err
		}
		if flag[0] != 0x01 {
			return nil, fmt.Errorf("txcodec: invalid segwit flag 0x%02x", flag[0])
		}
		segwit = true
		if vinCount, err = r.varint(); err != nil {
			return nil, err
		}
	}
	if vinCount == 0 {
		return nil, fmt.Errorf("txcodec: transaction with no inputs")
	}

	tx := &Tx{Raw: raw, ID: Hash(raw)}
	for i := uint64(0); i < vinCount; i++ {
		hb, err := r.bytes(32)
		if err != nil {
			return nil, err
		}
		var op OutPoint
		copy(op.Hash[:], hb)
		if op.Index, err = r.u32(); err != nil {
			return nil, err
		}
		if _, err := r.varbytes(); err != nil { // script sig
			return nil, err
		}
		if _, err := r.u32(); err != nil { // sequence
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, TxIn{PrevOut: op})
	}

	voutCount, err := r.varint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < voutCount; i++ {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		script, err := r.varbytes()
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, TxOut{Value: int64(v), Script: append([]byte(nil), script...)})
	}

	witnessBytes := 0
	if segwit {
		before := r.off
		for i := uint64(0); i < vinCount; i++ {
			items, err := r.varint()
			if err != nil {
				return nil, err
			}
			for j := uint64(0); j < items; j++ {
				if _, err := r.varbytes(); err != nil {
					return nil, err
				}
			}
		}
		// Marker and flag bytes count as witness data too.
		witnessBytes = (r.off - before) + 2
	}

	if _, err := r.u32(); err != nil { // locktime
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("txcodec: %d trailing bytes", r.remaining())
	}

	tx.BaseSize = len(raw) - witnessBytes
	tx.Weight = tx.BaseSize*3 + len(raw)
	return tx, nil
}

// Block is a parsed block: the 80-byte header plus its transactions.
type Block struct {
	HeaderRaw []byte
	Hash      wire.Hash
	Txs       []*Tx
}

// ParseBlock decodes a full block serialization.
func ParseBlock(raw []byte) (*Block, error) {
	r := &reader{buf: raw}
	header, err := r.bytes(80)
	if err != nil {
		return nil, err
	}
	b := &Block{HeaderRaw: append([]byte(nil), header...), Hash: Hash(header)}

	count, err := r.varint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		start := r.off
		if err := skipTx(r); err != nil {
			return nil, err
		}
		tx, err := ParseTx(append([]byte(nil), r.buf[start:r.off]...))
		if err != nil {
			return nil, err
		}
		b.Txs = append(b.Txs, tx)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("txcodec: %d trailing bytes after block", r.remaining())
	}
	return b, nil
}

// skipTx advances r over one serialized transaction.
func skipTx(r *reader) error {
	if _, err := r.u32(); err != nil {
		return err
	}
	vinCount, err := r.varint()
	if err != nil {
		return err
	}
	segwit := false
	if vinCount == 0 {
		if _, err := r.bytes(1); err != nil {
			return err
		}
		segwit = true
		if vinCount, err = r.varint(); err != nil {
			return err
		}
	}
	for i := uint64(0); i < vinCount; i++ {
		if _, err := r.bytes(36); err != nil {
			return err
		}
		if _, err := r.varbytes(); err != nil {
			return err
		}
		if _, err := r.u32(); err != nil {
			return err
		}
	}
	voutCount, err := r.varint()
	if err != nil {
		return err
	}
	for i := uint64(0); i < voutCount; i++ {
		if _, err := r.bytes(8); err != nil {
			return err
		}
		if _, err := r.varbytes(); err != nil {
			return err
		}
	}
	if segwit {
		for i := uint64(0); i < vinCount; i++ {
			items, err := r.varint()
			if err != nil {
				return err
			}
			for j := uint64(0); j < items; j++ {
				if _, err := r.varbytes(); err != nil {
					return err
				}
			}
		}
	}
	_, err = r.u32()
	return err
}
