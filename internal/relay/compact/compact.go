// Package compact implements BIP152 compact-block relay: serving a block as
// short ids plus prefilled transactions, and reconstructing a received
// compact block against the local mempool.
package compact

import (
	"bytes"
	"errors"
	"fmt"

	"relaynet/internal/transport"
	"relaynet/internal/txcodec"
	"relaynet/internal/wire"
)

// ShortID is the low 48 bits of SipHash-2-4 of the transaction hash, keyed
// by (nonce, nonce+1).
func ShortID(h wire.Hash, nonce uint64) [6]byte {
	v := sipHash24(nonce, nonce+1, h[:])
	var out [6]byte
	for i := 0; i < 6; i++ {
		out[i] = byte(v >> (8 * uint(i)))
	}
	return out
}

// RecommendedParams returns the compact-block version and announce
// preference for a transport: stream-multiplexed transports get version 2
// with announce on, TCP stays at version 1 with announce off.
func RecommendedParams(t transport.Type) (version uint64, announce bool) {
	if t == transport.TCP {
		return 1, false
	}
	return 2, true
}

// Build serializes block into a compact block under the given nonce. The
// coinbase is always prefilled; predictMissing lets local policy prefill
// any transaction the peer is unlikely to hold. predictMissing may be nil.
func Build(block *txcodec.Block, nonce uint64, predictMissing func(txHash wire.Hash) bool) *wire.CmpctBlockMsg {
	msg := &wire.CmpctBlockMsg{
		HeaderHash: block.Hash,
		HeaderRaw:  block.HeaderRaw,
		Nonce:      nonce,
	}
	for i, tx := range block.Txs {
		if i == 0 || (predictMissing != nil && predictMissing(tx.ID)) {
			msg.PrefilledTx = append(msg.PrefilledTx, wire.PrefilledTx{
				Index: uint64(i),
				Raw:   tx.Raw,
			})
			continue
		}
		msg.ShortIDs = append(msg.ShortIDs, ShortID(tx.ID, nonce))
	}
	return msg
}

// Reconstruction is the outcome of matching a compact block against the
// mempool: filled slots in declared order, plus any indexes that still need
// a getblocktxn round trip.
type Reconstruction struct {
	HeaderHash wire.Hash
	HeaderRaw  []byte
	// Txs holds one entry per slot; missing slots are nil until filled.
	Txs [][]byte
	// Missing lists the absolute indexes of unfilled slots.
	Missing []uint64
}

// Complete reports whether every slot is filled.
func (r *Reconstruction) Complete() bool { return len(r.Missing) == 0 }

// Reconstruct matches a compact block's short ids against the mempool. A
// mempool candidate fills a slot only when its short id matches uniquely
// and it does not double-spend any transaction already placed in the
// block; a short-id collision in the mempool leaves the slot missing so a
// full request resolves it.
func Reconstruct(cb *wire.CmpctBlockMsg, mempool [][]byte) (*Reconstruction, error) {
	slots := len(cb.ShortIDs) + len(cb.PrefilledTx)
	rec := &Reconstruction{
		HeaderHash: cb.HeaderHash,
		HeaderRaw:  cb.HeaderRaw,
		Txs:        make([][]byte, slots),
	}

	prefilled := make(map[uint64]bool, len(cb.PrefilledTx))
	for _, pt := range cb.PrefilledTx {
		if pt.Index >= uint64(slots) {
			return nil, fmt.Errorf("compact: prefilled index %d out of range", pt.Index)
		}
		if prefilled[pt.Index] {
			return nil, fmt.Errorf("compact: duplicate prefilled index %d", pt.Index)
		}
		prefilled[pt.Index] = true
		rec.Txs[pt.Index] = pt.Raw
	}

	// Index the mempool by short id under this block's nonce, marking
	// collisions so they fall back to a full request.
	type candidate struct {
		raw      []byte
		collided bool
	}
	byShort := make(map[[6]byte]*candidate, len(mempool))
	for _, raw := range mempool {
		sid := ShortID(txcodec.Hash(raw), cb.Nonce)
		if c, ok := byShort[sid]; ok {
			c.collided = true
			continue
		}
		byShort[sid] = &candidate{raw: raw}
	}

	spent := make(map[txcodec.OutPoint]bool)
	markSpent := func(raw []byte) {
		tx, err := txcodec.ParseTx(raw)
		if err != nil {
			return
		}
		for _, in := range tx.Inputs {
			spent[in.PrevOut] = true
		}
	}
	conflicts := func(raw []byte) bool {
		tx, err := txcodec.ParseTx(raw)
		if err != nil {
			return true
		}
		for _, in := range tx.Inputs {
			if spent[in.PrevOut] {
				return true
			}
		}
		return false
	}

	for _, pt := range cb.PrefilledTx {
		markSpent(pt.Raw)
	}

	shortIdx := 0
	for slot := 0; slot < slots; slot++ {
		if prefilled[uint64(slot)] {
			continue
		}
		if shortIdx >= len(cb.ShortIDs) {
			return nil, fmt.Errorf("compact: %d short ids for %d open slots", len(cb.ShortIDs), slots-len(cb.PrefilledTx))
		}
		sid := cb.ShortIDs[shortIdx]
		shortIdx++
		c, ok := byShort[sid]
		if !ok || c.collided || conflicts(c.raw) {
			rec.Missing = append(rec.Missing, uint64(slot))
			continue
		}
		rec.Txs[slot] = c.raw
		markSpent(c.raw)
	}
	return rec, nil
}

// Errors returned by Fill and Assemble.
var (
	ErrWrongBlock   = errors.New("compact: blocktxn for a different block")
	ErrWrongTxCount = errors.New("compact: blocktxn transaction count mismatch")
	ErrIncomplete   = errors.New("compact: reconstruction incomplete")
)

// Fill completes a reconstruction with the transactions from a blocktxn
// reply, in the order the missing indexes were requested.
func (r *Reconstruction) Fill(reply *wire.BlockTxnMsg) error {
	if reply.BlockHash != r.HeaderHash {
		return ErrWrongBlock
	}
	if len(reply.Txs) != len(r.Missing) {
		return ErrWrongTxCount
	}
	for i, idx := range r.Missing {
		r.Txs[idx] = reply.Txs[i]
	}
	r.Missing = nil
	return nil
}

// Assemble re-serializes the completed block: header, count, transactions
// in declared order. The result byte-equals the origin block when every
// slot was filled with the origin's transaction bytes.
func (r *Reconstruction) Assemble() ([]byte, error) {
	if !r.Complete() {
		return nil, ErrIncomplete
	}
	var buf bytes.Buffer
	buf.Write(r.HeaderRaw)
	writeVarInt(&buf, uint64(len(r.Txs)))
	for _, tx := range r.Txs {
		buf.Write(tx)
	}
	return buf.Bytes(), nil
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xfd:
		buf.WriteByte(byte(v))
	case v <= 0xffff:
		buf.WriteByte(0xfd)
		buf.WriteByte(byte(v))
		buf.WriteByte(byte(v >> 8))
	case v <= 0xffffffff:
		buf.WriteByte(0xfe)
		for i := 0; i < 4; i++ {
			buf.WriteByte(byte(v >> (8 * uint(i))))
		}
	default:
		buf.WriteByte(0xff)
		for i := 0; i < 8; i++ {
			buf.WriteByte(byte(v >> (8 * uint(i))))
		}
	}
}
