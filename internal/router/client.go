package router

import (
	"relaynet/internal/wire"
)

// The typed request helpers register the pending entry first and send the
// outbound message second, keeping the two failure modes separate: a send
// error returns immediately, a missing reply resolves the future with a
// timeout.

// RequestUTXOSet asks peer for the UTXO commitment at height.
func (m *Manager) RequestUTXOSet(peer string, height uint64, blockHash wire.Hash) (uint32, <-chan Response, error) {
	id, ch := m.RegisterRequest(peer)
	req := &wire.GetUTXOSetMsg{RequestID: id, Height: height, BlockHash: blockHash}
	if err := m.SendTo(peer, req); err != nil {
		m.CancelRequest(id)
		return 0, nil, err
	}
	return id, ch, nil
}

// RequestFilteredBlock asks peer for a spam-filtered block, optionally
// with its compact filter attached.
func (m *Manager) RequestFilteredBlock(peer string, blockHash wire.Hash, wantCFilter bool) (uint32, <-chan Response, error) {
	id, ch := m.RegisterRequest(peer)
	req := &wire.GetFilteredBlockMsg{RequestID: id, BlockHash: blockHash, WantCFilter: wantCFilter}
	if err := m.SendTo(peer, req); err != nil {
		m.CancelRequest(id)
		return 0, nil, err
	}
	return id, ch, nil
}
