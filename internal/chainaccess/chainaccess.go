// Package chainaccess declares the narrow collaborator interfaces this
// module consumes from storage and consensus without
// depending on their implementations.
package chainaccess

import "relaynet/internal/wire"

// Object is either a block or a transaction, returned opaquely by
// ChainStateAccess.GetObject.
type Object struct {
	IsBlock bool
	Raw     []byte
}

// ChainStateAccess is the read-only view onto block/header/UTXO state
// maintained outside this module.
type ChainStateAccess interface {
	HasObject(hash wire.Hash) bool
	GetObject(hash wire.Hash) (*Object, bool)
	GetHeadersForLocator(locator []wire.Hash, stop wire.Hash) ([]wire.HeaderEntry, error)
	GetMempoolTransactions() [][]byte
}

// AdmissionResult reports the outcome of a mempool admission attempt.
type AdmissionResult int

const (
	AdmissionAccepted AdmissionResult = iota
	AdmissionRejected
)

// ConsensusEngine admits transactions to the mempool under consensus rules
// external to this module.
type ConsensusEngine interface {
	AcceptToMempool(tx []byte, height uint32) (AdmissionResult, error)
}

// BlockFilterService produces and caches BIP157/158 compact filters, owned
// by the storage/indexing layer rather than this module.
type BlockFilterService interface {
	GetFilter(blockHash wire.Hash) ([]byte, bool)
	GenerateAndCacheFilter(block []byte, prevScripts [][]byte, height uint32) ([]byte, error)
	GetFilterHeadersRange(startHeight uint32, stopHash wire.Hash) ([]wire.Hash, wire.Hash, error)
	GetPrevFilterHeader(height uint32) (wire.Hash, error)
	GetFilterCheckpoints(stopHash wire.Hash) ([]wire.Hash, error)
}
