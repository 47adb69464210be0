package chainaccess

import (
	"sync"

	"relaynet/internal/txcodec"
	"relaynet/internal/wire"
)

// ChainIndex is an in-memory height/hash index over blocks fed by the
// storage collaborator. It backs the filter service's chain view without
// pulling storage internals into this module.
type ChainIndex struct {
	mu       sync.RWMutex
	byHeight [][]byte
	hashes   []wire.Hash
	byHash   map[wire.Hash]uint32
}

// NewChainIndex creates an empty index.
func NewChainIndex() *ChainIndex {
	return &ChainIndex{byHash: make(map[wire.Hash]uint32)}
}

// Append adds the next block; blocks must arrive in height order.
func (ci *ChainIndex) Append(raw []byte) (uint32, error) {
	block, err := txcodec.ParseBlock(raw)
	if err != nil {
		return 0, err
	}
	ci.mu.Lock()
	defer ci.mu.Unlock()
	height := uint32(len(ci.byHeight))
	ci.byHeight = append(ci.byHeight, raw)
	ci.hashes = append(ci.hashes, block.Hash)
	ci.byHash[block.Hash] = height
	return height, nil
}

// BlockAtHeight returns the raw block and its hash at height.
func (ci *ChainIndex) BlockAtHeight(height uint32) ([]byte, wire.Hash, bool) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	if int(height) >= len(ci.byHeight) {
		return nil, wire.Hash{}, false
	}
	return ci.byHeight[height], ci.hashes[height], true
}

// HeightOf returns the height of the block with the given hash.
func (ci *ChainIndex) HeightOf(hash wire.Hash) (uint32, bool) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	h, ok := ci.byHash[hash]
	return h, ok
}

// BestHeight returns the current tip height, zero when empty.
func (ci *ChainIndex) BestHeight() uint32 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	if len(ci.byHeight) == 0 {
		return 0
	}
	return uint32(len(ci.byHeight) - 1)
}
