// Package filters implements the BIP157/158 compact-filter service: basic
// (type 0) GCS filter construction, the filter-header hash chain, and the
// getcfilters/getcfheaders/getcfcheckpt server handlers.
package filters

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil/gcs"
	lru "github.com/hashicorp/golang-lru/v2"

	"relaynet/internal/txcodec"
	"relaynet/internal/wire"
)

// BasicFilterType is the only filter type served.
const BasicFilterType = 0

// BIP158 basic filter parameters.
const (
	gcsP = 19
	gcsM = 784931
)

// filterCacheSize bounds the per-block filter cache.
const filterCacheSize = 4096

// headerCacheSize bounds the filter-header chain cache.
const headerCacheSize = 16384

// ChainView is the read surface the filter service needs from chain state.
type ChainView interface {
	BlockAtHeight(height uint32) (raw []byte, hash wire.Hash, ok bool)
	HeightOf(hash wire.Hash) (uint32, bool)
	BestHeight() uint32
}

// Errors returned by the service and server.
var (
	ErrUnsupportedFilterType = errors.New("filters: unsupported filter type")
	ErrUnknownBlock          = errors.New("filters: unknown block")
)

// Service builds and caches basic block filters and their header chain.
type Service struct {
	chain ChainView

	filters *lru.Cache[wire.Hash, []byte]
	headers *lru.Cache[uint32, wire.Hash]
}

// NewService creates a filter service over the given chain view.
func NewService(chain ChainView) *Service {
	filters, _ := lru.New[wire.Hash, []byte](filterCacheSize)
	headers, _ := lru.New[uint32, wire.Hash](headerCacheSize)
	return &Service{
		chain:   chain,
		filters: filters,
		headers: headers,
	}
}

// buildFilter constructs the basic filter over a block's output scripts
// plus the scripts being spent, per BIP158. Empty and OP_RETURN scripts
// are excluded.
func buildFilter(blockHash wire.Hash, block *txcodec.Block, prevScripts [][]byte) ([]byte, error) {
	seen := make(map[string]struct{})
	var elements [][]byte
	add := func(script []byte) {
		if len(script) == 0 || script[0] == 0x6a {
			return
		}
		k := string(script)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		elements = append(elements, script)
	}
	for _, tx := range block.Txs {
		for _, out := range tx.Outputs {
			add(out.Script)
		}
	}
	for _, script := range prevScripts {
		add(script)
	}

	// The SipHash key is the first 16 bytes of the block hash.
	var key [gcs.KeySize]byte
	copy(key[:], blockHash[:gcs.KeySize])
	filter, err := gcs.BuildGCSFilter(gcsP, gcsM, key, elements)
	if err != nil {
		return nil, err
	}
	return filter.NBytes()
}

// FilterHash is the double-SHA256 of the serialized filter.
func FilterHash(filter []byte) wire.Hash {
	var h wire.Hash
	copy(h[:], chainhash.DoubleHashB(filter))
	return h
}

// chainHeader links a filter hash onto the previous filter header.
func chainHeader(filterHash, prev wire.Hash) wire.Hash {
	var buf bytes.Buffer
	buf.Write(filterHash[:])
	buf.Write(prev[:])
	var h wire.Hash
	copy(h[:], chainhash.DoubleHashB(buf.Bytes()))
	return h
}

// GetFilter returns the cached filter for a block, if present.
func (s *Service) GetFilter(blockHash wire.Hash) ([]byte, bool) {
	return s.filters.Get(blockHash)
}

// GenerateAndCacheFilter builds the filter for a raw block with the given
// spent-script set and caches it under the block hash.
func (s *Service) GenerateAndCacheFilter(block []byte, prevScripts [][]byte, height uint32) ([]byte, error) {
	parsed, err := txcodec.ParseBlock(block)
	if err != nil {
		return nil, err
	}
	filter, err := buildFilter(parsed.Hash, parsed, prevScripts)
	if err != nil {
		return nil, err
	}
	s.filters.Add(parsed.Hash, filter)
	return filter, nil
}

// filterAt returns the filter for the block at height, generating and
// caching it from the block's own scripts when no richer filter was
// produced at connect time.
func (s *Service) filterAt(height uint32) ([]byte, wire.Hash, error) {
	raw, hash, ok := s.chain.BlockAtHeight(height)
	if !ok {
		return nil, wire.Hash{}, ErrUnknownBlock
	}
	if f, ok := s.filters.Get(hash); ok {
		return f, hash, nil
	}
	f, err := s.GenerateAndCacheFilter(raw, nil, height)
	if err != nil {
		return nil, wire.Hash{}, err
	}
	return f, hash, nil
}

// headerAt returns the filter header at height, computing any uncached
// prefix of the chain from genesis. The genesis predecessor is the zero
// hash.
func (s *Service) headerAt(height uint32) (wire.Hash, error) {
	if h, ok := s.headers.Get(height); ok {
		return h, nil
	}
	// Walk down to the nearest cached header, then roll forward.
	start := uint32(0)
	var prev wire.Hash
	for h := height; h > 0; h-- {
		if cached, ok := s.headers.Get(h - 1); ok {
			start, prev = h, cached
			break
		}
	}
	for h := start; h <= height; h++ {
		filter, _, err := s.filterAt(h)
		if err != nil {
			return wire.Hash{}, err
		}
		hdr := chainHeader(FilterHash(filter), prev)
		s.headers.Add(h, hdr)
		prev = hdr
	}
	return prev, nil
}

// GetPrevFilterHeader returns the filter header preceding height; zero for
// the genesis filter.
func (s *Service) GetPrevFilterHeader(height uint32) (wire.Hash, error) {
	if height == 0 {
		return wire.Hash{}, nil
	}
	return s.headerAt(height - 1)
}

// GetFilterHeadersRange returns the filter hashes for
// [startHeight, height(stopHash)] along with the predecessor header.
func (s *Service) GetFilterHeadersRange(startHeight uint32, stopHash wire.Hash) ([]wire.Hash, wire.Hash, error) {
	stopHeight, ok := s.chain.HeightOf(stopHash)
	if !ok {
		return nil, wire.Hash{}, ErrUnknownBlock
	}
	if stopHeight < startHeight {
		return nil, wire.Hash{}, fmt.Errorf("filters: stop height %d below start %d", stopHeight, startHeight)
	}
	prev, err := s.GetPrevFilterHeader(startHeight)
	if err != nil {
		return nil, wire.Hash{}, err
	}
	hashes := make([]wire.Hash, 0, stopHeight-startHeight+1)
	for h := startHeight; h <= stopHeight; h++ {
		filter, _, err := s.filterAt(h)
		if err != nil {
			return nil, wire.Hash{}, err
		}
		hashes = append(hashes, FilterHash(filter))
	}
	return hashes, prev, nil
}

// GetFilterCheckpoints returns the filter header at every 1000th height up
// to stopHash.
func (s *Service) GetFilterCheckpoints(stopHash wire.Hash) ([]wire.Hash, error) {
	stopHeight, ok := s.chain.HeightOf(stopHash)
	if !ok {
		return nil, ErrUnknownBlock
	}
	var out []wire.Hash
	for h := uint32(CheckpointInterval); h <= stopHeight; h += CheckpointInterval {
		hdr, err := s.headerAt(h)
		if err != nil {
			return nil, err
		}
		out = append(out, hdr)
	}
	return out, nil
}
