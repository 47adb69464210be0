// Package fibre prepares blocks for the fast-relay side channel: fixed-size
// chunking with a one-shard XOR parity, a TTL-bounded chunk cache, and the
// registry of UDP endpoints eligible to receive the encoding.
package fibre

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"relaynet/internal/wire"
)

// DefaultChunkSize keeps one chunk plus headers inside a typical MTU.
const DefaultChunkSize = 1400

// DefaultCacheTTL is how long encoded blocks stay cached for retransmits.
const DefaultCacheTTL = 5 * time.Minute

// cacheSize bounds the number of concurrently cached encoded blocks.
const cacheSize = 16

// Chunk is one shard of an encoded block. The parity shard carries the
// XOR of every (padded) data shard and recovers any single lost one.
type Chunk struct {
	BlockHash wire.Hash
	Index     uint32
	Total     uint32 // data shards, excluding parity
	BlockSize uint32
	IsParity  bool
	Payload   []byte
}

// Errors returned by Encode and Reassemble.
var (
	ErrEmptyBlock     = errors.New("fibre: empty block")
	ErrUnrecoverable  = errors.New("fibre: more than one shard missing")
	ErrShardMismatch  = errors.New("fibre: shards from different encodings")
)

// Encode splits a block into chunkSize shards plus one XOR parity shard.
// A non-positive chunkSize falls back to DefaultChunkSize.
func Encode(blockHash wire.Hash, raw []byte, chunkSize int) ([]Chunk, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyBlock
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	total := (len(raw) + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, total+1)
	parity := make([]byte, chunkSize)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(raw) {
			end = len(raw)
		}
		payload := append([]byte(nil), raw[start:end]...)
		for j, b := range payload {
			parity[j] ^= b
		}
		chunks = append(chunks, Chunk{
			BlockHash: blockHash,
			Index:     uint32(i),
			Total:     uint32(total),
			BlockSize: uint32(len(raw)),
			Payload:   payload,
		})
	}
	chunks = append(chunks, Chunk{
		BlockHash: blockHash,
		Index:     uint32(total),
		Total:     uint32(total),
		BlockSize: uint32(len(raw)),
		IsParity:  true,
		Payload:   parity,
	})
	return chunks, nil
}

// Reassemble reconstructs the block from shards, tolerating the loss of
// any single data shard when the parity shard is present.
func Reassemble(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyBlock
	}
	ref := chunks[0]
	data := make([][]byte, ref.Total)
	var parity []byte
	for _, c := range chunks {
		if c.BlockHash != ref.BlockHash || c.Total != ref.Total || c.BlockSize != ref.BlockSize {
			return nil, ErrShardMismatch
		}
		if c.IsParity {
			parity = c.Payload
			continue
		}
		if c.Index >= c.Total {
			return nil, fmt.Errorf("fibre: shard index %d out of range", c.Index)
		}
		data[c.Index] = c.Payload
	}

	missing := -1
	for i, d := range data {
		if d == nil {
			if missing >= 0 {
				return nil, ErrUnrecoverable
			}
			missing = i
		}
	}
	if missing >= 0 {
		if parity == nil {
			return nil, ErrUnrecoverable
		}
		recovered := append([]byte(nil), parity...)
		for i, d := range data {
			if i == missing {
				continue
			}
			for j, b := range d {
				recovered[j] ^= b
			}
		}
		// The recovered shard is the final, possibly short one when it
		// sits at the end of the block.
		chunkSize := len(parity)
		shardLen := chunkSize
		if rem := int(ref.BlockSize) - missing*chunkSize; rem < shardLen {
			shardLen = rem
		}
		data[missing] = recovered[:shardLen]
	}

	out := make([]byte, 0, ref.BlockSize)
	for _, d := range data {
		out = append(out, d...)
	}
	if len(out) != int(ref.BlockSize) {
		return nil, fmt.Errorf("fibre: reassembled %d bytes, want %d", len(out), ref.BlockSize)
	}
	return out, nil
}

// Capability describes what a registered fast-relay peer accepts.
type Capability struct {
	MaxChunkSize int
	FECSupport   bool
}

// Endpoint is a registered fast-relay destination.
type Endpoint struct {
	PeerID      string
	UDPEndpoint string
	Caps        Capability
}

// Relay owns the encoded-block cache and the eligible-peer registry.
type Relay struct {
	mu        sync.Mutex
	endpoints map[string]Endpoint
	cache     *expirable.LRU[wire.Hash, []Chunk]
}

// NewRelay creates a relay whose encodings expire after ttl (zero means
// DefaultCacheTTL).
func NewRelay(ttl time.Duration) *Relay {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	return &Relay{
		endpoints: make(map[string]Endpoint),
		cache:     expirable.NewLRU[wire.Hash, []Chunk](cacheSize, nil, ttl),
	}
}

// RegisterPeer records a fast-relay destination; peers must have
// advertised FIBRE eligibility before registration.
func (r *Relay) RegisterPeer(peerID, udpEndpoint string, caps Capability) {
	r.mu.Lock()
	r.endpoints[peerID] = Endpoint{PeerID: peerID, UDPEndpoint: udpEndpoint, Caps: caps}
	r.mu.Unlock()
}

// UnregisterPeer drops a destination.
func (r *Relay) UnregisterPeer(peerID string) {
	r.mu.Lock()
	delete(r.endpoints, peerID)
	r.mu.Unlock()
}

// Endpoints snapshots the registered destinations.
func (r *Relay) Endpoints() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		out = append(out, e)
	}
	return out
}

// Prepare encodes a block and caches the shards under its hash, reusing a
// cached encoding when present.
func (r *Relay) Prepare(blockHash wire.Hash, raw []byte, chunkSize int) ([]Chunk, error) {
	if cached, ok := r.cache.Get(blockHash); ok {
		return cached, nil
	}
	chunks, err := Encode(blockHash, raw, chunkSize)
	if err != nil {
		return nil, err
	}
	r.cache.Add(blockHash, chunks)
	return chunks, nil
}

// Cached returns the cached encoding for a block, if it has not expired.
func (r *Relay) Cached(blockHash wire.Hash) ([]Chunk, bool) {
	return r.cache.Get(blockHash)
}
