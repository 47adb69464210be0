// Package dandelion implements the two-phase Dandelion++ diffusion: a stem
// phase forwarding each transaction along a single random successor path,
// and the transition predicates that move it into ordinary fluff gossip.
package dandelion

import (
	"math/rand"
	"sync"
	"time"

	"relaynet/internal/wire"
)

// Clock abstracts time so tests can drive the timeout transitions.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation used outside tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Phase is the diffusion phase of one transaction.
type Phase int

const (
	Stem Phase = iota
	Fluff
)

func (p Phase) String() string {
	if p == Stem {
		return "stem"
	}
	return "fluff"
}

// Config carries the diffusion knobs.
type Config struct {
	StemTimeout      time.Duration
	FluffProbability float64
	MaxStemHops      int
	// PathRotation is how long a per-peer stem path stays pinned before a
	// new successor is sampled.
	PathRotation time.Duration
}

// DefaultConfig mirrors the protocol defaults.
var DefaultConfig = Config{
	StemTimeout:      10 * time.Second,
	FluffProbability: 0.10,
	MaxStemHops:      2,
	PathRotation:     10 * time.Minute,
}

// StemState is the bounded per-transaction stem record.
type StemState struct {
	CurrentPeer string
	NextPeer    string
	StemStart   time.Time
	Hops        int
}

type stemPath struct {
	nextPeer string
	expiry   time.Time
	hopCount int
}

// Relay holds the stem paths and in-flight stem transactions. All state is
// bounded: one entry per in-flight transaction, one path per peer, both
// garbage-collected.
type Relay struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock
	rng   *rand.Rand

	paths map[string]*stemPath
	txs   map[wire.Hash]*StemState
}

// New creates a relay with the given knobs. Zero duration and hop fields
// fall back to DefaultConfig; FluffProbability is taken as given, so an
// explicit zero disables the per-hop coin flip. clock and rng may be nil
// for production defaults.
func New(cfg Config, clock Clock, rng *rand.Rand) *Relay {
	if cfg.StemTimeout == 0 {
		cfg.StemTimeout = DefaultConfig.StemTimeout
	}
	if cfg.MaxStemHops == 0 {
		cfg.MaxStemHops = DefaultConfig.MaxStemHops
	}
	if cfg.PathRotation == 0 {
		cfg.PathRotation = DefaultConfig.PathRotation
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Relay{
		cfg:   cfg,
		clock: clock,
		rng:   rng,
		paths: make(map[string]*stemPath),
		txs:   make(map[wire.Hash]*StemState),
	}
}

// AddTransaction admits a transaction into diffusion. sourcePeer is empty
// for locally originated transactions; hops is the observed stem depth so
// far (0 at origin). The returned phase is Fluff when a transition
// predicate fires at admission, in which case no stem entry is retained;
// otherwise the successor peer to forward the single stem copy to is
// returned.
func (r *Relay) AddTransaction(tx wire.Hash, sourcePeer string, hops int, peers []string) (Phase, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hops >= r.cfg.MaxStemHops {
		delete(r.txs, tx)
		return Fluff, ""
	}
	if r.rng.Float64() < r.cfg.FluffProbability {
		delete(r.txs, tx)
		return Fluff, ""
	}

	next := r.successorLocked(sourcePeer, peers)
	if next == "" {
		// No eligible successor: fluff rather than stall the transaction.
		delete(r.txs, tx)
		return Fluff, ""
	}
	r.txs[tx] = &StemState{
		CurrentPeer: sourcePeer,
		NextPeer:    next,
		StemStart:   r.clock.Now(),
		Hops:        hops,
	}
	return Stem, next
}

// successorLocked returns the pinned stem successor for sourcePeer,
// rotating the path when it expired. The previous successor and the
// source itself are excluded from the sample.
func (r *Relay) successorLocked(sourcePeer string, peers []string) string {
	now := r.clock.Now()
	path, ok := r.paths[sourcePeer]
	if ok && now.Before(path.expiry) {
		for _, p := range peers {
			if p == path.nextPeer {
				return path.nextPeer
			}
		}
		// Pinned successor vanished; fall through to resample.
	}
	prev := ""
	if ok {
		prev = path.nextPeer
	}
	candidates := make([]string, 0, len(peers))
	for _, p := range peers {
		if p == sourcePeer || p == prev {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		// Relax the previous-successor exclusion when it is the only one.
		for _, p := range peers {
			if p != sourcePeer {
				candidates = append(candidates, p)
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	next := candidates[r.rng.Intn(len(candidates))]
	hopCount := 0
	if ok {
		hopCount = path.hopCount + 1
	}
	r.paths[sourcePeer] = &stemPath{
		nextPeer: next,
		expiry:   now.Add(r.cfg.PathRotation),
		hopCount: hopCount,
	}
	return next
}

// PathHops returns the stem depth recorded on peer's path, zero when no
// path exists yet.
func (r *Relay) PathHops(peer string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.paths[peer]; ok {
		return p.hopCount
	}
	return 0
}

// CheckTransitions returns every transaction whose stem timeout elapsed,
// removing its stem entry in the same step. Callers broadcast the returned
// hashes as ordinary inventory.
func (r *Relay) CheckTransitions() []wire.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	var fluffed []wire.Hash
	for tx, st := range r.txs {
		if now.Sub(st.StemStart) >= r.cfg.StemTimeout {
			fluffed = append(fluffed, tx)
			delete(r.txs, tx)
		}
	}
	return fluffed
}

// MarkFluffed removes a transaction's stem entry after an external fluff
// decision, for example when the transaction arrived via ordinary gossip.
func (r *Relay) MarkFluffed(tx wire.Hash) {
	r.mu.Lock()
	delete(r.txs, tx)
	r.mu.Unlock()
}

// StateOf returns the stem entry for tx, if it is still in stem phase.
func (r *Relay) StateOf(tx wire.Hash) (StemState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.txs[tx]
	if !ok {
		return StemState{}, false
	}
	return *st, true
}

// StemDepth returns the number of transactions currently in stem phase.
func (r *Relay) StemDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

// GC drops stem entries older than twice the stem timeout and expired
// paths, returning the number of entries removed.
func (r *Relay) GC() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	removed := 0
	for tx, st := range r.txs {
		if now.Sub(st.StemStart) >= 2*r.cfg.StemTimeout {
			delete(r.txs, tx)
			removed++
		}
	}
	for peer, path := range r.paths {
		if now.After(path.expiry) {
			delete(r.paths, peer)
		}
	}
	return removed
}
