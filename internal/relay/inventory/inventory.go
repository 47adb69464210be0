// Package inventory tracks which relayable objects each peer has offered
// and which are in flight, so an item is requested from exactly one peer at
// a time and duplicate offers never produce duplicate requests.
package inventory

import (
	"sync"
	"time"

	"relaynet/internal/wire"
)

// DefaultRequestTimeout is how long a pending request may stay outstanding
// before garbage collection frees the item for re-request.
const DefaultRequestTimeout = 2 * time.Minute

type pendingRequest struct {
	peer        string
	requestedAt time.Time
}

// Manager is the process-wide inventory bookkeeping shared by the relay
// engines.
type Manager struct {
	mu sync.Mutex
	// known maps item hash -> set of peers that offered it.
	known map[wire.Hash]map[string]struct{}
	// pending maps item hash -> the single outstanding request.
	pending map[wire.Hash]pendingRequest
	now     func() time.Time
}

// NewManager creates an empty inventory manager.
func NewManager() *Manager {
	return &Manager{
		known:   make(map[wire.Hash]map[string]struct{}),
		pending: make(map[wire.Hash]pendingRequest),
		now:     time.Now,
	}
}

// Offer records that peer announced the given items and returns the subset
// that should be requested from it: items not already held, not pending
// with any peer, and not previously requested in this call.
func (m *Manager) Offer(peer string, items []wire.InventoryItem, have func(wire.Hash) bool) []wire.InventoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var want []wire.InventoryItem
	for _, it := range items {
		peers, ok := m.known[it.Hash]
		if !ok {
			peers = make(map[string]struct{})
			m.known[it.Hash] = peers
		}
		peers[peer] = struct{}{}

		if have != nil && have(it.Hash) {
			continue
		}
		if _, inFlight := m.pending[it.Hash]; inFlight {
			continue
		}
		m.pending[it.Hash] = pendingRequest{peer: peer, requestedAt: m.now()}
		want = append(want, it)
	}
	return want
}

// MarkReceived clears the pending entry once the item arrived.
func (m *Manager) MarkReceived(h wire.Hash) {
	m.mu.Lock()
	delete(m.pending, h)
	m.mu.Unlock()
}

// OfferedBy reports whether peer has offered hash.
func (m *Manager) OfferedBy(peer string, h wire.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers, ok := m.known[h]
	if !ok {
		return false
	}
	_, offered := peers[peer]
	return offered
}

// PendingPeer returns the peer an item is currently requested from.
func (m *Manager) PendingPeer(h wire.Hash) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[h]
	return p.peer, ok
}

// GC drops pending requests older than maxAge (zero means
// DefaultRequestTimeout) and returns the freed item hashes so callers can
// re-request them from another offering peer.
func (m *Manager) GC(maxAge time.Duration) []wire.Hash {
	if maxAge == 0 {
		maxAge = DefaultRequestTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-maxAge)
	var freed []wire.Hash
	for h, p := range m.pending {
		if p.requestedAt.Before(cutoff) {
			delete(m.pending, h)
			freed = append(freed, h)
		}
	}
	return freed
}

// PurgePeer removes a disconnected peer's slice of the known-inventory map
// and frees any request pending against it.
func (m *Manager) PurgePeer(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, peers := range m.known {
		delete(peers, peer)
		if len(peers) == 0 {
			delete(m.known, h)
		}
	}
	for h, p := range m.pending {
		if p.peer == peer {
			delete(m.pending, h)
		}
	}
}

// KnownSize returns the number of tracked item hashes.
func (m *Manager) KnownSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.known)
}

// PendingSize returns the number of outstanding requests.
func (m *Manager) PendingSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
