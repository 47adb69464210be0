// Package netaddr maintains the gossip-fed address database, DNS seed
// bootstrap and the local ban list consulted at accept and connect time.
package netaddr

import (
	"sort"
	"sync"
	"time"

	"relaynet/internal/session"
	"relaynet/internal/transport"
)

// DefaultExpiry is how long an address survives without a fresh sighting.
const DefaultExpiry = 24 * time.Hour

// Entry is one known peer address.
type Entry struct {
	Addr      transport.Addr
	FirstSeen time.Time
	LastSeen  time.Time
	Services  session.Services
	SeenCount int
}

// DB is a capacity-capped address database. Socket-addressed entries
// (TCP/Quinn) and public-key entries (Iroh) live in separate keyspaces, as
// the two identifier forms never collide meaningfully. When capacity is
// exceeded the entry with the oldest LastSeen is evicted.
type DB struct {
	mu       sync.Mutex
	socket   map[string]*Entry
	pubkey   map[string]*Entry
	capacity int
	expiry   time.Duration
	now      func() time.Time
}

// NewDB creates an address database holding at most capacity entries per
// keyspace. A non-positive capacity falls back to 20000; a zero expiry
// falls back to DefaultExpiry.
func NewDB(capacity int, expiry time.Duration) *DB {
	if capacity <= 0 {
		capacity = 20000
	}
	if expiry == 0 {
		expiry = DefaultExpiry
	}
	return &DB{
		socket:   make(map[string]*Entry),
		pubkey:   make(map[string]*Entry),
		capacity: capacity,
		expiry:   expiry,
		now:      time.Now,
	}
}

func (db *DB) space(t transport.Type) map[string]*Entry {
	if t == transport.Iroh {
		return db.pubkey
	}
	return db.socket
}

// Record notes a sighting of addr with the given advertised services. New
// addresses are inserted; repeat sightings bump LastSeen and SeenCount.
func (db *DB) Record(addr transport.Addr, services session.Services) {
	db.mu.Lock()
	defer db.mu.Unlock()
	space := db.space(addr.Type)
	now := db.now()
	if e, ok := space[addr.Endpoint]; ok {
		e.LastSeen = now
		e.SeenCount++
		e.Services = services
		return
	}
	if len(space) >= db.capacity {
		evictOldest(space)
	}
	space[addr.Endpoint] = &Entry{
		Addr:      addr,
		FirstSeen: now,
		LastSeen:  now,
		Services:  services,
		SeenCount: 1,
	}
}

func evictOldest(space map[string]*Entry) {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range space {
		if first || e.LastSeen.Before(oldest) {
			oldestKey, oldest, first = k, e.LastSeen, false
		}
	}
	if !first {
		delete(space, oldestKey)
	}
}

// Lookup returns the entry for addr, if present and unexpired.
func (db *DB) Lookup(addr transport.Addr) (*Entry, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.space(addr.Type)[addr.Endpoint]
	if !ok || db.now().Sub(e.LastSeen) > db.expiry {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Sample returns up to n unexpired socket addresses, preferring the most
// recently seen. Used by the discovery coordinator when dialing.
func (db *DB) Sample(n int) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	cutoff := db.now().Add(-db.expiry)
	fresh := make([]*Entry, 0, len(db.socket))
	for _, e := range db.socket {
		if e.LastSeen.After(cutoff) {
			fresh = append(fresh, e)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].LastSeen.After(fresh[j].LastSeen) })
	if len(fresh) > n {
		fresh = fresh[:n]
	}
	out := make([]string, 0, len(fresh))
	for _, e := range fresh {
		out = append(out, e.Addr.Endpoint)
	}
	return out
}

// Expire drops every entry whose LastSeen is older than the expiry window
// and returns the number removed.
func (db *DB) Expire() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	cutoff := db.now().Add(-db.expiry)
	removed := 0
	for _, space := range []map[string]*Entry{db.socket, db.pubkey} {
		for k, e := range space {
			if e.LastSeen.Before(cutoff) {
				delete(space, k)
				removed++
			}
		}
	}
	return removed
}

// Len returns the total number of stored entries across both keyspaces.
func (db *DB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.socket) + len(db.pubkey)
}
