package netaddr

import (
	"sort"
	"sync"
	"time"

	"relaynet/internal/transport"
)

// PermanentBan marks a ban that never expires.
const PermanentBan = ^uint64(0)

// DefaultBanDuration is applied to auto-bans from repeated violations.
const DefaultBanDuration = time.Hour

// Ban is one ban-list record.
type Ban struct {
	Addr           transport.Addr
	UnbanTimestamp uint64 // unix seconds; PermanentBan means forever
	Reason         string
}

// Permanent reports whether the ban never expires.
func (b Ban) Permanent() bool { return b.UnbanTimestamp == PermanentBan }

// BanList is the local ban store, enforced before any session state is
// created, at accept time and at connect time.
type BanList struct {
	mu      sync.Mutex
	entries map[string]Ban
	now     func() time.Time
}

// NewBanList creates an empty ban list.
func NewBanList() *BanList {
	return &BanList{entries: make(map[string]Ban), now: time.Now}
}

// Add inserts or extends a ban. Permanent bans dominate temporary ones;
// among temporary bans the longer one wins; reasons are concatenated when
// both entries carry one.
func (bl *BanList) Add(b Ban) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	key := b.Addr.String()
	cur, ok := bl.entries[key]
	if !ok {
		bl.entries[key] = b
		return
	}
	bl.entries[key] = mergeBans(cur, b)
}

func mergeBans(a, b Ban) Ban {
	out := a
	switch {
	case a.Permanent():
	case b.Permanent():
		out.UnbanTimestamp = PermanentBan
	case b.UnbanTimestamp > a.UnbanTimestamp:
		out.UnbanTimestamp = b.UnbanTimestamp
	}
	if b.Reason != "" && b.Reason != a.Reason {
		if out.Reason == "" {
			out.Reason = b.Reason
		} else {
			out.Reason = out.Reason + "; " + b.Reason
		}
	}
	return out
}

// BanFor bans addr for the given duration with a reason.
func (bl *BanList) BanFor(addr transport.Addr, d time.Duration, reason string) {
	bl.Add(Ban{
		Addr:           addr,
		UnbanTimestamp: uint64(bl.now().Add(d).Unix()),
		Reason:         reason,
	})
}

// IsBanned reports whether addr is currently banned. Expired entries are
// removed on the way.
func (bl *BanList) IsBanned(addr transport.Addr) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	key := addr.String()
	b, ok := bl.entries[key]
	if !ok {
		return false
	}
	if !b.Permanent() && uint64(bl.now().Unix()) >= b.UnbanTimestamp {
		delete(bl.entries, key)
		return false
	}
	return true
}

// Remove lifts a ban explicitly.
func (bl *BanList) Remove(addr transport.Addr) {
	bl.mu.Lock()
	delete(bl.entries, addr.String())
	bl.mu.Unlock()
}

// Prune drops every expired entry and returns the number removed.
func (bl *BanList) Prune() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	now := uint64(bl.now().Unix())
	removed := 0
	for k, b := range bl.entries {
		if !b.Permanent() && now >= b.UnbanTimestamp {
			delete(bl.entries, k)
			removed++
		}
	}
	return removed
}

// Snapshot returns the current entries sorted by address bytes so that
// downstream hashing and signing are deterministic.
func (bl *BanList) Snapshot() []Ban {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	out := make([]Ban, 0, len(bl.entries))
	for _, b := range bl.entries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Addr.Type != out[j].Addr.Type {
			return out[i].Addr.Type < out[j].Addr.Type
		}
		return out[i].Addr.Endpoint < out[j].Addr.Endpoint
	})
	return out
}

// Len returns the number of entries, including any not yet pruned.
func (bl *BanList) Len() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return len(bl.entries)
}
