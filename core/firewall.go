package core

import (
	"errors"
	"net"
	"sync"
)

// PeerID names a peer for firewall rules: the transport-tagged address
// string used as the session identifier.
type PeerID string

var (
	firewallOnce   sync.Once
	globalFirewall *Firewall
)

// InitFirewall initialises the global firewall instance used by the CLI.
func InitFirewall() {
	firewallOnce.Do(func() { globalFirewall = NewFirewall() })
}

// CurrentFirewall returns the global firewall if initialised.
func CurrentFirewall() *Firewall { return globalFirewall }

// Errors returned by Firewall's admission checks.
var (
	ErrPeerBlocked = errors.New("firewall: peer blocked")
	ErrIPBlocked   = errors.New("firewall: ip blocked")
)

// Firewall is the connection-admission gate consulted before any session
// state is created, at accept time and at connect time. It layers two rule
// sets: operator-managed entries added through the CLI, and entries synced
// from the ban list (local auto-bans plus imported shared ban lists).
// Sync replaces only the synced set, so manual rules survive ban expiry.
type Firewall struct {
	mu     sync.RWMutex
	manual map[PeerID]struct{}
	synced map[PeerID]struct{}
	ips    map[string]struct{}
}

// NewFirewall constructs an empty firewall instance.
func NewFirewall() *Firewall {
	return &Firewall{
		manual: make(map[PeerID]struct{}),
		synced: make(map[PeerID]struct{}),
		ips:    make(map[string]struct{}),
	}
}

// BlockPeer adds an operator rule for a peer.
func (fw *Firewall) BlockPeer(id PeerID) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.manual[id] = struct{}{}
}

// UnblockPeer removes an operator rule.
func (fw *Firewall) UnblockPeer(id PeerID) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.manual, id)
}

// IsPeerBlocked checks both rule sets.
func (fw *Firewall) IsPeerBlocked(id PeerID) bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	if _, ok := fw.manual[id]; ok {
		return true
	}
	_, ok := fw.synced[id]
	return ok
}

// BlockIP bans a peer IP address from network participation.
func (fw *Firewall) BlockIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return errors.New("firewall: invalid ip")
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.ips[ip] = struct{}{}
	return nil
}

// UnblockIP removes an IP from the banned list.
func (fw *Firewall) UnblockIP(ip string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.ips, ip)
}

// IsIPBlocked checks if an IP is blocked.
func (fw *Firewall) IsIPBlocked(ip string) bool {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	_, ok := fw.ips[ip]
	return ok
}

// FirewallRules snapshots all current rules for inspection, e.g. for the
// CLI's firewall list command.
type FirewallRules struct {
	Peers []PeerID
	IPs   []string
}

// ListRules returns the blocked peer ids (both rule sets) and IPs.
func (fw *Firewall) ListRules() FirewallRules {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	rules := FirewallRules{}
	for id := range fw.manual {
		rules.Peers = append(rules.Peers, id)
	}
	for id := range fw.synced {
		if _, dup := fw.manual[id]; !dup {
			rules.Peers = append(rules.Peers, id)
		}
	}
	for ip := range fw.ips {
		rules.IPs = append(rules.IPs, ip)
	}
	return rules
}

// CheckPeer is the admission gate: it rejects a peer on either the peer
// or IP block list.
func (fw *Firewall) CheckPeer(id PeerID, ip string) error {
	if fw.IsPeerBlocked(id) {
		return ErrPeerBlocked
	}
	if ip != "" && fw.IsIPBlocked(ip) {
		return ErrIPBlocked
	}
	return nil
}

// Sync replaces the ban-derived rule set with entries drawn from the ban
// list's current view, leaving operator rules untouched.
func (fw *Firewall) Sync(banned []PeerID) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.synced = make(map[PeerID]struct{}, len(banned))
	for _, id := range banned {
		fw.synced[id] = struct{}{}
	}
}
