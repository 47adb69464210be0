// Package session tracks per-peer lifecycle: the version/verack handshake,
// advertised capabilities, per-peer rate limiting and the bounded set of
// inventory already offered by the peer.
package session

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"relaynet/internal/transport"
	"relaynet/internal/wire"
)

// HandshakeState is the per-peer handshake state machine.
type HandshakeState int

const (
	Fresh HandshakeState = iota
	VersionSent
	VersionReceived
	Verack
	Ready
	Closing
)

func (s HandshakeState) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case VersionSent:
		return "version-sent"
	case VersionReceived:
		return "version-received"
	case Verack:
		return "verack"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Errors returned by handshake and admission checks.
var (
	ErrNotReady         = errors.New("session: message before handshake completed")
	ErrDuplicateVersion = errors.New("session: duplicate version message")
	ErrRateLimited      = errors.New("session: rate limit exceeded")
	ErrClosing          = errors.New("session: closing")
)

// Limits configures the per-peer admission token bucket.
type Limits struct {
	Burst           int
	RefillPerSecond float64
	// BanWindow is the sliding window over which violations accumulate
	// toward an auto-ban.
	BanWindow time.Duration
	// BanThreshold is the violation count within BanWindow that triggers
	// an auto-ban.
	BanThreshold int
}

// DefaultLimits are the defaults applied when a field is zero.
var DefaultLimits = Limits{
	Burst:           100,
	RefillPerSecond: 10,
	BanWindow:       10 * time.Minute,
	BanThreshold:    3,
}

// expensiveMethodLimits throttles request types whose handling cost is far
// above a plain inventory message, independent of the per-peer bucket.
var expensiveMethodLimits = map[wire.Command]Limits{
	wire.CmdGetData:        {Burst: 20, RefillPerSecond: 4},
	wire.CmdGetHeaders:     {Burst: 10, RefillPerSecond: 2},
	wire.CmdGetCFilters:    {Burst: 10, RefillPerSecond: 2},
	wire.CmdGetCFHeaders:   {Burst: 10, RefillPerSecond: 2},
	wire.CmdGetUTXOSet:     {Burst: 4, RefillPerSecond: 1},
	wire.CmdGetFilteredBlk: {Burst: 4, RefillPerSecond: 1},
	wire.CmdPkgTxn:         {Burst: 10, RefillPerSecond: 2},
}

// knownInventorySize bounds the per-peer LRU of inventory hashes the peer
// has already offered.
const knownInventorySize = 8192

// PeerSession is the mutable state of one connected peer. It is owned by
// that peer's connection handler; the limiter and inventory set are not
// shared across peers.
type PeerSession struct {
	ID   string
	Addr transport.Addr

	mu sync.Mutex

	// Negotiated on handshake.
	services        Services
	protocolVersion int32
	userAgent       string
	startHeight     int32

	sentVersion bool
	gotVersion  bool
	gotVerack   bool
	closing     bool

	limiter        *rate.Limiter
	methodLimiters map[wire.Command]*rate.Limiter

	violations []time.Time
	banWindow  time.Duration
	banAfter   int

	known    *lru.Cache[wire.Hash, struct{}]
	lastSeen time.Time
}

// New creates a session for a peer reached at addr. Zero fields of limits
// fall back to DefaultLimits.
func New(addr transport.Addr, limits Limits) *PeerSession {
	if limits.Burst == 0 {
		limits.Burst = DefaultLimits.Burst
	}
	if limits.RefillPerSecond == 0 {
		limits.RefillPerSecond = DefaultLimits.RefillPerSecond
	}
	if limits.BanWindow == 0 {
		limits.BanWindow = DefaultLimits.BanWindow
	}
	if limits.BanThreshold == 0 {
		limits.BanThreshold = DefaultLimits.BanThreshold
	}

	known, _ := lru.New[wire.Hash, struct{}](knownInventorySize)
	ml := make(map[wire.Command]*rate.Limiter, len(expensiveMethodLimits))
	for cmd, l := range expensiveMethodLimits {
		ml[cmd] = rate.NewLimiter(rate.Limit(l.RefillPerSecond), l.Burst)
	}
	return &PeerSession{
		ID:             addr.String(),
		Addr:           addr,
		limiter:        rate.NewLimiter(rate.Limit(limits.RefillPerSecond), limits.Burst),
		methodLimiters: ml,
		banWindow:      limits.BanWindow,
		banAfter:       limits.BanThreshold,
		known:          known,
		lastSeen:       time.Now(),
	}
}

// State derives the handshake state from what has been sent and received.
func (p *PeerSession) State() HandshakeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *PeerSession) stateLocked() HandshakeState {
	switch {
	case p.closing:
		return Closing
	case p.gotVersion && p.gotVerack:
		return Ready
	case p.gotVerack:
		return Verack
	case p.gotVersion:
		return VersionReceived
	case p.sentVersion:
		return VersionSent
	default:
		return Fresh
	}
}

// MarkVersionSent records that our version message went out.
func (p *PeerSession) MarkVersionSent() {
	p.mu.Lock()
	p.sentVersion = true
	p.mu.Unlock()
}

// HandleVersion records the peer's version message. A second version
// message is a protocol violation.
func (p *PeerSession) HandleVersion(v *wire.VersionMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return ErrClosing
	}
	if p.gotVersion {
		return ErrDuplicateVersion
	}
	p.gotVersion = true
	p.services = Services(v.Services)
	p.protocolVersion = v.ProtocolVersion
	p.userAgent = v.UserAgent
	p.startHeight = v.StartHeight
	p.lastSeen = time.Now()
	return nil
}

// HandleVerack records the peer's verack.
func (p *PeerSession) HandleVerack() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return ErrClosing
	}
	p.gotVerack = true
	p.lastSeen = time.Now()
	return nil
}

// CheckReady rejects any command other than version/verack before the
// session reaches Ready. A rejection counts as a policy violation.
func (p *PeerSession) CheckReady(cmd wire.Command) error {
	if cmd == wire.CmdVersion || cmd == wire.CmdVerack {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stateLocked() != Ready {
		p.recordViolationLocked()
		return ErrNotReady
	}
	return nil
}

// IsReady reports whether the handshake completed.
func (p *PeerSession) IsReady() bool { return p.State() == Ready }

// BeginClose transitions the session to Closing; later admission fails.
func (p *PeerSession) BeginClose() {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()
}

// Services returns the peer's advertised service bitset.
func (p *PeerSession) Services() Services {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.services
}

// Supports reports whether the peer advertised the capability flag.
func (p *PeerSession) Supports(flag ServiceFlag) bool {
	return p.Services().Has(flag)
}

// ProtocolVersion returns the peer's advertised protocol version.
func (p *PeerSession) ProtocolVersion() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.protocolVersion
}

// UserAgent returns the peer's advertised user agent.
func (p *PeerSession) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent
}

// StartHeight returns the peer's advertised chain height.
func (p *PeerSession) StartHeight() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startHeight
}

// Admit consumes a token for one inbound message, plus a method token when
// cmd is one of the expensive request types. On exhaustion the message is
// dropped by the caller and a violation accumulates.
func (p *PeerSession) Admit(cmd wire.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return ErrClosing
	}
	p.lastSeen = time.Now()
	if !p.limiter.Allow() {
		p.recordViolationLocked()
		return ErrRateLimited
	}
	if ml, ok := p.methodLimiters[cmd]; ok && !ml.Allow() {
		p.recordViolationLocked()
		return ErrRateLimited
	}
	return nil
}

// RecordViolation counts a policy violation from outside the admission
// path, such as a malformed frame or an unexpected handshake message.
func (p *PeerSession) RecordViolation() {
	p.mu.Lock()
	p.recordViolationLocked()
	p.mu.Unlock()
}

func (p *PeerSession) recordViolationLocked() {
	now := time.Now()
	cutoff := now.Add(-p.banWindow)
	kept := p.violations[:0]
	for _, ts := range p.violations {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	p.violations = append(kept, now)
}

// Violations returns the violation count within the ban window.
func (p *PeerSession) Violations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.banWindow)
	n := 0
	for _, ts := range p.violations {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// ShouldBan reports whether the violation count reached the auto-ban
// threshold within the window.
func (p *PeerSession) ShouldBan() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.banWindow)
	n := 0
	for _, ts := range p.violations {
		if ts.After(cutoff) {
			n++
		}
	}
	return n >= p.banAfter
}

// RecordInventory notes that the peer offered hash. It reports whether the
// hash was new for this peer.
func (p *PeerSession) RecordInventory(h wire.Hash) bool {
	ok, _ := p.known.ContainsOrAdd(h, struct{}{})
	return !ok
}

// HasInventory reports whether the peer already offered hash.
func (p *PeerSession) HasInventory(h wire.Hash) bool {
	return p.known.Contains(h)
}

// KnownInventoryLen returns the current size of the known-inventory LRU.
func (p *PeerSession) KnownInventoryLen() int { return p.known.Len() }

// LastSeen returns the time of the last admitted message.
func (p *PeerSession) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}
