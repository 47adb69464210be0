// Package router is the network manager: it owns the transports' accept
// loops, the per-connection read loops, message dispatch into the relay
// engines, the DoS gates in front of dispatch, and the request/response
// correlation that routes extension-message replies back to their
// asynchronous callers.
package router

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"relaynet/core"
	"relaynet/internal/chainaccess"
	"relaynet/internal/netaddr"
	"relaynet/internal/relay/compact"
	"relaynet/internal/relay/dandelion"
	"relaynet/internal/relay/fibre"
	"relaynet/internal/relay/filters"
	"relaynet/internal/relay/inventory"
	"relaynet/internal/relay/pkgrelay"
	"relaynet/internal/session"
	"relaynet/internal/transport"
	"relaynet/internal/wire"
)

// EventKind tags entries on the manager's event channel.
type EventKind int

const (
	PeerConnected EventKind = iota
	PeerDisconnected
)

// Event is one lifecycle notification.
type Event struct {
	Kind EventKind
	Peer string
}

// eventBacklog is the high-water mark on the event channel; beyond it new
// accepts are refused until the consumer drains.
const eventBacklog = 4096

// ipConnRate is the per-IP connection admission rate at accept time.
var ipConnRate = session.Limits{Burst: 5, RefillPerSecond: 1}

// Config is the router's tunable surface.
type Config struct {
	Network     wire.Network
	ListenTCP   string
	ListenQuinn string
	ListenIroh  string
	// Transports is the preference-ordered set to bring up; TCP is always
	// included.
	Transports []transport.Type

	MaxPeers int
	// TargetOutbound is the peer count the discovery loop dials toward;
	// zero disables discovery.
	TargetOutbound int
	// EnablePortMapping turns on gateway NAT mapping for the TCP listen
	// port, with STUN reflexive discovery as the fallback.
	EnablePortMapping bool
	// STUNServer is the fallback endpoint-discovery server used when no
	// NAT gateway protocol is available.
	STUNServer     string
	Limits         session.Limits
	RequestTimeout time.Duration
	Dandelion      dandelion.Config
	PackagePolicy  pkgrelay.Config

	Services    session.Services
	UserAgent   string
	ProtocolVer int32
}

// UTXOCommitmentSource serves UTXO-commitment requests; nil disables the
// service.
type UTXOCommitmentSource interface {
	CommitmentAt(height uint64, blockHash wire.Hash) (commitment []byte, utxoCount uint64, ok bool)
}

// Deps are the external collaborators the router drives.
type Deps struct {
	Chain     chainaccess.ChainStateAccess
	Consensus chainaccess.ConsensusEngine
	Filters   *filters.Server
	UTXO      UTXOCommitmentSource
	// Seeds resolves DNS seed hostnames for the discovery loop; nil
	// limits discovery to address-database candidates.
	Seeds *netaddr.SeedResolver
	// BanShareKey signs exported ban lists; nil disables getbanlist
	// serving.
	BanShareKey *btcec.PrivateKey
}

// peerConn binds a session to its connection and per-peer relay knobs.
type peerConn struct {
	connID string
	sess   *session.PeerSession
	conn   transport.Conn

	mu            sync.Mutex
	feeFilter     uint64
	preferCompact bool
	cmpctVersion  uint64
	packageRelay  bool
}

// Manager wires transports, sessions, relay engines and the pending
// request table together.
type Manager struct {
	cfg  Config
	deps Deps
	log  *logrus.Logger

	Inventory *inventory.Manager
	Dandelion *dandelion.Relay
	Fibre     *fibre.Relay
	Bans      *netaddr.BanList
	Addrs     *netaddr.DB
	Firewall  *core.Firewall

	requests *requestTable

	mu        sync.Mutex
	peers     map[string]*peerConn
	listeners []transport.Listener
	iroh      *transport.IrohTransport
	mapper    *transport.PortMapper
	// reconstructions tracks compact blocks awaiting a blocktxn reply.
	reconstructions map[wire.Hash]*compact.Reconstruction

	ipMu       sync.Mutex
	ipLimiters map[string]*rate.Limiter

	events chan Event
	height atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a router; Start brings the transports up.
func NewManager(cfg Config, deps Deps, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:             cfg,
		deps:            deps,
		log:             logger,
		Inventory:       inventory.NewManager(),
		Dandelion:       dandelion.New(cfg.Dandelion, nil, nil),
		Fibre:           fibre.NewRelay(0),
		Bans:            netaddr.NewBanList(),
		Addrs:           netaddr.NewDB(0, 0),
		Firewall:        core.NewFirewall(),
		requests:        newRequestTable(),
		peers:           make(map[string]*peerConn),
		reconstructions: make(map[wire.Hash]*compact.Reconstruction),
		ipLimiters:      make(map[string]*rate.Limiter),
		events:          make(chan Event, eventBacklog),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// SetHeight records the chain tip height used for mempool admission.
func (m *Manager) SetHeight(h uint32) { m.height.Store(h) }

// Events exposes the lifecycle event stream.
func (m *Manager) Events() <-chan Event { return m.events }

// Start brings up every permitted transport, degrading gracefully: a
// transport that fails to bind is logged and skipped, and startup fails
// only when no transport came up at all.
func (m *Manager) Start() error {
	wanted := m.cfg.Transports
	if len(wanted) == 0 {
		wanted = []transport.Type{transport.TCP}
	}
	for _, t := range wanted {
		ln, err := m.listen(t)
		if err != nil {
			m.log.Warnf("transport %s failed to start: %v", t, err)
			continue
		}
		m.mu.Lock()
		m.listeners = append(m.listeners, ln)
		m.mu.Unlock()
		go m.acceptLoop(ln)
		m.log.Infof("listening on %s", ln.Addr())
	}
	m.mu.Lock()
	up := len(m.listeners)
	m.mu.Unlock()
	if up == 0 {
		return errors.New("router: all permitted transports failed to start")
	}
	if m.cfg.EnablePortMapping {
		go m.mapListenPort()
	}
	go m.maintenanceLoop()
	if m.cfg.TargetOutbound > 0 {
		go m.discoveryLoop()
	}
	return nil
}

// mapListenPort makes the TCP listen port reachable from outside: gateway
// NAT-PMP/UPnP mapping first, STUN reflexive candidates as the fallback
// when no gateway protocol answers.
func (m *Manager) mapListenPort() {
	port := 0
	for _, addr := range m.ListenerAddrs() {
		if addr.Type != transport.TCP {
			continue
		}
		if _, p, err := net.SplitHostPort(addr.Endpoint); err == nil {
			port, _ = strconv.Atoi(p)
		}
	}
	if port == 0 {
		return
	}
	mapper, err := transport.DiscoverGateway()
	if err == nil {
		if err := mapper.Map(port); err != nil {
			m.log.Warnf("nat port mapping: %v", err)
			return
		}
		m.mu.Lock()
		m.mapper = mapper
		m.mu.Unlock()
		m.log.Infof("reachable at %s via nat mapping", mapper.ExternalEndpoint())
		return
	}
	m.log.Debugf("nat gateway discovery: %v", err)
	candidates, err := transport.ReflexiveCandidates(m.ctx, m.cfg.STUNServer)
	if err != nil {
		m.log.Debugf("stun candidate gathering: %v", err)
		return
	}
	if len(candidates) > 0 {
		m.log.Infof("reflexive candidates: %v", candidates)
	}
}

func (m *Manager) listen(t transport.Type) (transport.Listener, error) {
	switch t {
	case transport.TCP:
		return transport.ListenTCP(m.cfg.ListenTCP)
	case transport.Quinn:
		return transport.ListenQuinn(m.cfg.ListenQuinn)
	case transport.Iroh:
		it, err := transport.NewIrohTransport(m.cfg.ListenIroh)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.iroh = it
		m.mu.Unlock()
		return it, nil
	default:
		return nil, fmt.Errorf("router: unknown transport %d", t)
	}
}

// Close tears the manager down: listeners, connections, loops.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	if m.mapper != nil {
		_ = m.mapper.Unmap()
		m.mapper = nil
	}
	listeners := m.listeners
	m.listeners = nil
	peers := make([]*peerConn, 0, len(m.peers))
	for _, pc := range m.peers {
		peers = append(peers, pc)
	}
	m.mu.Unlock()
	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, pc := range peers {
		m.disconnect(pc, "shutdown")
	}
}

func (m *Manager) acceptLoop(ln transport.Listener) {
	for {
		conn, addr, err := ln.Accept()
		if err != nil {
			if m.ctx.Err() == nil {
				m.log.Warnf("accept on %s: %v", ln.Addr(), err)
			}
			return
		}
		go m.admitInbound(conn, addr)
	}
}

// admitInbound runs the accept-time gates in order: ban list, per-IP
// connection rate, connection cap, event backlog. A refused connection is
// closed before any session state exists.
func (m *Manager) admitInbound(conn transport.Conn, addr transport.Addr) {
	if m.Bans.IsBanned(addr) {
		_ = conn.Close()
		return
	}
	if err := m.Firewall.CheckPeer(core.PeerID(addr.String()), hostOf(addr)); err != nil {
		m.log.Debugf("firewall refused %s: %v", addr, err)
		_ = conn.Close()
		return
	}
	if !m.allowIP(addr) {
		m.log.Debugf("connection rate exceeded for %s", addr)
		_ = conn.Close()
		return
	}
	m.mu.Lock()
	full := len(m.peers) >= m.cfg.MaxPeers
	m.mu.Unlock()
	if full || len(m.events) >= eventBacklog-1 {
		m.log.Debugf("refusing %s: at capacity", addr)
		_ = conn.Close()
		return
	}
	m.startPeer(conn, addr)
}

// hostOf extracts the host portion of a socket endpoint; for public-key
// addresses the identity itself is returned.
func hostOf(addr transport.Addr) string {
	if h, _, err := net.SplitHostPort(addr.Endpoint); err == nil {
		return h
	}
	return addr.Endpoint
}

// allowIP applies the per-IP accept-rate limiter.
func (m *Manager) allowIP(addr transport.Addr) bool {
	host := hostOf(addr)
	m.ipMu.Lock()
	lim, ok := m.ipLimiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(ipConnRate.RefillPerSecond), ipConnRate.Burst)
		m.ipLimiters[host] = lim
	}
	m.ipMu.Unlock()
	return lim.Allow()
}

// Connect dials a peer. A banned address fails before any session state
// is created.
func (m *Manager) Connect(ctx context.Context, addr transport.Addr) (string, error) {
	if m.Bans.IsBanned(addr) {
		return "", fmt.Errorf("router: %s is banned", addr)
	}
	if err := m.Firewall.CheckPeer(core.PeerID(addr.String()), hostOf(addr)); err != nil {
		return "", err
	}
	var (
		conn transport.Conn
		err  error
	)
	switch addr.Type {
	case transport.TCP:
		conn, err = transport.DialTCP(ctx, addr.Endpoint)
	case transport.Quinn:
		conn, err = transport.DialQuinn(ctx, addr.Endpoint)
	case transport.Iroh:
		m.mu.Lock()
		it := m.iroh
		m.mu.Unlock()
		if it == nil {
			return "", errors.New("router: iroh transport not started")
		}
		conn, err = it.Dial(ctx, addr.Endpoint)
	default:
		return "", fmt.Errorf("router: unknown transport %d", addr.Type)
	}
	if err != nil {
		return "", err
	}
	pc := m.startPeer(conn, conn.PeerAddr())
	return pc.sess.ID, nil
}

// startPeer creates the session, sends our version and spawns the read
// loop.
func (m *Manager) startPeer(conn transport.Conn, addr transport.Addr) *peerConn {
	sess := session.New(addr, m.cfg.Limits)
	pc := &peerConn{connID: uuid.NewString(), sess: sess, conn: conn}
	m.mu.Lock()
	if old, ok := m.peers[sess.ID]; ok {
		m.mu.Unlock()
		m.disconnect(old, "replaced")
		m.mu.Lock()
	}
	m.peers[sess.ID] = pc
	m.mu.Unlock()

	m.sendVersion(pc)
	m.events <- Event{Kind: PeerConnected, Peer: sess.ID}
	go m.readLoop(pc)
	return pc
}

func (m *Manager) sendVersion(pc *peerConn) {
	v := &wire.VersionMsg{
		ProtocolVersion: m.cfg.ProtocolVer,
		Services:        uint64(m.cfg.Services),
		Timestamp:       time.Now().Unix(),
		Nonce:           handshakeNonce(),
		UserAgent:       m.cfg.UserAgent,
		StartHeight:     int32(m.height.Load()),
	}
	if err := m.send(pc, v); err != nil {
		m.log.Debugf("send version to %s: %v", pc.sess.ID, err)
		return
	}
	pc.sess.MarkVersionSent()
}

// handshakeNonce derives a random 64-bit handshake nonce.
func handshakeNonce() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// send serializes msg into the wire envelope and writes one frame.
func (m *Manager) send(pc *peerConn, msg wire.Message) error {
	frame, err := wire.Encode(m.cfg.Network, msg.Command(), msg.Encode())
	if err != nil {
		return err
	}
	return pc.conn.Send(frame)
}

// sendOnChannel is send over a keyed substream for multiplexing-capable
// transports; block-sized replies use it so they never head-of-line-block
// the control stream.
func (m *Manager) sendOnChannel(pc *peerConn, channel uint64, msg wire.Message) error {
	frame, err := wire.Encode(m.cfg.Network, msg.Command(), msg.Encode())
	if err != nil {
		return err
	}
	return pc.conn.SendOnChannel(channel, frame)
}

// readLoop processes one peer's inbound messages strictly in receive
// order. Codec and protocol errors close the connection; policy errors
// drop the message and advance the ban progression.
func (m *Manager) readLoop(pc *peerConn) {
	for {
		frame, err := pc.conn.Recv()
		if err != nil {
			m.disconnect(pc, fmt.Sprintf("recv: %v", err))
			return
		}
		env, err := wire.Decode(m.cfg.Network, frame)
		if err != nil {
			pc.sess.RecordViolation()
			m.maybeBan(pc, "codec violation")
			m.disconnect(pc, fmt.Sprintf("decode: %v", err))
			return
		}
		if err := pc.sess.Admit(env.Command); err != nil {
			if errors.Is(err, session.ErrRateLimited) {
				if m.maybeBan(pc, "rate limit") {
					m.disconnect(pc, "rate-limit auto-ban")
					return
				}
				continue // message dropped
			}
			m.disconnect(pc, err.Error())
			return
		}
		if err := pc.sess.CheckReady(env.Command); err != nil {
			m.maybeBan(pc, "handshake violation")
			m.disconnect(pc, fmt.Sprintf("%s before ready", env.Command))
			return
		}
		msg, err := wire.ParseMessage(env)
		if err != nil {
			pc.sess.RecordViolation()
			m.maybeBan(pc, "malformed payload")
			m.disconnect(pc, fmt.Sprintf("parse %s: %v", env.Command, err))
			return
		}
		if err := m.dispatch(pc, msg); err != nil {
			pc.sess.RecordViolation()
			m.maybeBan(pc, "protocol violation")
			m.disconnect(pc, fmt.Sprintf("dispatch %s: %v", env.Command, err))
			return
		}
	}
}

// maybeBan applies the auto-ban once the violation threshold is crossed
// and reports whether it fired.
func (m *Manager) maybeBan(pc *peerConn, reason string) bool {
	if !pc.sess.ShouldBan() {
		return false
	}
	m.Bans.BanFor(pc.sess.Addr, netaddr.DefaultBanDuration, reason)
	m.syncFirewall()
	m.log.Infof("auto-banned %s: %s", pc.sess.ID, reason)
	return true
}

// syncFirewall pushes the ban list's current view into the firewall's
// synced rule set; operator rules are untouched.
func (m *Manager) syncFirewall() {
	bans := m.Bans.Snapshot()
	ids := make([]core.PeerID, 0, len(bans))
	for _, b := range bans {
		ids = append(ids, core.PeerID(b.Addr.String()))
	}
	m.Firewall.Sync(ids)
}

// disconnect tears one peer down and purges its relay state. Pending
// requests against the peer are left to resolve by timeout.
func (m *Manager) disconnect(pc *peerConn, reason string) {
	pc.sess.BeginClose()
	_ = pc.conn.Close()
	m.mu.Lock()
	cur, ok := m.peers[pc.sess.ID]
	if ok && cur == pc {
		delete(m.peers, pc.sess.ID)
	}
	m.mu.Unlock()
	if ok && cur == pc {
		m.Inventory.PurgePeer(pc.sess.ID)
		m.Fibre.UnregisterPeer(pc.sess.ID)
		select {
		case m.events <- Event{Kind: PeerDisconnected, Peer: pc.sess.ID}:
		default:
		}
		m.log.Debugf("disconnected %s (%s): %s", pc.sess.ID, pc.connID, reason)
	}
}

// RegisterRequest allocates a request id expected to be answered by peer
// and returns it with the response future. Serializing and sending the
// outbound message that carries the id is the caller's separate step, so
// a send failure and a missing reply stay distinguishable.
func (m *Manager) RegisterRequest(peer string) (uint32, <-chan Response) {
	return m.requests.register(peer, m.cfg.RequestTimeout)
}

// CancelRequest removes a pending request on behalf of its caller.
func (m *Manager) CancelRequest(id uint32) { m.requests.cancel(id) }

// PendingRequests returns the number of outstanding requests.
func (m *Manager) PendingRequests() int { return m.requests.size() }

// Peer returns the live connection state for id.
func (m *Manager) peer(id string) (*peerConn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.peers[id]
	return pc, ok
}

// FeeFilterOf returns the minimum fee rate the peer asked to receive
// transaction announcements for, consumed by the mempool collaborator
// when it selects what to announce.
func (m *Manager) FeeFilterOf(peer string) (uint64, bool) {
	pc, ok := m.peer(peer)
	if !ok {
		return 0, false
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.feeFilter, true
}

// Session returns the session state for a connected peer.
func (m *Manager) Session(peer string) (*session.PeerSession, bool) {
	pc, ok := m.peer(peer)
	if !ok {
		return nil, false
	}
	return pc.sess, true
}

// ListenerAddrs returns the bound address of every running listener.
func (m *Manager) ListenerAddrs() []transport.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transport.Addr, 0, len(m.listeners))
	for _, ln := range m.listeners {
		out = append(out, ln.Addr())
	}
	return out
}

// PeerCount returns the number of live peer connections.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// SendTo serializes msg to the named peer.
func (m *Manager) SendTo(peer string, msg wire.Message) error {
	pc, ok := m.peer(peer)
	if !ok {
		return fmt.Errorf("router: unknown peer %s", peer)
	}
	return m.send(pc, msg)
}

// readyPeers snapshots the sessions that completed the handshake,
// excluding any named peer.
func (m *Manager) readyPeers(except string) []*peerConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*peerConn, 0, len(m.peers))
	for id, pc := range m.peers {
		if id == except || !pc.sess.IsReady() {
			continue
		}
		out = append(out, pc)
	}
	return out
}

// maintenanceLoop drives the periodic housekeeping: Dandelion timeout
// transitions, inventory GC, ban pruning and address expiry.
func (m *Manager) maintenanceLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			for _, tx := range m.Dandelion.CheckTransitions() {
				m.broadcastInv(wire.InventoryItem{Type: wire.InvTx, Hash: tx}, "")
			}
			m.Dandelion.GC()
			for range m.Inventory.GC(0) {
			}
			if m.Bans.Prune() > 0 {
				m.syncFirewall()
			}
			m.Addrs.Expire()
		}
	}
}

// broadcastInv announces one item to every ready peer except the source.
func (m *Manager) broadcastInv(item wire.InventoryItem, except string) {
	msg := &wire.InvMsg{Items: []wire.InventoryItem{item}}
	for _, pc := range m.readyPeers(except) {
		if pc.sess.HasInventory(item.Hash) {
			continue
		}
		if err := m.send(pc, msg); err != nil {
			m.log.Debugf("inv to %s: %v", pc.sess.ID, err)
		}
	}
}

// Stats exposes the relay counters consumed by the health logger.
type Stats struct{ m *Manager }

// Stats returns a live stats view over the manager.
func (m *Manager) Stats() *Stats { return &Stats{m: m} }

func (s *Stats) PendingTransactions() int { return s.m.Inventory.PendingSize() }
func (s *Stats) StemQueueDepth() int      { return s.m.Dandelion.StemDepth() }
func (s *Stats) KnownInventorySize() int  { return s.m.Inventory.KnownSize() }
