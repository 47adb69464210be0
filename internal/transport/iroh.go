package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// irohProtocolID is the stream protocol spoken over the public-key
// transport. Relay/hole-punching is handled by the underlying host.
const irohProtocolID = protocol.ID("/relaynet/frames/1.0.0")

// IrohTransport is the public-key-addressed transport: peers are dialed by
// node identity rather than socket address, and the host performs NAT
// traversal transparently. It doubles as its own Listener; inbound streams
// from a previously unseen peer surface as accepted connections.
type IrohTransport struct {
	host host.Host

	acceptCh chan *irohConn

	mu     sync.Mutex
	conns  map[peer.ID]*irohConn
	closed bool
}

// NewIrohTransport starts a host listening on the given multiaddr (for
// example "/ip4/0.0.0.0/tcp/4001") with best-effort NAT port mapping.
func NewIrohTransport(listenAddr string) (*IrohTransport, error) {
	if _, err := ma.NewMultiaddr(listenAddr); err != nil {
		return nil, err
	}
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, err
	}
	t := &IrohTransport{
		host:     h,
		acceptCh: make(chan *irohConn, 16),
		conns:    make(map[peer.ID]*irohConn),
	}
	h.SetStreamHandler(irohProtocolID, t.handleStream)
	return t, nil
}

// ID returns this node's public-key identity.
func (t *IrohTransport) ID() string { return t.host.ID().String() }

// Dial connects to a peer given either a full multiaddr containing a /p2p
// component or a bare node identity already present in the peerstore.
func (t *IrohTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	pid, err := t.resolve(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return t.connFor(pid, false), nil
}

func (t *IrohTransport) resolve(ctx context.Context, endpoint string) (peer.ID, error) {
	if pi, err := peer.AddrInfoFromString(endpoint); err == nil {
		if err := t.host.Connect(ctx, *pi); err != nil {
			return "", err
		}
		return pi.ID, nil
	}
	pid, err := peer.Decode(endpoint)
	if err != nil {
		return "", err
	}
	if err := t.host.Connect(ctx, peer.AddrInfo{ID: pid}); err != nil {
		return "", err
	}
	return pid, nil
}

// handleStream pumps frames off an inbound stream into the per-peer
// connection, creating and announcing the connection on first contact.
func (t *IrohTransport) handleStream(s network.Stream) {
	pid := s.Conn().RemotePeer()
	c := t.connFor(pid, true)
	for {
		buf, err := readFrame(s)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.Debugf("iroh stream from %s: %v", pid, err)
				_ = s.Reset()
				return
			}
			_ = s.Close()
			return
		}
		select {
		case c.inbound <- buf:
		case <-c.done:
			_ = s.Reset()
			return
		}
	}
}

func (t *IrohTransport) connFor(pid peer.ID, inbound bool) *irohConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[pid]; ok {
		return c
	}
	c := &irohConn{
		t:        t,
		peer:     pid,
		inbound:  make(chan []byte, 64),
		channels: make(map[uint64]network.Stream),
		done:     make(chan struct{}),
	}
	t.conns[pid] = c
	if inbound && !t.closed {
		select {
		case t.acceptCh <- c:
		default:
			logrus.Warnf("iroh accept backlog full, dropping peer %s", pid)
			delete(t.conns, pid)
		}
	}
	return c
}

func (t *IrohTransport) dropConn(pid peer.ID) {
	t.mu.Lock()
	delete(t.conns, pid)
	t.mu.Unlock()
}

// Accept implements Listener.
func (t *IrohTransport) Accept() (Conn, Addr, error) {
	c, ok := <-t.acceptCh
	if !ok {
		return nil, Addr{}, ErrClosed
	}
	return c, c.PeerAddr(), nil
}

// Addr implements Listener: the node identity is the address.
func (t *IrohTransport) Addr() Addr {
	return Addr{Type: Iroh, Endpoint: t.host.ID().String()}
}

// Close shuts the host down and with it every open connection.
func (t *IrohTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*irohConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	close(t.acceptCh)
	return t.host.Close()
}

// irohConn is one peer's connection over the public-key transport. Plain
// Send opens a fresh stream per message; SendOnChannel reuses a stream
// keyed by the channel id.
type irohConn struct {
	t    *IrohTransport
	peer peer.ID

	inbound chan []byte

	chanMu   sync.Mutex
	channels map[uint64]network.Stream

	done      chan struct{}
	closeOnce sync.Once
}

func (c *irohConn) Send(data []byte) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := c.t.host.NewStream(ctx, c.peer, irohProtocolID)
	if err != nil {
		return err
	}
	if err := writeFrame(s, data); err != nil {
		_ = s.Reset()
		return err
	}
	return s.Close()
}

func (c *irohConn) SendOnChannel(channel uint64, data []byte) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	c.chanMu.Lock()
	defer c.chanMu.Unlock()
	s, ok := c.channels[channel]
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		s, err = c.t.host.NewStream(ctx, c.peer, irohProtocolID)
		if err != nil {
			return err
		}
		c.channels[channel] = s
	}
	if err := writeFrame(s, data); err != nil {
		_ = s.Reset()
		delete(c.channels, channel)
		return err
	}
	return nil
}

func (c *irohConn) Recv() ([]byte, error) {
	select {
	case buf := <-c.inbound:
		return buf, nil
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *irohConn) PeerAddr() Addr {
	return Addr{Type: Iroh, Endpoint: c.peer.String()}
}

func (c *irohConn) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *irohConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.chanMu.Lock()
		for _, s := range c.channels {
			_ = s.Close()
		}
		c.channels = make(map[uint64]network.Stream)
		c.chanMu.Unlock()
		c.t.dropConn(c.peer)
		_ = c.t.host.Network().ClosePeer(c.peer)
	})
	return nil
}
