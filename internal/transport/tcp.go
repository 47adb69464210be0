package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// tcpConn frames a single TCP byte stream into length-prefixed messages.
// The channel id on SendOnChannel is ignored: TCP carries no substreams.
type tcpConn struct {
	conn net.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex

	mu     sync.Mutex
	closed bool
}

// DialTCP connects to a remote "host:port" endpoint over plain TCP.
func DialTCP(ctx context.Context, endpoint string) (Conn, error) {
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	c, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, err
	}
	return &tcpConn{conn: c}, nil
}

func (c *tcpConn) Send(data []byte) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.conn, data); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

func (c *tcpConn) SendOnChannel(_ uint64, data []byte) error { return c.Send(data) }

func (c *tcpConn) Recv() ([]byte, error) {
	if !c.IsConnected() {
		return nil, ErrClosed
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	buf, err := readFrame(c.conn)
	if err != nil {
		c.markClosed()
		_ = c.conn.Close()
		return nil, err
	}
	return buf, nil
}

func (c *tcpConn) PeerAddr() Addr {
	return Addr{Type: TCP, Endpoint: c.conn.RemoteAddr().String()}
}

func (c *tcpConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *tcpConn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Close is idempotent.
func (c *tcpConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

type tcpListener struct {
	ln net.Listener
}

// ListenTCP binds a local TCP socket and returns its listener.
func ListenTCP(endpoint string) (Listener, error) {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept() (Conn, Addr, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, Addr{}, err
	}
	conn := &tcpConn{conn: c}
	return conn, conn.PeerAddr(), nil
}

func (l *tcpListener) Addr() Addr {
	return Addr{Type: TCP, Endpoint: l.ln.Addr().String()}
}

func (l *tcpListener) Close() error { return l.ln.Close() }
