package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN tags this protocol during the QUIC TLS handshake.
const quicALPN = "relaynet/1"

// quinnConn is a direct-QUIC connection. Each logical message rides its own
// unidirectional stream so one slow message never blocks another; the
// channel id therefore always opens a fresh stream rather than reusing one.
type quinnConn struct {
	conn quic.Connection
}

// DialQuinn connects to a remote "host:port" endpoint over QUIC. Remote
// certificates are self-signed by convention and not verified.
func DialQuinn(ctx context.Context, endpoint string) (Conn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
	c, err := quic.DialAddr(ctx, endpoint, tlsConf, &quic.Config{})
	if err != nil {
		return nil, err
	}
	return &quinnConn{conn: c}, nil
}

func (c *quinnConn) Send(data []byte) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return err
	}
	if err := writeFrame(s, data); err != nil {
		s.CancelWrite(0)
		return err
	}
	return s.Close()
}

// SendOnChannel opens a fresh stream per message even when a channel id is
// given: stream reuse would reintroduce cross-message head-of-line blocking.
func (c *quinnConn) SendOnChannel(_ uint64, data []byte) error { return c.Send(data) }

func (c *quinnConn) Recv() ([]byte, error) {
	if !c.IsConnected() {
		return nil, ErrClosed
	}
	s, err := c.conn.AcceptUniStream(context.Background())
	if err != nil {
		return nil, err
	}
	buf, err := readFrame(s)
	if err != nil {
		s.CancelRead(0)
		return nil, err
	}
	return buf, nil
}

func (c *quinnConn) PeerAddr() Addr {
	return Addr{Type: Quinn, Endpoint: c.conn.RemoteAddr().String()}
}

func (c *quinnConn) IsConnected() bool { return c.conn.Context().Err() == nil }

func (c *quinnConn) Close() error {
	return c.conn.CloseWithError(0, "closed")
}

type quinnListener struct {
	ln *quic.Listener
}

// ListenQuinn binds a QUIC listener on the given UDP endpoint using a
// freshly generated self-signed certificate.
func ListenQuinn(endpoint string) (Listener, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(endpoint, tlsConf, &quic.Config{})
	if err != nil {
		return nil, err
	}
	return &quinnListener{ln: ln}, nil
}

func (l *quinnListener) Accept() (Conn, Addr, error) {
	c, err := l.ln.Accept(context.Background())
	if err != nil {
		return nil, Addr{}, err
	}
	conn := &quinnConn{conn: c}
	return conn, conn.PeerAddr(), nil
}

func (l *quinnListener) Addr() Addr {
	return Addr{Type: Quinn, Endpoint: l.ln.Addr().String()}
}

func (l *quinnListener) Close() error { return l.ln.Close() }

// selfSignedTLSConfig generates a throwaway P-256 certificate for the QUIC
// handshake. Peer identity is not derived from certificates on this
// transport, so the certificate only needs to satisfy TLS.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), crand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"relaynet"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(crand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		NextProtos: []string{quicALPN},
	}, nil
}
