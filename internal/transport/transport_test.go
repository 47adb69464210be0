package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func tcpPair(t *testing.T) (Conn, Conn, func()) {
	t.Helper()
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP failed: %v", err)
	}
	type accepted struct {
		conn Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		c, _, err := ln.Accept()
		ch <- accepted{conn: c, err: err}
	}()
	client, err := DialTCP(context.Background(), ln.Addr().Endpoint)
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	acc := <-ch
	if acc.err != nil {
		t.Fatalf("Accept failed: %v", acc.err)
	}
	return client, acc.conn, func() {
		client.Close()
		acc.conn.Close()
		ln.Close()
	}
}

func TestTCPRoundTrip(t *testing.T) {
	client, server, cleanup := tcpPair(t)
	defer cleanup()

	payload := []byte("hello frames")
	if err := client.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: %q != %q", got, payload)
	}
}

func TestTCPSendOnChannelCollapses(t *testing.T) {
	client, server, cleanup := tcpPair(t)
	defer cleanup()

	if err := client.SendOnChannel(7, []byte("via channel")); err != nil {
		t.Fatalf("SendOnChannel failed: %v", err)
	}
	got, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(got) != "via channel" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestOversizedFrameRejectedBeforeAllocation(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP failed: %v", err)
	}
	defer ln.Close()

	errCh := make(chan error, 1)
	go func() {
		c, _, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		_, err = c.Recv()
		errCh <- err
	}()

	raw, err := net.Dial("tcp", ln.Addr().Endpoint)
	if err != nil {
		t.Fatalf("raw dial failed: %v", err)
	}
	defer raw.Close()

	// Length prefix one byte beyond the ceiling; no payload follows.
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
	if _, err := raw.Write(prefix[:]); err != nil {
		t.Fatalf("write prefix failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrFrameTooLarge {
			t.Fatalf("expected ErrFrameTooLarge, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not reject oversized frame")
	}
}

func TestFrameBoundary(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, 1024)
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame failed: %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("length mismatch: %d != %d", len(got), len(payload))
	}

	oversized := make([]byte, MaxFrameSize+1)
	if err := writeFrame(&bytes.Buffer{}, oversized); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge on write, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	client, _, cleanup := tcpPair(t)
	defer cleanup()

	if err := client.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close not idempotent: %v", err)
	}
	if client.IsConnected() {
		t.Fatal("closed connection reports connected")
	}
	if err := client.Send([]byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
