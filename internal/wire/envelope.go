// Package wire implements the Bitcoin P2P wire envelope and message set:
// magic/command/length/checksum framing, the mainline
// command allow-list, and this node's relay-protocol extensions.
//
// The codec performs no semantic validation — only structural admission
// (magic, command allow-list, length bound, checksum). Every downstream
// component may assume a decoded Envelope already passed these checks.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HeaderSize is the fixed size of the wire envelope preceding the payload:
// magic(4) + command(12) + length(4) + checksum(4).
const HeaderSize = 24

// MaxMessagePayload bounds the payload portion of a single message so that
// header+payload never exceeds the 32 MiB transport ceiling.
const MaxMessagePayload = 32*1024*1024 - HeaderSize

// Network selects the magic bytes used to tag messages for a chain variant.
type Network uint32

const (
	Mainnet Network = iota
	Testnet
	Regtest
)

var networkMagic = map[Network][4]byte{
	Mainnet: {0xf9, 0xbe, 0xb4, 0xd9},
	Testnet: {0x0b, 0x11, 0x09, 0x07},
	Regtest: {0xfa, 0xbf, 0xb5, 0xda},
}

// Errors returned by Decode/Parse.
var (
	ErrTooShort        = errors.New("wire: frame shorter than envelope header")
	ErrBadMagic        = errors.New("wire: magic does not match active network")
	ErrUnknownCommand  = errors.New("wire: command not in allow-list")
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum message size")
	ErrBadChecksum     = errors.New("wire: checksum mismatch")
)

// Envelope is a parsed wire message: command plus its raw payload. Payload
// decoding into a concrete message type happens one level up in messages.go.
type Envelope struct {
	Command Command
	Payload []byte
}

// checksum4 returns the first 4 bytes of DSHA256(payload), the checksum
// carried in every envelope.
func checksum4(payload []byte) [4]byte {
	sum := chainhash.DoubleHashB(payload)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// Encode serializes command and payload into a framed wire message:
// [magic:4][command:12][payload_len:4][checksum:4][payload].
func Encode(net Network, cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > MaxMessagePayload {
		return nil, ErrPayloadTooLarge
	}
	magic, ok := networkMagic[net]
	if !ok {
		return nil, fmt.Errorf("wire: unknown network %d", net)
	}
	buf := make([]byte, HeaderSize+len(payload))
	copy(buf[0:4], magic[:])
	copy(buf[4:16], padCommand(cmd))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	sum := checksum4(payload)
	copy(buf[20:24], sum[:])
	copy(buf[24:], payload)
	return buf, nil
}

// Decode parses a complete framed message (header+payload already read off
// the transport) and validates magic, command, length and checksum. The
// transport layer is responsible for rejecting an oversized length prefix
// before ever reading the payload bytes into this function.
func Decode(net Network, frame []byte) (*Envelope, error) {
	if len(frame) < HeaderSize {
		return nil, ErrTooShort
	}
	magic, ok := networkMagic[net]
	if !ok || [4]byte(frame[0:4]) != magic {
		return nil, ErrBadMagic
	}
	cmd := unpadCommand(frame[4:16])
	if !IsAllowed(cmd) {
		return nil, ErrUnknownCommand
	}
	payloadLen := binary.LittleEndian.Uint32(frame[16:20])
	if payloadLen > MaxMessagePayload {
		return nil, ErrPayloadTooLarge
	}
	if len(frame) != HeaderSize+int(payloadLen) {
		return nil, ErrTooShort
	}
	var wantSum [4]byte
	copy(wantSum[:], frame[20:24])
	payload := frame[HeaderSize:]
	if checksum4(payload) != wantSum {
		return nil, ErrBadChecksum
	}
	return &Envelope{Command: cmd, Payload: append([]byte(nil), payload...)}, nil
}

func padCommand(cmd Command) []byte {
	b := make([]byte, 12)
	copy(b, cmd)
	return b
}

func unpadCommand(b []byte) Command {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return Command(b[:i])
}
