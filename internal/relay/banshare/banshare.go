// Package banshare implements signed ban-list exchange: canonical
// serialization, detached secp256k1 signatures, and the merge rules for
// importing a peer's list into the local ban store.
package banshare

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"relaynet/internal/netaddr"
	"relaynet/internal/transport"
	"relaynet/internal/wire"
)

// Errors returned on import.
var (
	ErrBadSignature = errors.New("banshare: signature verification failed")
	ErrBadPubKey    = errors.New("banshare: malformed signer public key")
)

// sortEntries orders entries lexicographically by (address bytes, port) so
// the canonical encoding, and everything hashed or signed over it, is
// deterministic.
func sortEntries(entries []wire.BanEntryWire) {
	sort.Slice(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].Addr.IP[:], entries[j].Addr.IP[:]); c != 0 {
			return c < 0
		}
		return entries[i].Addr.Port < entries[j].Addr.Port
	})
}

// canonicalDigest hashes the sorted entries plus the full-vs-digest flag.
func canonicalDigest(entries []wire.BanEntryWire, isFull bool) []byte {
	msg := wire.BanListMsg{Entries: entries, IsFull: isFull}
	// Encode without signature material: zero both detached fields.
	return chainhash.DoubleHashB(msg.Encode())
}

// Build signs the local ban list's socket-address entries for sharing.
// Public-key-transport bans are local policy and never exported.
func Build(local *netaddr.BanList, isFull bool, priv *btcec.PrivateKey) (*wire.BanListMsg, error) {
	var entries []wire.BanEntryWire
	for _, b := range local.Snapshot() {
		if b.Addr.Type == transport.Iroh {
			continue
		}
		na, err := toNetAddr(b.Addr.Endpoint)
		if err != nil {
			continue
		}
		entries = append(entries, wire.BanEntryWire{
			Addr:           na,
			UnbanTimestamp: b.UnbanTimestamp,
			Reason:         b.Reason,
		})
	}
	sortEntries(entries)

	sig := ecdsa.Sign(priv, canonicalDigest(entries, isFull))
	return &wire.BanListMsg{
		Entries:      entries,
		IsFull:       isFull,
		Signature:    sig.Serialize(),
		SignerPubKey: priv.PubKey().SerializeCompressed(),
	}, nil
}

// Verify checks the detached signature over the canonical encoding.
func Verify(msg *wire.BanListMsg) error {
	pub, err := btcec.ParsePubKey(msg.SignerPubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPubKey, err)
	}
	sig, err := ecdsa.ParseDERSignature(msg.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	entries := append([]wire.BanEntryWire(nil), msg.Entries...)
	sortEntries(entries)
	if !sig.Verify(canonicalDigest(entries, msg.IsFull), pub) {
		return ErrBadSignature
	}
	return nil
}

// Import verifies a shared ban list and merges its unexpired entries into
// the local store under the dominance rules (permanent wins, longer
// temporary ban wins, reasons concatenate). It returns the number of
// entries merged.
func Import(msg *wire.BanListMsg, local *netaddr.BanList, now time.Time) (int, error) {
	if err := Verify(msg); err != nil {
		return 0, err
	}
	merged := 0
	nowUnix := uint64(now.Unix())
	for _, e := range msg.Entries {
		if e.UnbanTimestamp != netaddr.PermanentBan && e.UnbanTimestamp <= nowUnix {
			continue
		}
		local.Add(netaddr.Ban{
			Addr:           fromNetAddr(e.Addr),
			UnbanTimestamp: e.UnbanTimestamp,
			Reason:         e.Reason,
		})
		merged++
	}
	return merged, nil
}

func toNetAddr(endpoint string) (wire.NetAddr, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return wire.NetAddr{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return wire.NetAddr{}, fmt.Errorf("banshare: unparseable host %q", host)
	}
	var na wire.NetAddr
	copy(na.IP[:], ip.To16())
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return wire.NetAddr{}, err
	}
	na.Port = uint16(port)
	return na, nil
}

func fromNetAddr(na wire.NetAddr) transport.Addr {
	ip := net.IP(na.IP[:])
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return transport.Addr{
		Type:     transport.TCP,
		Endpoint: net.JoinHostPort(ip.String(), fmt.Sprintf("%d", na.Port)),
	}
}
