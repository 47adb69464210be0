package wire

import "fmt"

// Hash is the 32-byte double-SHA256 digest shared by blocks, transactions,
// filters and packages for relay purposes.
type Hash [32]byte

// String renders the hash in big-endian hex, matching Bitcoin Core's txid
// display convention.
func (h Hash) String() string {
	var rev [32]byte
	for i := range h {
		rev[i] = h[31-i]
	}
	return fmt.Sprintf("%x", rev)
}

func (h Hash) put(buf []byte) []byte { return append(buf, h[:]...) }

func readHash(buf []byte) (Hash, int, error) {
	if len(buf) < 32 {
		return Hash{}, 0, fmt.Errorf("wire: truncated hash")
	}
	var h Hash
	copy(h[:], buf[:32])
	return h, 32, nil
}

// InventoryType enumerates the kinds of objects advertised in inv/getdata.
type InventoryType uint32

const (
	InvTx InventoryType = 1 + iota
	InvBlock
	InvFilteredBlock
	InvCmpctBlock
)

// InventoryItem identifies a single relayable object.
type InventoryItem struct {
	Type InventoryType
	Hash Hash
}

func (it InventoryItem) put(buf []byte) []byte {
	var t [4]byte
	t[0] = byte(it.Type)
	buf = append(buf, t[:]...)
	return it.Hash.put(buf)
}

func readInventoryItem(buf []byte) (InventoryItem, int, error) {
	if len(buf) < 4+32 {
		return InventoryItem{}, 0, fmt.Errorf("wire: truncated inventory item")
	}
	it := InventoryItem{Type: InventoryType(buf[0])}
	h, _, err := readHash(buf[4:])
	if err != nil {
		return InventoryItem{}, 0, err
	}
	it.Hash = h
	return it, 36, nil
}

func putInventoryList(buf []byte, items []InventoryItem) []byte {
	buf = putVarInt(buf, uint64(len(items)))
	for _, it := range items {
		buf = it.put(buf)
	}
	return buf
}

func readInventoryList(buf []byte) ([]InventoryItem, int, error) {
	n, off, err := readVarInt(buf)
	if err != nil {
		return nil, 0, err
	}
	items := make([]InventoryItem, 0, capHint(n, len(buf)-off, 36))
	for i := uint64(0); i < n; i++ {
		it, consumed, err := readInventoryItem(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
		off += consumed
	}
	return items, off, nil
}

func putHashList(buf []byte, hashes []Hash) []byte {
	buf = putVarInt(buf, uint64(len(hashes)))
	for _, h := range hashes {
		buf = h.put(buf)
	}
	return buf
}

func readHashList(buf []byte) ([]Hash, int, error) {
	n, off, err := readVarInt(buf)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Hash, 0, capHint(n, len(buf)-off, 32))
	for i := uint64(0); i < n; i++ {
		h, _, err := readHash(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, h)
		off += 32
	}
	return out, off, nil
}
