package wire

import (
	"encoding/binary"
	"fmt"
)

// Message is implemented by every payload type this codec understands.
// Encode/Decode define the canonical per-message-type serialization; the
// envelope around it (magic/command/length/checksum) is handled by
// Encode/Decode in envelope.go.
type Message interface {
	Command() Command
	Encode() []byte
	Decode(payload []byte) error
}

func le64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }

func need(buf []byte, n int, what string) error {
	if len(buf) < n {
		return fmt.Errorf("wire: %s: truncated payload (need %d, have %d)", what, n, len(buf))
	}
	return nil
}

// --- version / verack -------------------------------------------------

// VersionMsg is the handshake's first message.
type VersionMsg struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       int64
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
}

func (m *VersionMsg) Command() Command { return CmdVersion }

func (m *VersionMsg) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, le32(uint32(m.ProtocolVersion))...)
	buf = append(buf, le64(m.Services)...)
	buf = append(buf, le64(uint64(m.Timestamp))...)
	buf = append(buf, le64(m.Nonce)...)
	buf = putVarString(buf, m.UserAgent)
	buf = append(buf, le32(uint32(m.StartHeight))...)
	return buf
}

func (m *VersionMsg) Decode(p []byte) error {
	if err := need(p, 28, "version"); err != nil {
		return err
	}
	m.ProtocolVersion = int32(binary.LittleEndian.Uint32(p[0:4]))
	m.Services = binary.LittleEndian.Uint64(p[4:12])
	m.Timestamp = int64(binary.LittleEndian.Uint64(p[12:20]))
	m.Nonce = binary.LittleEndian.Uint64(p[20:28])
	ua, n, err := readVarString(p[28:])
	if err != nil {
		return err
	}
	m.UserAgent = ua
	off := 28 + n
	if err := need(p, off+4, "version.start_height"); err != nil {
		return err
	}
	m.StartHeight = int32(binary.LittleEndian.Uint32(p[off : off+4]))
	return nil
}

// VerackMsg acknowledges a VersionMsg; it carries no payload.
type VerackMsg struct{}

func (m *VerackMsg) Command() Command      { return CmdVerack }
func (m *VerackMsg) Encode() []byte        { return nil }
func (m *VerackMsg) Decode(p []byte) error { return nil }

// --- ping / pong -------------------------------------------------------

type PingMsg struct{ Nonce uint64 }

func (m *PingMsg) Command() Command { return CmdPing }
func (m *PingMsg) Encode() []byte   { return le64(m.Nonce) }
func (m *PingMsg) Decode(p []byte) error {
	if err := need(p, 8, "ping"); err != nil {
		return err
	}
	m.Nonce = binary.LittleEndian.Uint64(p[:8])
	return nil
}

type PongMsg struct{ Nonce uint64 }

func (m *PongMsg) Command() Command { return CmdPong }
func (m *PongMsg) Encode() []byte   { return le64(m.Nonce) }
func (m *PongMsg) Decode(p []byte) error {
	if err := need(p, 8, "pong"); err != nil {
		return err
	}
	m.Nonce = binary.LittleEndian.Uint64(p[:8])
	return nil
}

// --- header / block sync -------------------------------------------------

// GetHeadersMsg requests headers following a block locator.
type GetHeadersMsg struct {
	Locator  []Hash
	HashStop Hash
}

func (m *GetHeadersMsg) Command() Command { return CmdGetHeaders }
func (m *GetHeadersMsg) Encode() []byte {
	buf := putHashList(nil, m.Locator)
	return m.HashStop.put(buf)
}
func (m *GetHeadersMsg) Decode(p []byte) error {
	loc, off, err := readHashList(p)
	if err != nil {
		return err
	}
	stop, _, err := readHash(p[off:])
	if err != nil {
		return err
	}
	m.Locator, m.HashStop = loc, stop
	return nil
}

// GetBlocksMsg requests block hashes following a block locator.
type GetBlocksMsg struct {
	Locator  []Hash
	HashStop Hash
}

func (m *GetBlocksMsg) Command() Command { return CmdGetBlocks }
func (m *GetBlocksMsg) Encode() []byte {
	buf := putHashList(nil, m.Locator)
	return m.HashStop.put(buf)
}
func (m *GetBlocksMsg) Decode(p []byte) error {
	loc, off, err := readHashList(p)
	if err != nil {
		return err
	}
	stop, _, err := readHash(p[off:])
	if err != nil {
		return err
	}
	m.Locator, m.HashStop = loc, stop
	return nil
}

// HeaderEntry is one block header as carried in a HeadersMsg. The header
// bytes themselves are opaque; only their hash is meaningful
// to this subsystem.
type HeaderEntry struct {
	Hash    Hash
	Raw     []byte
	TxCount uint64
}

// HeadersMsg carries a batch of block headers answering GetHeadersMsg.
type HeadersMsg struct {
	Headers []HeaderEntry
}

func (m *HeadersMsg) Command() Command { return CmdHeaders }
func (m *HeadersMsg) Encode() []byte {
	buf := putVarInt(nil, uint64(len(m.Headers)))
	for _, h := range m.Headers {
		buf = h.Hash.put(buf)
		buf = putVarBytes(buf, h.Raw)
		buf = putVarInt(buf, h.TxCount)
	}
	return buf
}
func (m *HeadersMsg) Decode(p []byte) error {
	n, off, err := readVarInt(p)
	if err != nil {
		return err
	}
	out := make([]HeaderEntry, 0, capHint(n, len(p)-off, 34))
	for i := uint64(0); i < n; i++ {
		h, c1, err := readHash(p[off:])
		if err != nil {
			return err
		}
		off += c1
		raw, c2, err := readVarBytes(p[off:])
		if err != nil {
			return err
		}
		off += c2
		txCount, c3, err := readVarInt(p[off:])
		if err != nil {
			return err
		}
		off += c3
		out = append(out, HeaderEntry{Hash: h, Raw: raw, TxCount: txCount})
	}
	m.Headers = out
	return nil
}

// BlockMsg carries a full, opaque block payload plus its relay hash.
type BlockMsg struct {
	Hash Hash
	Raw  []byte
}

func (m *BlockMsg) Command() Command { return CmdBlock }
func (m *BlockMsg) Encode() []byte   { return putVarBytes(m.Hash.put(nil), m.Raw) }
func (m *BlockMsg) Decode(p []byte) error {
	h, off, err := readHash(p)
	if err != nil {
		return err
	}
	raw, _, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	m.Hash, m.Raw = h, raw
	return nil
}

// TxMsg carries a full, opaque transaction payload plus its relay hash.
type TxMsg struct {
	Hash Hash
	Raw  []byte
}

func (m *TxMsg) Command() Command { return CmdTx }
func (m *TxMsg) Encode() []byte   { return putVarBytes(m.Hash.put(nil), m.Raw) }
func (m *TxMsg) Decode(p []byte) error {
	h, off, err := readHash(p)
	if err != nil {
		return err
	}
	raw, _, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	m.Hash, m.Raw = h, raw
	return nil
}

// --- inventory dance -----------------------------------------------------

type GetDataMsg struct{ Items []InventoryItem }

func (m *GetDataMsg) Command() Command { return CmdGetData }
func (m *GetDataMsg) Encode() []byte   { return putInventoryList(nil, m.Items) }
func (m *GetDataMsg) Decode(p []byte) error {
	items, _, err := readInventoryList(p)
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}

type InvMsg struct{ Items []InventoryItem }

func (m *InvMsg) Command() Command { return CmdInv }
func (m *InvMsg) Encode() []byte   { return putInventoryList(nil, m.Items) }
func (m *InvMsg) Decode(p []byte) error {
	items, _, err := readInventoryList(p)
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}

type NotFoundMsg struct{ Items []InventoryItem }

func (m *NotFoundMsg) Command() Command { return CmdNotFound }
func (m *NotFoundMsg) Encode() []byte   { return putInventoryList(nil, m.Items) }
func (m *NotFoundMsg) Decode(p []byte) error {
	items, _, err := readInventoryList(p)
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}

// --- address exchange ----------------------------------------------------

type GetAddrMsg struct{}

func (m *GetAddrMsg) Command() Command      { return CmdGetAddr }
func (m *GetAddrMsg) Encode() []byte        { return nil }
func (m *GetAddrMsg) Decode(p []byte) error { return nil }

// NetAddr is a single gossiped peer address.
type NetAddr struct {
	Services uint64
	IP       [16]byte
	Port     uint16
}

func (a NetAddr) put(buf []byte) []byte {
	buf = append(buf, le64(a.Services)...)
	buf = append(buf, a.IP[:]...)
	return append(buf, le16(a.Port)...)
}

func readNetAddr(buf []byte) (NetAddr, int, error) {
	if err := need(buf, 26, "netaddr"); err != nil {
		return NetAddr{}, 0, err
	}
	var a NetAddr
	a.Services = binary.LittleEndian.Uint64(buf[0:8])
	copy(a.IP[:], buf[8:24])
	a.Port = binary.LittleEndian.Uint16(buf[24:26])
	return a, 26, nil
}

type AddrMsg struct{ Addrs []NetAddr }

func (m *AddrMsg) Command() Command { return CmdAddr }
func (m *AddrMsg) Encode() []byte {
	buf := putVarInt(nil, uint64(len(m.Addrs)))
	for _, a := range m.Addrs {
		buf = a.put(buf)
	}
	return buf
}
func (m *AddrMsg) Decode(p []byte) error {
	n, off, err := readVarInt(p)
	if err != nil {
		return err
	}
	out := make([]NetAddr, 0, capHint(n, len(p)-off, 26))
	for i := uint64(0); i < n; i++ {
		a, c, err := readNetAddr(p[off:])
		if err != nil {
			return err
		}
		out = append(out, a)
		off += c
	}
	m.Addrs = out
	return nil
}

type MempoolMsg struct{}

func (m *MempoolMsg) Command() Command      { return CmdMempool }
func (m *MempoolMsg) Encode() []byte        { return nil }
func (m *MempoolMsg) Decode(p []byte) error { return nil }

// RejectMsg is the legacy single-message reject reply.
type RejectMsg struct {
	Rejected Command
	Code     byte
	Reason   string
}

func (m *RejectMsg) Command() Command { return CmdReject }
func (m *RejectMsg) Encode() []byte {
	buf := putVarString(nil, string(m.Rejected))
	buf = append(buf, m.Code)
	return putVarString(buf, m.Reason)
}
func (m *RejectMsg) Decode(p []byte) error {
	cmd, off, err := readVarString(p)
	if err != nil {
		return err
	}
	if err := need(p, off+1, "reject.code"); err != nil {
		return err
	}
	code := p[off]
	off++
	reason, _, err := readVarString(p[off:])
	if err != nil {
		return err
	}
	m.Rejected, m.Code, m.Reason = Command(cmd), code, reason
	return nil
}

type FeeFilterMsg struct{ FeeRate uint64 }

func (m *FeeFilterMsg) Command() Command { return CmdFeeFilter }
func (m *FeeFilterMsg) Encode() []byte   { return le64(m.FeeRate) }
func (m *FeeFilterMsg) Decode(p []byte) error {
	if err := need(p, 8, "feefilter"); err != nil {
		return err
	}
	m.FeeRate = binary.LittleEndian.Uint64(p[:8])
	return nil
}

// --- compact blocks (BIP152) ---------------------------------------------

type SendCmpctMsg struct {
	Announce bool
	Version  uint64
}

func (m *SendCmpctMsg) Command() Command { return CmdSendCmpct }
func (m *SendCmpctMsg) Encode() []byte {
	b := byte(0)
	if m.Announce {
		b = 1
	}
	return append([]byte{b}, le64(m.Version)...)
}
func (m *SendCmpctMsg) Decode(p []byte) error {
	if err := need(p, 9, "sendcmpct"); err != nil {
		return err
	}
	m.Announce = p[0] != 0
	m.Version = binary.LittleEndian.Uint64(p[1:9])
	return nil
}

// PrefilledTx is a transaction included in full within a compact block,
// indexed by its position.
type PrefilledTx struct {
	Index uint64
	Raw   []byte
}

// CmpctBlockMsg is a BIP152 compact block: header, nonce, short ids and any
// prefilled transactions.
type CmpctBlockMsg struct {
	HeaderHash  Hash
	HeaderRaw   []byte
	Nonce       uint64
	ShortIDs    [][6]byte
	PrefilledTx []PrefilledTx
}

func (m *CmpctBlockMsg) Command() Command { return CmdCmpctBlock }
func (m *CmpctBlockMsg) Encode() []byte {
	buf := m.HeaderHash.put(nil)
	buf = putVarBytes(buf, m.HeaderRaw)
	buf = append(buf, le64(m.Nonce)...)
	buf = putVarInt(buf, uint64(len(m.ShortIDs)))
	for _, s := range m.ShortIDs {
		buf = append(buf, s[:]...)
	}
	buf = putVarInt(buf, uint64(len(m.PrefilledTx)))
	for _, pt := range m.PrefilledTx {
		buf = putVarInt(buf, pt.Index)
		buf = putVarBytes(buf, pt.Raw)
	}
	return buf
}
func (m *CmpctBlockMsg) Decode(p []byte) error {
	h, off, err := readHash(p)
	if err != nil {
		return err
	}
	raw, c, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	off += c
	if err := need(p, off+8, "cmpctblock.nonce"); err != nil {
		return err
	}
	nonce := binary.LittleEndian.Uint64(p[off : off+8])
	off += 8
	n, c2, err := readVarInt(p[off:])
	if err != nil {
		return err
	}
	off += c2
	shortIDs := make([][6]byte, 0, capHint(n, len(p)-off, 6))
	for i := uint64(0); i < n; i++ {
		if err := need(p, off+6, "cmpctblock.shortid"); err != nil {
			return err
		}
		var s [6]byte
		copy(s[:], p[off:off+6])
		shortIDs = append(shortIDs, s)
		off += 6
	}
	npt, c3, err := readVarInt(p[off:])
	if err != nil {
		return err
	}
	off += c3
	prefilled := make([]PrefilledTx, 0, capHint(npt, len(p)-off, 2))
	for i := uint64(0); i < npt; i++ {
		idx, c4, err := readVarInt(p[off:])
		if err != nil {
			return err
		}
		off += c4
		txraw, c5, err := readVarBytes(p[off:])
		if err != nil {
			return err
		}
		off += c5
		prefilled = append(prefilled, PrefilledTx{Index: idx, Raw: txraw})
	}
	m.HeaderHash, m.HeaderRaw, m.Nonce, m.ShortIDs, m.PrefilledTx = h, raw, nonce, shortIDs, prefilled
	return nil
}

type GetBlockTxnMsg struct {
	BlockHash Hash
	Indexes   []uint64
}

func (m *GetBlockTxnMsg) Command() Command { return CmdGetBlockTxn }
func (m *GetBlockTxnMsg) Encode() []byte {
	buf := m.BlockHash.put(nil)
	buf = putVarInt(buf, uint64(len(m.Indexes)))
	for _, idx := range m.Indexes {
		buf = putVarInt(buf, idx)
	}
	return buf
}
func (m *GetBlockTxnMsg) Decode(p []byte) error {
	h, off, err := readHash(p)
	if err != nil {
		return err
	}
	n, c, err := readVarInt(p[off:])
	if err != nil {
		return err
	}
	off += c
	idxs := make([]uint64, 0, capHint(n, len(p)-off, 1))
	for i := uint64(0); i < n; i++ {
		v, c2, err := readVarInt(p[off:])
		if err != nil {
			return err
		}
		idxs = append(idxs, v)
		off += c2
	}
	m.BlockHash, m.Indexes = h, idxs
	return nil
}

type BlockTxnMsg struct {
	BlockHash Hash
	Txs       [][]byte
}

func (m *BlockTxnMsg) Command() Command { return CmdBlockTxn }
func (m *BlockTxnMsg) Encode() []byte {
	buf := m.BlockHash.put(nil)
	buf = putVarInt(buf, uint64(len(m.Txs)))
	for _, tx := range m.Txs {
		buf = putVarBytes(buf, tx)
	}
	return buf
}
func (m *BlockTxnMsg) Decode(p []byte) error {
	h, off, err := readHash(p)
	if err != nil {
		return err
	}
	n, c, err := readVarInt(p[off:])
	if err != nil {
		return err
	}
	off += c
	txs := make([][]byte, 0, capHint(n, len(p)-off, 1))
	for i := uint64(0); i < n; i++ {
		tx, c2, err := readVarBytes(p[off:])
		if err != nil {
			return err
		}
		txs = append(txs, tx)
		off += c2
	}
	m.BlockHash, m.Txs = h, txs
	return nil
}

// --- block filters (BIP157/158) ------------------------------------------

type GetCFiltersMsg struct {
	FilterType  uint8
	StartHeight uint32
	StopHash    Hash
}

func (m *GetCFiltersMsg) Command() Command { return CmdGetCFilters }
func (m *GetCFiltersMsg) Encode() []byte {
	buf := append([]byte{m.FilterType}, le32(m.StartHeight)...)
	return m.StopHash.put(buf)
}
func (m *GetCFiltersMsg) Decode(p []byte) error {
	if err := need(p, 5, "getcfilters"); err != nil {
		return err
	}
	m.FilterType = p[0]
	m.StartHeight = binary.LittleEndian.Uint32(p[1:5])
	h, _, err := readHash(p[5:])
	if err != nil {
		return err
	}
	m.StopHash = h
	return nil
}

type CFilterMsg struct {
	FilterType uint8
	BlockHash  Hash
	Filter     []byte
}

func (m *CFilterMsg) Command() Command { return CmdCFilter }
func (m *CFilterMsg) Encode() []byte {
	buf := append([]byte{m.FilterType}, m.BlockHash.put(nil)...)
	return putVarBytes(buf, m.Filter)
}
func (m *CFilterMsg) Decode(p []byte) error {
	if err := need(p, 1, "cfilter"); err != nil {
		return err
	}
	m.FilterType = p[0]
	h, off, err := readHash(p[1:])
	if err != nil {
		return err
	}
	m.BlockHash = h
	filt, _, err := readVarBytes(p[1+off:])
	if err != nil {
		return err
	}
	m.Filter = filt
	return nil
}

type GetCFHeadersMsg struct {
	FilterType  uint8
	StartHeight uint32
	StopHash    Hash
}

func (m *GetCFHeadersMsg) Command() Command { return CmdGetCFHeaders }
func (m *GetCFHeadersMsg) Encode() []byte {
	buf := append([]byte{m.FilterType}, le32(m.StartHeight)...)
	return m.StopHash.put(buf)
}
func (m *GetCFHeadersMsg) Decode(p []byte) error {
	if err := need(p, 5, "getcfheaders"); err != nil {
		return err
	}
	m.FilterType = p[0]
	m.StartHeight = binary.LittleEndian.Uint32(p[1:5])
	h, _, err := readHash(p[5:])
	if err != nil {
		return err
	}
	m.StopHash = h
	return nil
}

type CFHeadersMsg struct {
	FilterType   uint8
	StopHash     Hash
	PrevHeader   Hash
	FilterHashes []Hash
}

func (m *CFHeadersMsg) Command() Command { return CmdCFHeaders }
func (m *CFHeadersMsg) Encode() []byte {
	buf := append([]byte{m.FilterType}, m.StopHash.put(nil)...)
	buf = m.PrevHeader.put(buf)
	return putHashList(buf, m.FilterHashes)
}
func (m *CFHeadersMsg) Decode(p []byte) error {
	if err := need(p, 1, "cfheaders"); err != nil {
		return err
	}
	m.FilterType = p[0]
	stop, off, err := readHash(p[1:])
	if err != nil {
		return err
	}
	off += 1
	prev, c, err := readHash(p[off:])
	if err != nil {
		return err
	}
	off += c
	hashes, _, err := readHashList(p[off:])
	if err != nil {
		return err
	}
	m.StopHash, m.PrevHeader, m.FilterHashes = stop, prev, hashes
	return nil
}

type GetCFCheckptMsg struct {
	FilterType uint8
	StopHash   Hash
}

func (m *GetCFCheckptMsg) Command() Command { return CmdGetCFCheckpt }
func (m *GetCFCheckptMsg) Encode() []byte {
	return m.StopHash.put([]byte{m.FilterType})
}
func (m *GetCFCheckptMsg) Decode(p []byte) error {
	if err := need(p, 1, "getcfcheckpt"); err != nil {
		return err
	}
	m.FilterType = p[0]
	h, _, err := readHash(p[1:])
	if err != nil {
		return err
	}
	m.StopHash = h
	return nil
}

type CFCheckptMsg struct {
	FilterType    uint8
	StopHash      Hash
	FilterHeaders []Hash
}

func (m *CFCheckptMsg) Command() Command { return CmdCFCheckpt }
func (m *CFCheckptMsg) Encode() []byte {
	buf := append([]byte{m.FilterType}, m.StopHash.put(nil)...)
	return putHashList(buf, m.FilterHeaders)
}
func (m *CFCheckptMsg) Decode(p []byte) error {
	if err := need(p, 1, "cfcheckpt"); err != nil {
		return err
	}
	m.FilterType = p[0]
	stop, off, err := readHash(p[1:])
	if err != nil {
		return err
	}
	off += 1
	headers, _, err := readHashList(p[off:])
	if err != nil {
		return err
	}
	m.StopHash, m.FilterHeaders = stop, headers
	return nil
}

// --- UTXO commitments / filtered blocks -----------------------------------

type GetUTXOSetMsg struct {
	RequestID uint32
	Height    uint64
	BlockHash Hash
}

func (m *GetUTXOSetMsg) Command() Command { return CmdGetUTXOSet }
func (m *GetUTXOSetMsg) Encode() []byte {
	buf := append(le32(m.RequestID), le64(m.Height)...)
	return m.BlockHash.put(buf)
}
func (m *GetUTXOSetMsg) Decode(p []byte) error {
	if err := need(p, 12, "getutxoset"); err != nil {
		return err
	}
	m.RequestID = binary.LittleEndian.Uint32(p[0:4])
	m.Height = binary.LittleEndian.Uint64(p[4:12])
	h, _, err := readHash(p[12:])
	if err != nil {
		return err
	}
	m.BlockHash = h
	return nil
}

type UTXOSetMsg struct {
	RequestID  uint32
	Height     uint64
	BlockHash  Hash
	Commitment []byte
	UTXOCount  uint64
}

func (m *UTXOSetMsg) Command() Command { return CmdUTXOSet }
func (m *UTXOSetMsg) Encode() []byte {
	buf := append(le32(m.RequestID), le64(m.Height)...)
	buf = m.BlockHash.put(buf)
	buf = putVarBytes(buf, m.Commitment)
	return append(buf, le64(m.UTXOCount)...)
}
func (m *UTXOSetMsg) Decode(p []byte) error {
	if err := need(p, 12, "utxoset"); err != nil {
		return err
	}
	m.RequestID = binary.LittleEndian.Uint32(p[0:4])
	m.Height = binary.LittleEndian.Uint64(p[4:12])
	h, off, err := readHash(p[12:])
	if err != nil {
		return err
	}
	off += 12
	commit, c, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	off += c
	if err := need(p, off+8, "utxoset.count"); err != nil {
		return err
	}
	m.BlockHash = h
	m.Commitment = commit
	m.UTXOCount = binary.LittleEndian.Uint64(p[off : off+8])
	return nil
}

type GetFilteredBlockMsg struct {
	RequestID   uint32
	BlockHash   Hash
	WantCFilter bool
}

func (m *GetFilteredBlockMsg) Command() Command { return CmdGetFilteredBlk }
func (m *GetFilteredBlockMsg) Encode() []byte {
	buf := append(le32(m.RequestID), m.BlockHash.put(nil)...)
	b := byte(0)
	if m.WantCFilter {
		b = 1
	}
	return append(buf, b)
}
func (m *GetFilteredBlockMsg) Decode(p []byte) error {
	if err := need(p, 4, "getfilteredblock"); err != nil {
		return err
	}
	m.RequestID = binary.LittleEndian.Uint32(p[0:4])
	h, off, err := readHash(p[4:])
	if err != nil {
		return err
	}
	off += 4
	if err := need(p, off+1, "getfilteredblock.flag"); err != nil {
		return err
	}
	m.BlockHash = h
	m.WantCFilter = p[off] != 0
	return nil
}

type FilteredBlockMsg struct {
	RequestID  uint32
	BlockHash  Hash
	Txs        [][]byte
	CFilter    []byte
	Commitment []byte
}

func (m *FilteredBlockMsg) Command() Command { return CmdFilteredBlk }
func (m *FilteredBlockMsg) Encode() []byte {
	buf := append(le32(m.RequestID), m.BlockHash.put(nil)...)
	buf = putVarInt(buf, uint64(len(m.Txs)))
	for _, tx := range m.Txs {
		buf = putVarBytes(buf, tx)
	}
	buf = putVarBytes(buf, m.CFilter)
	return putVarBytes(buf, m.Commitment)
}
func (m *FilteredBlockMsg) Decode(p []byte) error {
	if err := need(p, 4, "filteredblock"); err != nil {
		return err
	}
	m.RequestID = binary.LittleEndian.Uint32(p[0:4])
	h, off, err := readHash(p[4:])
	if err != nil {
		return err
	}
	off += 4
	n, c, err := readVarInt(p[off:])
	if err != nil {
		return err
	}
	off += c
	txs := make([][]byte, 0, capHint(n, len(p)-off, 1))
	for i := uint64(0); i < n; i++ {
		tx, c2, err := readVarBytes(p[off:])
		if err != nil {
			return err
		}
		txs = append(txs, tx)
		off += c2
	}
	cf, c3, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	off += c3
	commit, _, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	m.BlockHash, m.Txs, m.CFilter, m.Commitment = h, txs, cf, commit
	return nil
}

// --- package relay (BIP331) -----------------------------------------------

type SendPkgTxnMsg struct{}

func (m *SendPkgTxnMsg) Command() Command      { return CmdSendPkgTxn }
func (m *SendPkgTxnMsg) Encode() []byte        { return nil }
func (m *SendPkgTxnMsg) Decode(p []byte) error { return nil }

type PkgTxnMsg struct {
	PackageID Hash
	Txs       [][]byte
}

func (m *PkgTxnMsg) Command() Command { return CmdPkgTxn }
func (m *PkgTxnMsg) Encode() []byte {
	buf := m.PackageID.put(nil)
	buf = putVarInt(buf, uint64(len(m.Txs)))
	for _, tx := range m.Txs {
		buf = putVarBytes(buf, tx)
	}
	return buf
}
func (m *PkgTxnMsg) Decode(p []byte) error {
	id, off, err := readHash(p)
	if err != nil {
		return err
	}
	n, c, err := readVarInt(p[off:])
	if err != nil {
		return err
	}
	off += c
	txs := make([][]byte, 0, capHint(n, len(p)-off, 1))
	for i := uint64(0); i < n; i++ {
		tx, c2, err := readVarBytes(p[off:])
		if err != nil {
			return err
		}
		txs = append(txs, tx)
		off += c2
	}
	m.PackageID, m.Txs = id, txs
	return nil
}

// PkgRejectReason enumerates the package-relay rejection codes.
type PkgRejectReason uint8

const (
	PkgRejectTooManyTransactions PkgRejectReason = iota
	PkgRejectWeightExceedsLimit
	PkgRejectFeeRateTooLow
	PkgRejectInvalidOrder
	PkgRejectDuplicateTransactions
	PkgRejectInvalidStructure
)

func (r PkgRejectReason) String() string {
	switch r {
	case PkgRejectTooManyTransactions:
		return "TooManyTransactions"
	case PkgRejectWeightExceedsLimit:
		return "WeightExceedsLimit"
	case PkgRejectFeeRateTooLow:
		return "FeeRateTooLow"
	case PkgRejectInvalidOrder:
		return "InvalidOrder"
	case PkgRejectDuplicateTransactions:
		return "DuplicateTransactions"
	case PkgRejectInvalidStructure:
		return "InvalidStructure"
	default:
		return "Unknown"
	}
}

type PkgTxnRejectMsg struct {
	PackageID Hash
	Reason    PkgRejectReason
}

func (m *PkgTxnRejectMsg) Command() Command { return CmdPkgTxnReject }
func (m *PkgTxnRejectMsg) Encode() []byte {
	return append(m.PackageID.put(nil), byte(m.Reason))
}
func (m *PkgTxnRejectMsg) Decode(p []byte) error {
	id, off, err := readHash(p)
	if err != nil {
		return err
	}
	if err := need(p, off+1, "pkgtxnreject.reason"); err != nil {
		return err
	}
	m.PackageID, m.Reason = id, PkgRejectReason(p[off])
	return nil
}

// --- ban-list sharing ------------------------------------------------------

// BanEntryWire is one ban-list record as carried on the wire.
type BanEntryWire struct {
	Addr           NetAddr
	UnbanTimestamp uint64
	Reason         string
}

func (e BanEntryWire) put(buf []byte) []byte {
	buf = e.Addr.put(buf)
	buf = append(buf, le64(e.UnbanTimestamp)...)
	return putVarString(buf, e.Reason)
}

func readBanEntry(buf []byte) (BanEntryWire, int, error) {
	a, off, err := readNetAddr(buf)
	if err != nil {
		return BanEntryWire{}, 0, err
	}
	if err := need(buf, off+8, "banentry.unban"); err != nil {
		return BanEntryWire{}, 0, err
	}
	unban := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	reason, c, err := readVarString(buf[off:])
	if err != nil {
		return BanEntryWire{}, 0, err
	}
	off += c
	return BanEntryWire{Addr: a, UnbanTimestamp: unban, Reason: reason}, off, nil
}

// BanListMsg carries a signed, ordered ban list, full or digest-only.
type BanListMsg struct {
	Entries      []BanEntryWire
	IsFull       bool
	Signature    []byte
	SignerPubKey []byte
}

func (m *BanListMsg) Command() Command { return CmdBanList }
func (m *BanListMsg) Encode() []byte {
	buf := putVarInt(nil, uint64(len(m.Entries)))
	for _, e := range m.Entries {
		buf = e.put(buf)
	}
	b := byte(0)
	if m.IsFull {
		b = 1
	}
	buf = append(buf, b)
	buf = putVarBytes(buf, m.Signature)
	return putVarBytes(buf, m.SignerPubKey)
}
func (m *BanListMsg) Decode(p []byte) error {
	n, off, err := readVarInt(p)
	if err != nil {
		return err
	}
	entries := make([]BanEntryWire, 0, capHint(n, len(p)-off, 35))
	for i := uint64(0); i < n; i++ {
		e, c, err := readBanEntry(p[off:])
		if err != nil {
			return err
		}
		entries = append(entries, e)
		off += c
	}
	if err := need(p, off+1, "banlist.flag"); err != nil {
		return err
	}
	full := p[off] != 0
	off++
	sig, c, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	off += c
	pk, _, err := readVarBytes(p[off:])
	if err != nil {
		return err
	}
	m.Entries, m.IsFull, m.Signature, m.SignerPubKey = entries, full, sig, pk
	return nil
}

type GetBanListMsg struct{ DigestOnly bool }

func (m *GetBanListMsg) Command() Command { return CmdGetBanList }
func (m *GetBanListMsg) Encode() []byte {
	b := byte(0)
	if m.DigestOnly {
		b = 1
	}
	return []byte{b}
}
func (m *GetBanListMsg) Decode(p []byte) error {
	if err := need(p, 1, "getbanlist"); err != nil {
		return err
	}
	m.DigestOnly = p[0] != 0
	return nil
}
