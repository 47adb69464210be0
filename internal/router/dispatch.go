package router

import (
	"fmt"
	"net"
	"time"

	"relaynet/internal/chainaccess"
	"relaynet/internal/relay/banshare"
	"relaynet/internal/relay/compact"
	"relaynet/internal/relay/dandelion"
	"relaynet/internal/relay/fibre"
	"relaynet/internal/relay/pkgrelay"
	"relaynet/internal/session"
	"relaynet/internal/transport"
	"relaynet/internal/txcodec"
	"relaynet/internal/wire"
)

// Substream keys for multiplexing-capable transports: bulky replies ride
// their own channel so they never head-of-line-block control traffic.
const (
	channelFilters = 1
	channelBlocks  = 2
)

// dispatch routes one parsed inbound message. Returning an error counts as
// a protocol violation and closes the connection; policy-level drops are
// handled before dispatch.
func (m *Manager) dispatch(pc *peerConn, msg wire.Message) error {
	switch msg := msg.(type) {
	case *wire.VersionMsg:
		return m.handleVersion(pc, msg)
	case *wire.VerackMsg:
		return pc.sess.HandleVerack()
	case *wire.PingMsg:
		return m.send(pc, &wire.PongMsg{Nonce: msg.Nonce})
	case *wire.PongMsg:
		return nil

	case *wire.InvMsg:
		return m.handleInv(pc, msg)
	case *wire.GetDataMsg:
		return m.handleGetData(pc, msg)
	case *wire.TxMsg:
		return m.handleTx(pc, msg)
	case *wire.BlockMsg:
		return m.handleBlock(pc, msg)
	case *wire.NotFoundMsg:
		for _, it := range msg.Items {
			m.Inventory.MarkReceived(it.Hash)
		}
		return nil

	case *wire.GetAddrMsg:
		return m.handleGetAddr(pc)
	case *wire.AddrMsg:
		return m.handleAddr(pc, msg)
	case *wire.MempoolMsg:
		return m.handleMempool(pc)
	case *wire.GetHeadersMsg:
		return m.handleGetHeaders(pc, msg)
	case *wire.HeadersMsg, *wire.GetBlocksMsg:
		// Header sync is driven by the storage collaborator; nothing to
		// route here.
		return nil
	case *wire.RejectMsg:
		m.log.Debugf("peer %s rejected %s: %s", pc.sess.ID, msg.Rejected, msg.Reason)
		return nil
	case *wire.FeeFilterMsg:
		pc.mu.Lock()
		pc.feeFilter = msg.FeeRate
		pc.mu.Unlock()
		return nil

	case *wire.SendCmpctMsg:
		pc.mu.Lock()
		pc.preferCompact = msg.Announce
		pc.cmpctVersion = msg.Version
		pc.mu.Unlock()
		return nil
	case *wire.CmpctBlockMsg:
		return m.handleCmpctBlock(pc, msg)
	case *wire.GetBlockTxnMsg:
		return m.handleGetBlockTxn(pc, msg)
	case *wire.BlockTxnMsg:
		return m.handleBlockTxn(pc, msg)

	case *wire.GetCFiltersMsg:
		return m.handleGetCFilters(pc, msg)
	case *wire.GetCFHeadersMsg:
		return m.handleGetCFHeaders(pc, msg)
	case *wire.GetCFCheckptMsg:
		return m.handleGetCFCheckpt(pc, msg)
	case *wire.CFilterMsg, *wire.CFHeadersMsg, *wire.CFCheckptMsg:
		// Filter replies feed the light-client side, which this node does
		// not run; they are valid but unrouted.
		return nil

	case *wire.GetUTXOSetMsg:
		return m.handleGetUTXOSet(pc, msg)
	case *wire.UTXOSetMsg:
		m.requests.complete(msg.RequestID, pc.sess.ID, msg)
		return nil
	case *wire.GetFilteredBlockMsg:
		return m.handleGetFilteredBlock(pc, msg)
	case *wire.FilteredBlockMsg:
		m.requests.complete(msg.RequestID, pc.sess.ID, msg)
		return nil

	case *wire.SendPkgTxnMsg:
		pc.mu.Lock()
		pc.packageRelay = true
		pc.mu.Unlock()
		return nil
	case *wire.PkgTxnMsg:
		return m.handlePkgTxn(pc, msg)
	case *wire.PkgTxnRejectMsg:
		m.log.Debugf("peer %s rejected package %s: %s", pc.sess.ID, msg.PackageID, msg.Reason)
		return nil

	case *wire.BanListMsg:
		return m.handleBanList(pc, msg)
	case *wire.GetBanListMsg:
		return m.handleGetBanList(pc, msg)

	default:
		return fmt.Errorf("router: unrouted message %s", msg.Command())
	}
}

func (m *Manager) handleVersion(pc *peerConn, msg *wire.VersionMsg) error {
	if err := pc.sess.HandleVersion(msg); err != nil {
		return err
	}
	m.Addrs.Record(pc.sess.Addr, session.Services(msg.Services))
	if err := m.send(pc, &wire.VerackMsg{}); err != nil {
		return err
	}
	// Announce our relay preferences once the handshake can complete.
	version, announce := compact.RecommendedParams(pc.sess.Addr.Type)
	if err := m.send(pc, &wire.SendCmpctMsg{Announce: announce, Version: version}); err != nil {
		return err
	}
	// FIBRE eligibility: register the peer's UDP side channel, reachable
	// at the same host as the P2P connection.
	if pc.sess.Supports(session.NodeFIBRE) && pc.sess.Addr.Type != transport.Iroh {
		if host, _, err := net.SplitHostPort(pc.sess.Addr.Endpoint); err == nil {
			m.Fibre.RegisterPeer(pc.sess.ID, net.JoinHostPort(host, fibreUDPPort), fibre.Capability{
				MaxChunkSize: fibre.DefaultChunkSize,
				FECSupport:   true,
			})
		}
	}
	if pc.sess.Supports(session.NodePackageRelay) {
		return m.send(pc, &wire.SendPkgTxnMsg{})
	}
	return nil
}

// fibreUDPPort is the conventional fast-relay side-channel port.
const fibreUDPPort = "8555"

func (m *Manager) handleInv(pc *peerConn, msg *wire.InvMsg) error {
	for _, it := range msg.Items {
		pc.sess.RecordInventory(it.Hash)
		// An inv for a tx we hold in stem state means the network fluffed
		// it elsewhere; drop our stem entry.
		if it.Type == wire.InvTx {
			m.Dandelion.MarkFluffed(it.Hash)
		}
	}
	have := func(h wire.Hash) bool {
		return m.deps.Chain != nil && m.deps.Chain.HasObject(h)
	}
	want := m.Inventory.Offer(pc.sess.ID, msg.Items, have)
	if len(want) == 0 {
		return nil
	}
	return m.send(pc, &wire.GetDataMsg{Items: want})
}

func (m *Manager) handleGetData(pc *peerConn, msg *wire.GetDataMsg) error {
	var missing []wire.InventoryItem
	for _, it := range msg.Items {
		obj, ok := m.getObject(it.Hash)
		if !ok {
			missing = append(missing, it)
			continue
		}
		var reply wire.Message
		if obj.IsBlock {
			reply = &wire.BlockMsg{Hash: it.Hash, Raw: obj.Raw}
		} else {
			reply = &wire.TxMsg{Hash: it.Hash, Raw: obj.Raw}
		}
		if err := m.sendOnChannel(pc, channelBlocks, reply); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return m.send(pc, &wire.NotFoundMsg{Items: missing})
	}
	return nil
}

func (m *Manager) getObject(h wire.Hash) (*chainaccess.Object, bool) {
	if m.deps.Chain == nil {
		return nil, false
	}
	return m.deps.Chain.GetObject(h)
}

// handleTx admits one transaction. A transaction pushed directly by a
// Dandelion-eligible peer without a preceding inv is treated as stem
// phase; everything else diffuses as ordinary fluff.
func (m *Manager) handleTx(pc *peerConn, msg *wire.TxMsg) error {
	announced := pc.sess.HasInventory(msg.Hash)
	m.Inventory.MarkReceived(msg.Hash)

	if m.deps.Consensus != nil {
		res, err := m.deps.Consensus.AcceptToMempool(msg.Raw, m.height.Load())
		if err != nil || res != chainaccess.AdmissionAccepted {
			m.log.Debugf("mempool rejected tx %s from %s: %v", msg.Hash, pc.sess.ID, err)
			return nil
		}
	}

	stem := !announced && pc.sess.Supports(session.NodeDandelion)
	if stem {
		hops := m.Dandelion.PathHops(pc.sess.ID) + 1
		phase, next := m.Dandelion.AddTransaction(msg.Hash, pc.sess.ID, hops, m.readyPeerIDs(pc.sess.ID))
		if phase == dandelion.Stem {
			if npc, ok := m.peer(next); ok {
				return m.send(npc, msg)
			}
		}
	}
	m.broadcastInv(wire.InventoryItem{Type: wire.InvTx, Hash: msg.Hash}, pc.sess.ID)
	return nil
}

// OriginateTransaction enters a locally created transaction into
// diffusion, stem phase first.
func (m *Manager) OriginateTransaction(raw []byte) error {
	hash := txcodec.Hash(raw)
	if m.deps.Consensus != nil {
		res, err := m.deps.Consensus.AcceptToMempool(raw, m.height.Load())
		if err != nil {
			return err
		}
		if res != chainaccess.AdmissionAccepted {
			return fmt.Errorf("router: mempool rejected local tx %s", hash)
		}
	}
	phase, next := m.Dandelion.AddTransaction(hash, "", 0, m.readyPeerIDs(""))
	if phase == dandelion.Stem {
		if pc, ok := m.peer(next); ok {
			return m.send(pc, &wire.TxMsg{Hash: hash, Raw: raw})
		}
	}
	m.broadcastInv(wire.InventoryItem{Type: wire.InvTx, Hash: hash}, "")
	return nil
}

func (m *Manager) readyPeerIDs(except string) []string {
	peers := m.readyPeers(except)
	out := make([]string, 0, len(peers))
	for _, pc := range peers {
		if pc.sess.Supports(session.NodeDandelion) {
			out = append(out, pc.sess.ID)
		}
	}
	return out
}

func (m *Manager) handleBlock(pc *peerConn, msg *wire.BlockMsg) error {
	m.Inventory.MarkReceived(msg.Hash)
	// Prepare the fast-relay encoding while the block is hot; storage
	// ingestion happens in the chain collaborator.
	if _, err := m.Fibre.Prepare(msg.Hash, msg.Raw, 0); err != nil {
		m.log.Debugf("fibre encode %s: %v", msg.Hash, err)
	}
	m.announceBlock(msg.Hash, msg.Raw, pc.sess.ID)
	return nil
}

// announceBlock relays a new block: peers that asked for compact
// announcements get a cmpctblock directly, everyone else gets an inv.
func (m *Manager) announceBlock(hash wire.Hash, raw []byte, except string) {
	var cmpct *wire.CmpctBlockMsg
	for _, pc := range m.readyPeers(except) {
		if pc.sess.HasInventory(hash) {
			continue
		}
		pc.mu.Lock()
		compactPreferred := pc.preferCompact
		pc.mu.Unlock()
		if compactPreferred {
			if cmpct == nil {
				block, err := txcodec.ParseBlock(raw)
				if err != nil {
					m.log.Debugf("compact encode %s: %v", hash, err)
					compactPreferred = false
				} else {
					cmpct = compact.Build(block, handshakeNonce(), nil)
				}
			}
			if cmpct != nil {
				if err := m.sendOnChannel(pc, channelBlocks, cmpct); err != nil {
					m.log.Debugf("cmpctblock to %s: %v", pc.sess.ID, err)
				}
				continue
			}
		}
		inv := &wire.InvMsg{Items: []wire.InventoryItem{{Type: wire.InvBlock, Hash: hash}}}
		if err := m.send(pc, inv); err != nil {
			m.log.Debugf("block inv to %s: %v", pc.sess.ID, err)
		}
	}
}

func (m *Manager) handleCmpctBlock(pc *peerConn, msg *wire.CmpctBlockMsg) error {
	var mempool [][]byte
	if m.deps.Chain != nil {
		mempool = m.deps.Chain.GetMempoolTransactions()
	}
	rec, err := compact.Reconstruct(msg, mempool)
	if err != nil {
		return err
	}
	if rec.Complete() {
		raw, err := rec.Assemble()
		if err != nil {
			return err
		}
		return m.handleBlock(pc, &wire.BlockMsg{Hash: msg.HeaderHash, Raw: raw})
	}
	m.mu.Lock()
	m.reconstructions[msg.HeaderHash] = rec
	m.mu.Unlock()
	return m.send(pc, &wire.GetBlockTxnMsg{BlockHash: msg.HeaderHash, Indexes: rec.Missing})
}

func (m *Manager) handleGetBlockTxn(pc *peerConn, msg *wire.GetBlockTxnMsg) error {
	obj, ok := m.getObject(msg.BlockHash)
	if !ok || !obj.IsBlock {
		return m.send(pc, &wire.NotFoundMsg{Items: []wire.InventoryItem{
			{Type: wire.InvBlock, Hash: msg.BlockHash},
		}})
	}
	block, err := txcodec.ParseBlock(obj.Raw)
	if err != nil {
		return err
	}
	reply := &wire.BlockTxnMsg{BlockHash: msg.BlockHash}
	for _, idx := range msg.Indexes {
		if idx >= uint64(len(block.Txs)) {
			return fmt.Errorf("router: getblocktxn index %d out of range", idx)
		}
		reply.Txs = append(reply.Txs, block.Txs[idx].Raw)
	}
	return m.sendOnChannel(pc, channelBlocks, reply)
}

func (m *Manager) handleBlockTxn(pc *peerConn, msg *wire.BlockTxnMsg) error {
	m.mu.Lock()
	rec, ok := m.reconstructions[msg.BlockHash]
	if ok {
		delete(m.reconstructions, msg.BlockHash)
	}
	m.mu.Unlock()
	if !ok {
		// No matching reconstruction outstanding; discard.
		return nil
	}
	if err := rec.Fill(msg); err != nil {
		return err
	}
	raw, err := rec.Assemble()
	if err != nil {
		return err
	}
	return m.handleBlock(pc, &wire.BlockMsg{Hash: msg.BlockHash, Raw: raw})
}

func (m *Manager) handleGetCFilters(pc *peerConn, msg *wire.GetCFiltersMsg) error {
	if m.deps.Filters == nil {
		return nil
	}
	// Responses stream straight to the writer; the range is never
	// materialized.
	return m.deps.Filters.ServeGetCFilters(msg, func(reply *wire.CFilterMsg) error {
		return m.sendOnChannel(pc, channelFilters, reply)
	})
}

func (m *Manager) handleGetCFHeaders(pc *peerConn, msg *wire.GetCFHeadersMsg) error {
	if m.deps.Filters == nil {
		return nil
	}
	reply, err := m.deps.Filters.ServeGetCFHeaders(msg)
	if err != nil {
		return err
	}
	return m.sendOnChannel(pc, channelFilters, reply)
}

func (m *Manager) handleGetCFCheckpt(pc *peerConn, msg *wire.GetCFCheckptMsg) error {
	if m.deps.Filters == nil {
		return nil
	}
	reply, err := m.deps.Filters.ServeGetCFCheckpt(msg)
	if err != nil {
		return err
	}
	return m.send(pc, reply)
}

func (m *Manager) handleGetUTXOSet(pc *peerConn, msg *wire.GetUTXOSetMsg) error {
	if m.deps.UTXO == nil {
		return nil
	}
	commitment, count, ok := m.deps.UTXO.CommitmentAt(msg.Height, msg.BlockHash)
	if !ok {
		return nil
	}
	return m.send(pc, &wire.UTXOSetMsg{
		RequestID:  msg.RequestID,
		Height:     msg.Height,
		BlockHash:  msg.BlockHash,
		Commitment: commitment,
		UTXOCount:  count,
	})
}

func (m *Manager) handleGetFilteredBlock(pc *peerConn, msg *wire.GetFilteredBlockMsg) error {
	obj, ok := m.getObject(msg.BlockHash)
	if !ok || !obj.IsBlock {
		return nil
	}
	block, err := txcodec.ParseBlock(obj.Raw)
	if err != nil {
		return err
	}
	reply := &wire.FilteredBlockMsg{RequestID: msg.RequestID, BlockHash: msg.BlockHash}
	for _, tx := range block.Txs {
		reply.Txs = append(reply.Txs, tx.Raw)
	}
	if msg.WantCFilter && m.deps.Filters != nil {
		if f, ok := m.deps.Filters.FilterFor(msg.BlockHash); ok {
			reply.CFilter = f
		}
	}
	if m.deps.UTXO != nil {
		if commitment, _, ok := m.deps.UTXO.CommitmentAt(0, msg.BlockHash); ok {
			reply.Commitment = commitment
		}
	}
	return m.sendOnChannel(pc, channelBlocks, reply)
}

// handlePkgTxn validates a package and, on success, admits its
// transactions sequentially. Validation happens entirely before the first
// admission so a rejected package leaves the mempool untouched.
func (m *Manager) handlePkgTxn(pc *peerConn, msg *wire.PkgTxnMsg) error {
	pc.mu.Lock()
	negotiated := pc.packageRelay
	pc.mu.Unlock()
	if !negotiated {
		return fmt.Errorf("router: pkgtxn without sendpkgtxn negotiation")
	}
	pkg, reject := pkgrelay.Validate(msg, m.cfg.PackagePolicy)
	if reject != nil {
		return m.send(pc, reject)
	}
	if m.deps.Consensus != nil {
		for _, tx := range pkg.Txs {
			res, err := m.deps.Consensus.AcceptToMempool(tx.Raw, m.height.Load())
			if err != nil || res != chainaccess.AdmissionAccepted {
				m.log.Debugf("package %s: member %s rejected by mempool", pkg.ID, tx.ID)
				return m.send(pc, &wire.PkgTxnRejectMsg{
					PackageID: msg.PackageID,
					Reason:    wire.PkgRejectInvalidStructure,
				})
			}
		}
	}
	for _, tx := range pkg.Txs {
		m.broadcastInv(wire.InventoryItem{Type: wire.InvTx, Hash: tx.ID}, pc.sess.ID)
	}
	return nil
}

func (m *Manager) handleBanList(pc *peerConn, msg *wire.BanListMsg) error {
	if !pc.sess.Supports(session.NodeBanListSharing) {
		return nil
	}
	merged, err := banshare.Import(msg, m.Bans, time.Now())
	if err != nil {
		return err
	}
	if merged > 0 {
		m.syncFirewall()
	}
	m.log.Infof("merged %d shared ban entries from %s", merged, pc.sess.ID)
	return nil
}

func (m *Manager) handleGetBanList(pc *peerConn, msg *wire.GetBanListMsg) error {
	if m.deps.BanShareKey == nil {
		return nil
	}
	reply, err := banshare.Build(m.Bans, !msg.DigestOnly, m.deps.BanShareKey)
	if err != nil {
		return err
	}
	return m.send(pc, reply)
}

func (m *Manager) handleGetAddr(pc *peerConn) error {
	reply := &wire.AddrMsg{}
	for _, endpoint := range m.Addrs.Sample(32) {
		if na, err := endpointToNetAddr(endpoint); err == nil {
			reply.Addrs = append(reply.Addrs, na)
		}
	}
	return m.send(pc, reply)
}

func (m *Manager) handleAddr(pc *peerConn, msg *wire.AddrMsg) error {
	for _, a := range msg.Addrs {
		addr := transport.Addr{Type: transport.TCP, Endpoint: netAddrToEndpoint(a)}
		m.Addrs.Record(addr, session.Services(a.Services))
	}
	return nil
}

func (m *Manager) handleMempool(pc *peerConn) error {
	if m.deps.Chain == nil {
		return nil
	}
	reply := &wire.InvMsg{}
	for _, raw := range m.deps.Chain.GetMempoolTransactions() {
		reply.Items = append(reply.Items, wire.InventoryItem{
			Type: wire.InvTx,
			Hash: txcodec.Hash(raw),
		})
	}
	return m.send(pc, reply)
}

func (m *Manager) handleGetHeaders(pc *peerConn, msg *wire.GetHeadersMsg) error {
	if m.deps.Chain == nil {
		return nil
	}
	headers, err := m.deps.Chain.GetHeadersForLocator(msg.Locator, msg.HashStop)
	if err != nil {
		return err
	}
	return m.send(pc, &wire.HeadersMsg{Headers: headers})
}

func endpointToNetAddr(endpoint string) (wire.NetAddr, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return wire.NetAddr{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return wire.NetAddr{}, fmt.Errorf("router: unparseable host %q", host)
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

func netAddrToEndpoint(na wire.NetAddr) string {
	ip := net.IP(na.IP[:])
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", na.Port))
}
