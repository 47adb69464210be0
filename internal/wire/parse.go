package wire

import "fmt"

// NewMessage returns a zero value of the payload type for cmd.
func NewMessage(cmd Command) (Message, bool) {
	switch cmd {
	case CmdVersion:
		return &VersionMsg{}, true
	case CmdVerack:
		return &VerackMsg{}, true
	case CmdPing:
		return &PingMsg{}, true
	case CmdPong:
		return &PongMsg{}, true
	case CmdGetHeaders:
		return &GetHeadersMsg{}, true
	case CmdHeaders:
		return &HeadersMsg{}, true
	case CmdGetBlocks:
		return &GetBlocksMsg{}, true
	case CmdBlock:
		return &BlockMsg{}, true
	case CmdGetData:
		return &GetDataMsg{}, true
	case CmdInv:
		return &InvMsg{}, true
	case CmdTx:
		return &TxMsg{}, true
	case CmdNotFound:
		return &NotFoundMsg{}, true
	case CmdGetAddr:
		return &GetAddrMsg{}, true
	case CmdAddr:
		return &AddrMsg{}, true
	case CmdMempool:
		return &MempoolMsg{}, true
	case CmdReject:
		return &RejectMsg{}, true
	case CmdFeeFilter:
		return &FeeFilterMsg{}, true
	case CmdSendCmpct:
		return &SendCmpctMsg{}, true
	case CmdCmpctBlock:
		return &CmpctBlockMsg{}, true
	case CmdGetBlockTxn:
		return &GetBlockTxnMsg{}, true
	case CmdBlockTxn:
		return &BlockTxnMsg{}, true
	case CmdGetCFilters:
		return &GetCFiltersMsg{}, true
	case CmdCFilter:
		return &CFilterMsg{}, true
	case CmdGetCFHeaders:
		return &GetCFHeadersMsg{}, true
	case CmdCFHeaders:
		return &CFHeadersMsg{}, true
	case CmdGetCFCheckpt:
		return &GetCFCheckptMsg{}, true
	case CmdCFCheckpt:
		return &CFCheckptMsg{}, true
	case CmdGetUTXOSet:
		return &GetUTXOSetMsg{}, true
	case CmdUTXOSet:
		return &UTXOSetMsg{}, true
	case CmdGetFilteredBlk:
		return &GetFilteredBlockMsg{}, true
	case CmdFilteredBlk:
		return &FilteredBlockMsg{}, true
	case CmdSendPkgTxn:
		return &SendPkgTxnMsg{}, true
	case CmdPkgTxn:
		return &PkgTxnMsg{}, true
	case CmdPkgTxnReject:
		return &PkgTxnRejectMsg{}, true
	case CmdBanList:
		return &BanListMsg{}, true
	case CmdGetBanList:
		return &GetBanListMsg{}, true
	default:
		return nil, false
	}
}

// ParseMessage decodes an envelope's payload into its concrete type.
func ParseMessage(env *Envelope) (Message, error) {
	msg, ok := NewMessage(env.Command)
	if !ok {
		return nil, fmt.Errorf("wire: no decoder for command %q", env.Command)
	}
	if err := msg.Decode(env.Payload); err != nil {
		return nil, err
	}
	return msg, nil
}
