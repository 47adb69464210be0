package wire

// Command is a 12-byte, zero-padded ASCII message name carried in the wire
// envelope.
type Command string

// Mainline Bitcoin commands this node understands.
const (
	CmdVersion     Command = "version"
	CmdVerack      Command = "verack"
	CmdPing        Command = "ping"
	CmdPong        Command = "pong"
	CmdGetHeaders  Command = "getheaders"
	CmdHeaders     Command = "headers"
	CmdGetBlocks   Command = "getblocks"
	CmdBlock       Command = "block"
	CmdGetData     Command = "getdata"
	CmdInv         Command = "inv"
	CmdTx          Command = "tx"
	CmdNotFound    Command = "notfound"
	CmdGetAddr     Command = "getaddr"
	CmdAddr        Command = "addr"
	CmdMempool     Command = "mempool"
	CmdReject      Command = "reject"
	CmdFeeFilter   Command = "feefilter"
	CmdSendCmpct   Command = "sendcmpct"
	CmdCmpctBlock  Command = "cmpctblock"
	CmdGetBlockTxn Command = "getblocktxn"
	CmdBlockTxn    Command = "blocktxn"
)

// Extension commands layered on top of the base protocol.
const (
	CmdGetCFilters     Command = "getcfilters"
	CmdCFilter         Command = "cfilter"
	CmdGetCFHeaders    Command = "getcfheaders"
	CmdCFHeaders       Command = "cfheaders"
	CmdGetCFCheckpt    Command = "getcfcheckpt"
	CmdCFCheckpt       Command = "cfcheckpt"
	CmdGetUTXOSet      Command = "getutxoset"
	CmdUTXOSet         Command = "utxoset"
	CmdGetFilteredBlk  Command = "getfilteredblock"
	CmdFilteredBlk     Command = "filteredblock"
	CmdSendPkgTxn      Command = "sendpkgtxn"
	CmdPkgTxn          Command = "pkgtxn"
	CmdPkgTxnReject    Command = "pkgtxnreject"
	CmdBanList         Command = "banlist"
	CmdGetBanList      Command = "getbanlist"
)

// allowedCommands is the full admission allow-list applied by the codec
// before a payload is ever decoded.
var allowedCommands = map[Command]struct{}{
	CmdVersion: {}, CmdVerack: {}, CmdPing: {}, CmdPong: {},
	CmdGetHeaders: {}, CmdHeaders: {}, CmdGetBlocks: {}, CmdBlock: {},
	CmdGetData: {}, CmdInv: {}, CmdTx: {}, CmdNotFound: {},
	CmdGetAddr: {}, CmdAddr: {}, CmdMempool: {}, CmdReject: {},
	CmdFeeFilter: {}, CmdSendCmpct: {}, CmdCmpctBlock: {},
	CmdGetBlockTxn: {}, CmdBlockTxn: {},
	CmdGetCFilters: {}, CmdCFilter: {}, CmdGetCFHeaders: {}, CmdCFHeaders: {},
	CmdGetCFCheckpt: {}, CmdCFCheckpt: {},
	CmdGetUTXOSet: {}, CmdUTXOSet: {}, CmdGetFilteredBlk: {}, CmdFilteredBlk: {},
	CmdSendPkgTxn: {}, CmdPkgTxn: {}, CmdPkgTxnReject: {},
	CmdBanList: {}, CmdGetBanList: {},
}

// IsAllowed reports whether cmd is one of the commands this node parses.
func IsAllowed(cmd Command) bool {
	_, ok := allowedCommands[cmd]
	return ok
}
