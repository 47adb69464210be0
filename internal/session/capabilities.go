package session

// ServiceFlag is a single bit of the 64-bit service bitset advertised in a
// peer's version message.
type ServiceFlag uint64

// Standard Bitcoin service bits plus this node's relay extensions. Bit
// positions must not overlap.
const (
	NodeNetwork        ServiceFlag = 1 << 0
	NodeGetUTXO        ServiceFlag = 1 << 1
	NodeBloom          ServiceFlag = 1 << 2
	NodeWitness        ServiceFlag = 1 << 3
	NodeCompactFilters ServiceFlag = 1 << 4
	NodeNetworkLimited ServiceFlag = 1 << 10

	NodeDandelion       ServiceFlag = 1 << 24
	NodePackageRelay    ServiceFlag = 1 << 25
	NodeFIBRE           ServiceFlag = 1 << 26
	NodeUTXOCommitments ServiceFlag = 1 << 27
	NodeBanListSharing  ServiceFlag = 1 << 28
)

// Services is the 64-bit bitset advertised by a peer.
type Services uint64

// Has reports whether flag is set.
func (s Services) Has(flag ServiceFlag) bool { return s&Services(flag) != 0 }

// With returns s with flag set.
func (s Services) With(flag ServiceFlag) Services { return s | Services(flag) }
