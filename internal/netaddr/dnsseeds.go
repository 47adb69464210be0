package netaddr

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// SeedResolver turns configured DNS seed hostnames into dialable peer
// addresses at bootstrap, supplementing the static bootstrap list.
type SeedResolver struct {
	seeds    []string
	port     uint16
	resolver *net.Resolver
}

// NewSeedResolver resolves the given seed hostnames to "host:port"
// addresses with the default P2P port.
func NewSeedResolver(seeds []string, port uint16) *SeedResolver {
	return &SeedResolver{seeds: seeds, port: port, resolver: net.DefaultResolver}
}

// Resolve looks every seed up and returns the union of resolved addresses.
// Individual seed failures are logged and skipped; an error is returned
// only when no seed yields any address.
func (r *SeedResolver) Resolve(ctx context.Context) ([]string, error) {
	portSuffix := strconv.Itoa(int(r.port))
	var out []string
	for _, host := range r.seeds {
		ips, err := r.resolver.LookupHost(ctx, host)
		if err != nil {
			logrus.Debugf("dns seed %s: %v", host, err)
			continue
		}
		for _, ip := range ips {
			out = append(out, net.JoinHostPort(ip, portSuffix))
		}
	}
	if len(out) == 0 && len(r.seeds) > 0 {
		return nil, fmt.Errorf("netaddr: no dns seed resolved")
	}
	return out, nil
}
