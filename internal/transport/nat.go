package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"
)

// natLeaseSeconds is the gateway mapping lease requested on Map.
const natLeaseSeconds = 3600

// PortMapper opens the node's listen port on the local gateway and learns
// the externally dialable endpoint for it. NAT-PMP is tried first, then
// UPnP; when neither protocol finds a gateway the caller falls back to
// ReflexiveCandidates for a STUN-discovered endpoint.
type PortMapper struct {
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1
	externalIP net.IP
	mappedPort int
}

// DiscoverGateway probes the local gateway for NAT-PMP, then UPnP, and
// records the external IP it reports.
func DiscoverGateway() (*PortMapper, error) {
	m := &PortMapper{}
	if gw, err := gateway.DiscoverGateway(); err == nil {
		client := natpmp.NewClient(gw)
		if res, err := client.GetExternalAddress(); err == nil {
			m.pmp = client
			m.externalIP = net.IPv4(
				res.ExternalIPAddress[0], res.ExternalIPAddress[1],
				res.ExternalIPAddress[2], res.ExternalIPAddress[3],
			)
		}
	}
	if m.externalIP == nil {
		if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
			if ipStr, err := clients[0].GetExternalIPAddress(); err == nil {
				m.upnp = clients[0]
				m.externalIP = net.ParseIP(ipStr)
			}
		}
	}
	if m.externalIP == nil {
		return nil, fmt.Errorf("transport: no nat gateway found")
	}
	return m, nil
}

// ExternalIP returns the gateway-reported public address.
func (m *PortMapper) ExternalIP() net.IP { return m.externalIP }

// Map forwards the given TCP/UDP port on the gateway to this host.
func (m *PortMapper) Map(port int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, natLeaseSeconds); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	if m.upnp != nil {
		err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port),
			m.externalIP.String(), true, "relaynet", natLeaseSeconds)
		if err == nil {
			m.mappedPort = port
			return nil
		}
	}
	return fmt.Errorf("transport: port mapping failed")
}

// ExternalEndpoint returns the dialable "ip:port" once Map succeeded.
func (m *PortMapper) ExternalEndpoint() string {
	if m.mappedPort == 0 || m.externalIP == nil {
		return ""
	}
	return net.JoinHostPort(m.externalIP.String(), strconv.Itoa(m.mappedPort))
}

// Unmap releases the mapping. It is a no-op when nothing was mapped.
func (m *PortMapper) Unmap() error {
	if m.mappedPort == 0 {
		return nil
	}
	port := m.mappedPort
	m.mappedPort = 0
	if m.pmp != nil {
		_, err := m.pmp.AddPortMapping("tcp", port, port, 0)
		return err
	}
	if m.upnp != nil {
		return m.upnp.DeletePortMapping("", uint16(port), "TCP")
	}
	return nil
}

// ReflexiveCandidates gathers host and server-reflexive UDP candidates
// via STUN. The reflexive entries are the externally dialable endpoints
// to advertise when no gateway mapping protocol is available.
func ReflexiveCandidates(ctx context.Context, stunServer string) ([]string, error) {
	cfg := &ice.AgentConfig{
		NetworkTypes: []ice.NetworkType{ice.NetworkTypeUDP4},
	}
	if stunServer != "" {
		uri, err := stun.ParseURI(stunServer)
		if err != nil {
			return nil, fmt.Errorf("transport: bad stun uri: %w", err)
		}
		cfg.Urls = []*stun.URI{uri}
	}
	agent, err := ice.NewAgent(cfg)
	if err != nil {
		return nil, err
	}
	defer agent.Close()

	found := make(chan string, 16)
	err = agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			close(found)
			return
		}
		select {
		case found <- fmt.Sprintf("%s:%d", c.Address(), c.Port()):
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	if err := agent.GatherCandidates(); err != nil {
		return nil, err
	}

	var out []string
	timer := time.NewTimer(3 * time.Second)
	defer timer.Stop()
	for {
		select {
		case c, ok := <-found:
			if !ok {
				return out, nil
			}
			out = append(out, c)
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
