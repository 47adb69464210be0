package router

import (
	"context"
	"time"

	"relaynet/internal/transport"
)

// discoveryInterval paces the outbound-dial passes.
const discoveryInterval = 30 * time.Second

// discoveryLoop keeps the peer count near the configured outbound target
// by dialing address-database candidates, falling back to freshly
// resolved DNS seeds when the database runs dry.
func (m *Manager) discoveryLoop() {
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.discoverOnce(m.ctx)
		}
	}
}

// discoverOnce performs a single pass: sample candidates, supplement from
// DNS seeds when short, and dial until the target is met. Failed dials
// are logged and skipped; bans and firewall rules apply inside Connect.
func (m *Manager) discoverOnce(ctx context.Context) {
	need := m.cfg.TargetOutbound - m.PeerCount()
	if need <= 0 {
		return
	}
	candidates := m.Addrs.Sample(need)
	if len(candidates) < need && m.deps.Seeds != nil {
		seeded, err := m.deps.Seeds.Resolve(ctx)
		if err != nil {
			m.log.Debugf("dns seed resolution: %v", err)
		} else {
			candidates = append(candidates, seeded...)
		}
	}
	connected := make(map[string]bool)
	for _, pc := range m.readyPeers("") {
		connected[pc.sess.Addr.Endpoint] = true
	}
	for _, endpoint := range candidates {
		if m.PeerCount() >= m.cfg.TargetOutbound {
			return
		}
		if connected[endpoint] {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := m.Connect(dialCtx, transport.Addr{Type: transport.TCP, Endpoint: endpoint})
		cancel()
		if err != nil {
			m.log.Debugf("discovery dial %s: %v", endpoint, err)
		}
	}
}
