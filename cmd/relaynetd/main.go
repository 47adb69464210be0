// Command relaynetd runs the relay node: transports, peer sessions, relay
// engines and the request router, plus the operational CLI groups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"relaynet/cmd/cli"
	"relaynet/core"
	"relaynet/internal/chainaccess"
	"relaynet/internal/netaddr"
	"relaynet/internal/relay/dandelion"
	"relaynet/internal/relay/filters"
	"relaynet/internal/router"
	"relaynet/internal/session"
	"relaynet/internal/transport"
	"relaynet/internal/wire"
	pkgconfig "relaynet/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "relaynetd", Short: "Bitcoin relay node"}
	root.AddCommand(startCmd())
	cli.RegisterNAT(root)
	root.AddCommand(cli.FirewallCmd)
	root.AddCommand(cli.NewHealthCommand())
	root.AddCommand(cli.URICmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var env string
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := pkgconfig.Load(env)
			if err != nil {
				return err
			}
			return run(cfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "configuration environment to merge")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9345", "metrics/health listen address")
	return cmd
}

func run(cfg *pkgconfig.Config, metricsAddr string) error {
	if lv, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logrus.SetLevel(lv)
	}
	log := logrus.StandardLogger()

	listenTCP, err := listenEndpoint(cfg.Network.ListenAddr)
	if err != nil {
		return err
	}

	index := chainaccess.NewChainIndex()
	filterSrv := filters.NewServer(filters.NewService(index))
	seeds := netaddr.NewSeedResolver(cfg.Network.DNSSeeds, 8333)

	mgr := router.NewManager(router.Config{
		Network:           networkFor(cfg.Network.ProtocolVersion),
		ListenTCP:         listenTCP,
		ListenQuinn:       listenTCP,
		ListenIroh:        cfg.Network.ListenAddr,
		Transports:        transportsFor(cfg.Network.TransportPreference),
		MaxPeers:          cfg.Network.MaxPeers,
		TargetOutbound:    outboundTarget(cfg.Network.MaxPeers),
		EnablePortMapping: true,
		Limits: session.Limits{
			Burst:           cfg.RateLimit.Burst,
			RefillPerSecond: float64(cfg.RateLimit.RefillPerSecond),
		},
		Dandelion: dandelion.Config{
			StemTimeout:      time.Duration(cfg.Dandelion.StemTimeoutMS) * time.Millisecond,
			FluffProbability: cfg.Dandelion.FluffProbability,
			MaxStemHops:      cfg.Dandelion.MaxStemHops,
		},
		Services: session.Services(0).
			With(session.NodeNetwork).
			With(session.NodeCompactFilters).
			With(session.NodePackageRelay).
			With(session.NodeDandelion).
			With(session.NodeBanListSharing),
		UserAgent:   "/relaynet:0.1.0/",
		ProtocolVer: 70015,
	}, router.Deps{Filters: filterSrv, Seeds: seeds}, log)

	if err := mgr.Start(); err != nil {
		return err
	}
	defer mgr.Close()

	health, err := core.NewHealthLogger(mgr, mgr.Stats(), cfg.Logging.File)
	if err != nil {
		return err
	}
	defer health.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go health.RunMetricsCollector(ctx, 15*time.Second)
	srv, err := health.StartMetricsServer(metricsAddr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		_ = health.ShutdownMetricsServer(shutdownCtx, srv)
	}()

	// Dial static bootstrap peers; the discovery loop supplements them
	// from the address database and DNS seeds.
	for _, peer := range cfg.Network.BootstrapPeers {
		if _, err := mgr.Connect(ctx, transport.Addr{Type: transport.TCP, Endpoint: peer}); err != nil {
			log.Warnf("bootstrap dial %s: %v", peer, err)
		}
	}

	log.Infof("relaynetd started, listening on %s", listenTCP)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}

// listenEndpoint accepts either "host:port" or a "/ip4/.../tcp/<port>"
// multiaddr and returns a host:port endpoint.
func listenEndpoint(addr string) (string, error) {
	if !strings.HasPrefix(addr, "/") {
		return addr, nil
	}
	parts := strings.Split(addr, "/")
	host := "0.0.0.0"
	port := ""
	for i := 0; i < len(parts)-1; i++ {
		switch parts[i] {
		case "ip4", "ip6":
			host = parts[i+1]
		case "tcp", "udp":
			port = parts[i+1]
		}
	}
	if port == "" {
		return "", fmt.Errorf("no port in listen address %q", addr)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("bad port in listen address %q", addr)
	}
	return host + ":" + port, nil
}

// outboundTarget sizes the discovery loop's goal well under the
// connection cap so inbound slots stay available.
func outboundTarget(maxPeers int) int {
	if maxPeers <= 0 {
		return 8
	}
	target := maxPeers / 8
	if target < 8 {
		target = 8
	}
	return target
}

func networkFor(name string) wire.Network {
	switch name {
	case "testnet":
		return wire.Testnet
	case "regtest":
		return wire.Regtest
	default:
		return wire.Mainnet
	}
}

func transportsFor(names []string) []transport.Type {
	out := []transport.Type{transport.TCP}
	for _, n := range names {
		switch strings.ToLower(n) {
		case "quinn", "quic", "quic_direct":
			out = append(out, transport.Quinn)
		case "iroh", "quic_pk":
			out = append(out, transport.Iroh)
		}
	}
	return out
}
