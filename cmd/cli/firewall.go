// cmd/cli/firewall.go - manage runtime firewall rules
package cli

import (
	"fmt"
	"net"
	"sync"

	"github.com/spf13/cobra"
	core "relaynet/core"
)

var (
	firewallOnce sync.Once
)

func ensureFirewall(cmd *cobra.Command, _ []string) error {
	firewallOnce.Do(func() { core.InitFirewall() })
	return nil
}

var firewallCmd = &cobra.Command{
	Use:               "firewall",
	Short:             "Manage firewall rules",
	PersistentPreRunE: ensureFirewall,
}

var fwBlockPeerCmd = &cobra.Command{
	Use:   "block-peer <peer-id>",
	Short: "Block a peer by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core.CurrentFirewall().BlockPeer(core.PeerID(args[0]))
		fmt.Printf("peer %s blocked\n", args[0])
		return nil
	},
}

var fwUnblockPeerCmd = &cobra.Command{
	Use:   "unblock-peer <peer-id>",
	Short: "Remove a peer id from the block list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core.CurrentFirewall().UnblockPeer(core.PeerID(args[0]))
		fmt.Printf("peer %s unblocked\n", args[0])
		return nil
	},
}

var fwBlockIPCmd = &cobra.Command{
	Use:   "block-ip <ip>",
	Short: "Block a peer IP address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip := args[0]
		if err := core.CurrentFirewall().BlockIP(ip); err != nil {
			return err
		}
		fmt.Printf("ip %s blocked\n", ip)
		return nil
	},
}

var fwUnblockIPCmd = &cobra.Command{
	Use:   "unblock-ip <ip>",
	Short: "Remove a peer IP from the block list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core.CurrentFirewall().UnblockIP(args[0])
		fmt.Printf("ip %s unblocked\n", args[0])
		return nil
	},
}

var fwListCmd = &cobra.Command{
	Use:   "list",
	Short: "Display current firewall rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rules := core.CurrentFirewall().ListRules()
		for _, id := range rules.Peers {
			fmt.Printf("peer %s\n", id)
		}
		for _, ip := range rules.IPs {
			if net.ParseIP(ip) != nil {
				fmt.Printf("ip %s\n", ip)
			}
		}
		return nil
	},
}

func init() {
	firewallCmd.AddCommand(fwBlockPeerCmd, fwUnblockPeerCmd,
		fwBlockIPCmd, fwUnblockIPCmd, fwListCmd)
}

// FirewallCmd is exported for registration by the root command.
var FirewallCmd = firewallCmd
