// cmd/cli/uri.go - BIP21 payment URI helpers
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"relaynet/pkg/bip21"
)

var uriCmd = &cobra.Command{
	Use:   "uri",
	Short: "BIP21 payment URI tools",
}

var uriParseCmd = &cobra.Command{
	Use:   "parse <uri>",
	Short: "Parse a bitcoin: payment URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := bip21.Parse(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(u)
	},
}

var uriBuildCmd = &cobra.Command{
	Use:   "build <address>",
	Short: "Build a bitcoin: payment URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u := &bip21.URI{Address: args[0], Params: map[string]string{}}
		if amt, _ := cmd.Flags().GetFloat64("amount"); amt > 0 {
			u.Amount = &amt
		}
		u.Label, _ = cmd.Flags().GetString("label")
		u.Message, _ = cmd.Flags().GetString("message")
		fmt.Fprintln(cmd.OutOrStdout(), u.String())
		return nil
	},
}

func init() {
	uriBuildCmd.Flags().Float64("amount", 0, "amount in BTC")
	uriBuildCmd.Flags().String("label", "", "recipient label")
	uriBuildCmd.Flags().String("message", "", "payment message")
	uriCmd.AddCommand(uriParseCmd, uriBuildCmd)
}

// URICmd exposes the BIP21 tools for registration.
var URICmd = uriCmd
