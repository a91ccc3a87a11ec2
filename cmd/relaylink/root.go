package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relaylink",
	Short: "Relay request-response transactions between two transports",
	Long: `Relaylink bridges a primary and a secondary transport endpoint.
A request arriving on either endpoint is forwarded to the other one, and the
eventual reply is routed back to whichever endpoint started the exchange. Each
direction allows one outstanding request at a time; overlapping requests are
answered with a busy indication.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
