package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/parley/cmd/gen"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley is a length-prefixed TCP chat relay",
	Long: `Parley is a central chat relay and its CLI client.

Clients register a unique handle, then exchange unicast, multicast, and
broadcast messages through the relay, which routes but never rewrites them.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(ConnectCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
