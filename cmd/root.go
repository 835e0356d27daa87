package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/herald/cmd/gen"
	"github.com/luma/herald/internal/meta"
)

var RootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Herald is a real-time event gateway",
	Long: `Herald relays named JSON events between clients over TCP and WebSockets,
with optional acknowledgements and broadcasts to every connected client.`,
	SilenceUsage: true,
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of herald",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo().String())
	},
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
