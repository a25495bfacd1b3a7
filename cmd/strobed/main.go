// Command strobed is the Strobe daemon: a dynamic instrumentation
// controller that launches native binaries, attaches a tracing agent,
// and exposes a JSON-RPC tool-call surface over a local socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagWorkspace string
	flagLogJSON   bool
	flagJSON      bool
)

func main() {
	root := &cobra.Command{
		Use:   "strobed",
		Short: "Strobe dynamic instrumentation daemon",
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "workspace root (locates .strobe/ state)")
	root.PersistentFlags().BoolVar(&flagLogJSON, "log-json", true, "emit structured logs as JSON")
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit command output as JSON")

	root.AddCommand(serveCmd, statusCmd, stopCmd, logsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
