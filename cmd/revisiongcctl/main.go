// Command revisiongcctl runs the version garbage collector against a
// document store and reports the resulting stats.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "revisiongcctl",
		Short: "revisiongcctl sweeps a document store's stale node and revision documents.",
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
