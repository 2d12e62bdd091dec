package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// gitVersion is overridden at build time via -ldflags.
var gitVersion = "dev"

func newVersionCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"gitVersion": gitVersion,
				"goVersion":  runtime.Version(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			}

			switch output {
			case "json":
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			case "short":
				fmt.Printf("revisiongcctl %s\n", info["gitVersion"])
			default:
				fmt.Printf("revisiongcctl version: %s\n", info["gitVersion"])
				fmt.Printf("Go version: %s\n", info["goVersion"])
				fmt.Printf("Platform: %s\n", info["platform"])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format. One of: json|short")
	return cmd
}
