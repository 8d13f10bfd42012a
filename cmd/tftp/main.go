// The tftp command bundles the file server, the interactive client and the
// supporting tools behind one binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcrodman/tftp/internal/core"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:           "tftp",
		Short:         "TCP file transfer server, client and related tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", ".", "Path to the directory containing config.yaml")

	dumpCmd.Flags().Uint16VarP(&PortFlag, "port", "p", 0, "Server port in the capture (defaults to the configured port)")
	dumpCmd.Flags().BoolVarP(&SummarizeFlag, "summarize", "s", false, "Only print the packet types")
	historyCmd.Flags().IntVarP(&LimitFlag, "limit", "n", 20, "Number of transfers to show")
	historyCmd.Flags().StringVarP(&FileFlag, "file", "f", "", "Show every transfer of this file instead")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		return nil, fmt.Errorf("error loading config from %s: %w", ConfigFlag, err)
	}
	return cfg, nil
}
