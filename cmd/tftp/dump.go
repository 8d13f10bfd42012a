package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcrodman/tftp/internal/sniffer"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [capture.pcap]",
	Short: "Prints the protocol packets found in a pcap capture",
	Args:  cobra.ExactArgs(1),
	RunE:  DumpCommand,
}

var (
	PortFlag      uint16
	SummarizeFlag bool
)

func DumpCommand(cmd *cobra.Command, args []string) error {
	port := PortFlag
	if port == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port = uint16(cfg.Port)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("error opening capture: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	s := sniffer.New(port)
	if SummarizeFlag {
		return s.Summarize(bufio.NewReader(f), w)
	}
	return s.Print(bufio.NewReader(f), w)
}
