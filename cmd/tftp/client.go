package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dcrodman/tftp/internal/client"
	"github.com/dcrodman/tftp/internal/core"
	coreclient "github.com/dcrodman/tftp/internal/core/client"
)

var clientCmd = &cobra.Command{
	Use:   "client [address]",
	Short: "Connects to a file server and reads commands from stdin",
	Long: `Connects to a file server and reads one command per line from stdin:

  LOGRQ <username>   log in
  WRQ <filename>     upload a file from the download directory
  RRQ <filename>     download a file into the download directory
  DELRQ <filename>   delete a file on the server
  DIRQ               list the files on the server
  DISC               disconnect`,
	Args: cobra.MaximumNArgs(1),
	RunE: ClientCommand,
}

func ClientCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := core.NewConsoleLogger(cfg.Logging.LogLevel)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	address := cfg.Client.ServerAddress
	if len(args) > 0 {
		address = args[0]
	}

	dir := cfg.QualifiedPath(cfg.Client.DownloadDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating download directory: %w", err)
	}

	conn, err := net.Dial("tcp", address)
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", address, err)
	}
	logger.Infof("connected to %s", address)

	c := coreclient.NewClient(0, conn)
	c.ClientSide = true
	if cfg.Debugging.PacketLoggingEnabled {
		c.Debug = true
		c.DebugWriter = os.Stderr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := client.NewSession(dir, c, os.Stdout, logger)
	if err := client.Run(ctx, s, c, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
