package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dcrodman/tftp/internal/core/data"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists the most recent transfers recorded by the server",
	Args:  cobra.NoArgs,
	RunE:  HistoryCommand,
}

var (
	LimitFlag int
	FileFlag  string
)

func HistoryCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := data.Initialize(cfg.Database.Engine, cfg.DatabaseSource(), cfg.Debugging.DatabaseLoggingEnabled)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	} else if db == nil {
		return errors.New("no database engine configured (database.engine)")
	}
	defer data.Shutdown(db)

	records, err := findTransfers(db, FileFlag, LimitFlag)
	if err != nil {
		return fmt.Errorf("error reading transfers: %w", err)
	}
	return printTransfers(os.Stdout, records)
}

// findTransfers returns every transfer of filename when one is given, otherwise
// the most recent limit transfers.
func findTransfers(db *gorm.DB, filename string, limit int) ([]data.TransferRecord, error) {
	if filename != "" {
		return data.TransfersForFile(db, filename)
	}
	return data.RecentTransfers(db, limit)
}

func printTransfers(out io.Writer, records []data.TransferRecord) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tUSER\tOPERATION\tFILE\tSIZE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(r.CreatedAt), r.Username, r.Operation, r.Filename, humanize.Bytes(uint64(r.Bytes)))
	}
	return w.Flush()
}
