package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/ledger"
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts <dataset_id>",
	Short: "List the processing receipts recorded for a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		ds, err := catalog.GetDataset(args[0], cfg.DatasetsPath)
		if err != nil {
			return err
		}

		led := ledger.New(cfg, logger)
		paths, err := led.ListReceipts(ds)
		if err != nil {
			return fmt.Errorf("failed to list receipts for %s: %w", ds.ID, err)
		}
		if len(paths) == 0 {
			fmt.Fprintf(os.Stdout, "no receipts recorded for %s\n", ds.ID)
			return nil
		}

		for _, p := range paths {
			r, err := ledger.ReadReceipt(p)
			if err != nil {
				logger.Warn("Skipping unreadable receipt.", "path", p, "error", err)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s\n  sha256: %s\n  downloaded: %s\n  processed: %s\n",
				filepath.Base(r.RawPath), r.SHA256, r.DownloadedAt, r.ProcessedAt)
		}
		return nil
	},
}
