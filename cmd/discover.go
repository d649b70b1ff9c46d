package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
)

var discoverSuffixes []string

var discoverCmd = &cobra.Command{
	Use:   "discover <page_url>",
	Short: "List downloadable data files linked from a catalogue page",
	Long: `Fetches an open-data catalogue page and prints the absolute URLs of
linked data files. Useful for finding the source URL to put in the dataset
catalogue when the portal page changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()

		suffixes := discoverSuffixes
		if len(suffixes) == 0 {
			suffixes = catalog.DataFileSuffixes
		}

		links, err := catalog.DiscoverResources(context.Background(), args[0], suffixes, cfg.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		if len(links) == 0 {
			fmt.Fprintln(os.Stdout, "no data files linked from page")
			return nil
		}
		for _, l := range links {
			fmt.Fprintln(os.Stdout, l)
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverSuffixes, "suffix", nil, "File suffixes to match (default: .csv, .xlsx, .xls, .zip, .pdf)")
}
