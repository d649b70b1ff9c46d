package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/ui"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the datasets configured in the catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		datasets, err := catalog.LoadDatasets(cfg.DatasetsPath)
		if err != nil {
			return fmt.Errorf("failed to load dataset catalogue: %w", err)
		}
		fmt.Fprintln(os.Stdout, ui.RenderDatasets(datasets))
		return nil
	},
}
