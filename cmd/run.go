package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/db"
	"github.com/civicdata/kawasaki-etl/internal/orchestrator"
	"github.com/civicdata/kawasaki-etl/internal/ui"
)

var runAll bool

var runCmd = &cobra.Command{
	Use:   "run [dataset_id...]",
	Short: "Run the pipeline for the named datasets, or --all for the whole catalogue",
	Long: `Runs the full pipeline for each dataset: download the source file if it
is not already present, skip it if an existing receipt matches its content
digest, otherwise normalize it and upsert the rows into the database.

Datasets are processed one at a time. A failure in one dataset is reported
and does not stop the others.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		if !runAll && len(args) == 0 {
			return fmt.Errorf("no dataset IDs given; pass dataset IDs or --all")
		}

		datasets, err := catalog.LoadDatasets(cfg.DatasetsPath)
		if err != nil {
			return fmt.Errorf("failed to load dataset catalogue: %w", err)
		}
		if !runAll {
			selected := make(map[string]catalog.Dataset, len(args))
			for _, id := range args {
				ds, ok := datasets[id]
				if !ok {
					return fmt.Errorf("unknown dataset %q (see 'kawaetl datasets')", id)
				}
				selected[id] = ds
			}
			datasets = selected
		}

		ctx := context.Background()
		conn, err := db.Open(ctx, cfg.DBAlias, cfg.DBConfigPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer conn.Close()

		orch := orchestrator.New(cfg, logger)
		outcomes, runErr := orch.RunAll(ctx, datasets, conn)

		fmt.Fprintln(os.Stdout, ui.RenderOutcomes(outcomes))

		if runErr != nil {
			return fmt.Errorf("pipeline completed with errors: %w", runErr)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runAll, "all", false, "Run every dataset in the catalogue")
}
