package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/civicdata/kawasaki-etl/internal/config"
)

var (
	// Config flags, bound in init().
	dataDir      string
	datasetsPath string
	dbConfigPath string
	dbAlias      string
	httpTimeout  time.Duration
	logFormat    string
	logLevel     string
	logOutput    string

	// Populated in PersistentPreRunE.
	rootLogger *slog.Logger
	appConfig  config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "kawaetl",
	Short: "Fetch Kawasaki open-data files, normalize them, and load them into a database.",
	Long: `kawaetl runs the municipal open-data pipeline: it downloads the source
files named in the dataset catalogue, converts them to UTF-8 CSV with
normalized headers, and upserts the rows into the configured database.

Processed files are recorded as receipts under the metadata directory, so
re-running the pipeline skips any file whose content has not changed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env next to the binary may supply DB_DSN and friends.
		_ = godotenv.Load()

		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		appConfig = config.Default()
		appConfig.DatasetsPath = datasetsPath
		appConfig.DBConfigPath = dbConfigPath
		appConfig.DBAlias = dbAlias
		appConfig.HTTPTimeout = httpTimeout
		if dataDir != "" {
			appConfig.RawDir = dataDir + "/raw"
			appConfig.NormalizedDir = dataDir + "/normalized"
			appConfig.MetaDir = dataDir + "/meta"
		}
		rootLogger.Debug("configuration loaded",
			slog.String("raw_dir", appConfig.RawDir),
			slog.String("datasets", appConfig.DatasetsPath),
			slog.String("db_alias", appConfig.DBAlias),
		)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(receiptsCmd)
	rootCmd.AddCommand(discoverCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("command failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "Base directory for raw, normalized and metadata files")
	rootCmd.PersistentFlags().StringVar(&datasetsPath, "datasets", config.DefaultDatasetsPath, "Path to the dataset catalogue YAML")
	rootCmd.PersistentFlags().StringVar(&dbConfigPath, "db-config", config.DefaultDBConfigPath, "Path to the database config YAML")
	rootCmd.PersistentFlags().StringVar(&dbAlias, "db-alias", config.DefaultDBAlias, "Named connection in the database config to use")
	rootCmd.PersistentFlags().DurationVar(&httpTimeout, "http-timeout", config.DefaultHTTPTimeout, "Timeout for each HTTP download")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getConfig() config.Settings {
	return appConfig
}
