// Package orchestrator sequences one pipeline run per dataset: fetch,
// ledger check, normalize, resolve columns, upsert, write receipt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/config"
	"github.com/civicdata/kawasaki-etl/internal/db"
	"github.com/civicdata/kawasaki-etl/internal/downloader"
	"github.com/civicdata/kawasaki-etl/internal/ledger"
	"github.com/civicdata/kawasaki-etl/internal/normalizer"
)

// Status is the terminal state of one dataset run.
type Status string

const (
	StatusLoaded  Status = "loaded"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome summarizes one dataset run for the caller. A skipped run is a
// successful no-op: Err is nil for both loaded and skipped.
type Outcome struct {
	DatasetID string
	Status    Status
	Rows      int
	Duration  time.Duration
	Err       error
}

// Orchestrator wires the pipeline stages together. It owns sequencing only:
// no retry loops live here, re-invocation is the retry mechanism.
type Orchestrator struct {
	cfg        config.Settings
	logger     *slog.Logger
	fetcher    *downloader.Fetcher
	ledger     *ledger.Ledger
	normalizer *normalizer.Normalizer
}

// New builds an Orchestrator and its stage components from settings.
func New(cfg config.Settings, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		fetcher:    downloader.New(cfg, logger),
		ledger:     ledger.New(cfg, logger),
		normalizer: normalizer.New(cfg, logger),
	}
}

// Run executes the pipeline for one dataset. Any stage error aborts this
// dataset's run without writing a receipt, so the next invocation retries
// from fetch (cheap, the artifact is usually already on disk).
func (o *Orchestrator) Run(ctx context.Context, ds catalog.Dataset, conn *db.Conn) Outcome {
	start := time.Now()
	l := o.logger.With(slog.String("dataset_id", ds.ID), slog.String("category", ds.Category))

	outcome := Outcome{DatasetID: ds.ID}
	switch ds.Parser {
	case "", "wifi_count":
		rows, skipped, err := o.runWifiCount(ctx, l, ds, conn)
		outcome.Rows = rows
		switch {
		case err != nil:
			outcome.Status = StatusFailed
			outcome.Err = err
		case skipped:
			outcome.Status = StatusSkipped
		default:
			outcome.Status = StatusLoaded
		}
	default:
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("dataset %q has unknown parser %q", ds.ID, ds.Parser)
	}

	outcome.Duration = time.Since(start)
	if outcome.Err != nil {
		l.Error("Pipeline failed.", "error", outcome.Err,
			slog.Duration("duration", outcome.Duration.Round(time.Millisecond)))
	} else {
		l.Info("Pipeline finished.",
			slog.String("status", string(outcome.Status)),
			slog.Int("rows", outcome.Rows),
			slog.Duration("duration", outcome.Duration.Round(time.Millisecond)))
	}
	return outcome
}

// RunAll processes datasets strictly sequentially over one shared
// connection. A failing dataset aborts only its own run; errors are joined
// and returned alongside the per-dataset outcomes.
func (o *Orchestrator) RunAll(ctx context.Context, datasets map[string]catalog.Dataset, conn *db.Conn) ([]Outcome, error) {
	runID := uuid.NewString()
	l := o.logger.With(slog.String("run_id", runID))
	l.Info("Starting run.", slog.Int("datasets", len(datasets)))

	runner := &Orchestrator{
		cfg:        o.cfg,
		logger:     l,
		fetcher:    downloader.New(o.cfg, l),
		ledger:     ledger.New(o.cfg, l),
		normalizer: normalizer.New(o.cfg, l),
	}

	var outcomes []Outcome
	var runErr error
	for _, id := range catalog.IDs(datasets) {
		select {
		case <-ctx.Done():
			l.Warn("Run cancelled.")
			return outcomes, errors.Join(runErr, ctx.Err())
		default:
		}

		outcome := runner.Run(ctx, datasets[id], conn)
		outcomes = append(outcomes, outcome)
		if outcome.Err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("dataset %s: %w", id, outcome.Err))
		}
	}

	l.Info("Run finished.", slog.Int("datasets", len(outcomes)))
	return outcomes, runErr
}
