package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/db"
	"github.com/civicdata/kawasaki-etl/internal/resolver"
	"github.com/civicdata/kawasaki-etl/internal/table"
)

// Defaults for Wi-Fi usage-count datasets when the descriptor leaves them
// unset.
const DefaultWifiTable = "wifi_access_counts"

func defaultWifiKeyFields() []string { return []string{"date", "spot_id"} }

// Accepted layouts for the source date column, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	"2006-1-2",
	"2006.01.02",
	"20060102",
	"2006年1月2日",
}

// runWifiCount is the linear pipeline for one Wi-Fi usage-count dataset:
// fetch → digest → ledger check → normalize → resolve → coerce → upsert →
// receipt. Returns rows upserted and whether the ledger short-circuited.
func (o *Orchestrator) runWifiCount(ctx context.Context, l *slog.Logger, ds catalog.Dataset, conn *db.Conn) (int, bool, error) {
	rawPath, err := o.fetcher.DownloadIfNeeded(ctx, ds)
	if err != nil {
		return 0, false, err
	}

	digest, err := o.ledger.DigestFile(rawPath)
	if err != nil {
		return 0, false, err
	}

	if o.ledger.AlreadyProcessed(ds, rawPath, digest) {
		return 0, true, nil
	}

	tables, err := o.normalize(ds, rawPath)
	if err != nil {
		return 0, false, err
	}

	tableName := ds.Table
	if tableName == "" {
		tableName = DefaultWifiTable
	}
	keyFields := ds.KeyFields
	if len(keyFields) == 0 {
		keyFields = defaultWifiKeyFields()
	}

	totalRows := 0
	for _, t := range tables {
		if err := resolver.Resolve(t, ds, resolver.WifiCandidates()); err != nil {
			return 0, false, err
		}

		rows, dropped := coerceWifiRows(t, ds)
		if dropped > 0 {
			l.Warn("Dropped rows with unparseable date or empty spot_id.",
				slog.Int("dropped", dropped), slog.Int("kept", len(rows.Values)))
		}

		if err := conn.Upsert(ctx, tableName, keyFields, rows, l); err != nil {
			return 0, false, err
		}
		totalRows += len(rows.Values)
	}

	if err := o.ledger.WriteReceipt(ds, rawPath, digest, time.Now()); err != nil {
		return 0, false, err
	}
	return totalRows, false, nil
}

// normalize converts the raw artifact into one or more tables according to
// the descriptor's file type, writing the canonical CSV outputs alongside.
func (o *Orchestrator) normalize(ds catalog.Dataset, rawPath string) ([]*table.Table, error) {
	destDir := filepath.Join(o.cfg.NormalizedDir, ds.Category, ds.ID)
	stem := strings.TrimSuffix(filepath.Base(rawPath), filepath.Ext(rawPath))

	switch strings.ToLower(ds.Type) {
	case "csv":
		dest := filepath.Join(destDir, stem+"_normalized.csv")
		t, err := o.normalizer.NormalizeCSV(rawPath, dest)
		if err != nil {
			return nil, err
		}
		return []*table.Table{t}, nil

	case "xlsx", "xls", "excel":
		results, err := o.normalizer.NormalizeWorkbook(rawPath, destDir)
		if err != nil {
			return nil, err
		}
		tables := make([]*table.Table, 0, len(results))
		for _, r := range results {
			tables = append(tables, r.Table)
		}
		return tables, nil

	case "zip":
		results, err := o.normalizer.NormalizeZip(rawPath, destDir)
		if err != nil {
			return nil, err
		}
		tables := make([]*table.Table, 0, len(results))
		for _, r := range results {
			tables = append(tables, r.Table)
		}
		return tables, nil

	default:
		return nil, fmt.Errorf("dataset %q has unsupported file type %q", ds.ID, ds.Type)
	}
}

// coerceWifiRows turns a resolved table into typed destination rows. Rows
// with an unparseable date or an empty spot_id are dropped; an unparseable
// connection_count is coerced to 0. All other cells pass through untouched.
func coerceWifiRows(t *table.Table, ds catalog.Dataset) (db.Rows, int) {
	columns := []string{"dataset_id", "date", "spot_id", "spot_name", "connection_count"}
	if ds.SnapshotDate != "" {
		columns = append(columns, "snapshot_date")
	}

	rows := db.Rows{Columns: columns}
	dropped := 0

	for i := 0; i < t.Len(); i++ {
		date, ok := parseDate(t.Cell(i, "date"))
		if !ok {
			dropped++
			continue
		}
		spotID := strings.TrimSpace(t.Cell(i, "spot_id"))
		if spotID == "" {
			dropped++
			continue
		}

		values := []any{
			ds.ID,
			date,
			spotID,
			t.Cell(i, "spot_name"),
			parseCount(t.Cell(i, "connection_count")),
		}
		if ds.SnapshotDate != "" {
			values = append(values, ds.SnapshotDate)
		}
		rows.Values = append(rows.Values, values)
	}

	return rows, dropped
}

// parseDate normalizes a source date cell to ISO form.
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// parseCount coerces a connection count to a non-negative integer, 0 when
// missing or unparseable.
func parseCount(s string) int64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(f)
}
