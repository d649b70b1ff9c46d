// Package resolver maps arbitrary source column headers onto the fixed
// logical schema a dataset type requires.
package resolver

import (
	"fmt"
	"strings"

	"github.com/civicdata/kawasaki-etl/internal/catalog"
	"github.com/civicdata/kawasaki-etl/internal/normalizer"
	"github.com/civicdata/kawasaki-etl/internal/table"
)

// SchemaError reports a logical column that could not be resolved under any
// candidate name. It fires before any value coercion so schema mismatches
// surface before wasted work.
type SchemaError struct {
	Logical    string
	Candidates []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("required column for %q not found; checked: [%s]",
		e.Logical, strings.Join(e.Candidates, ", "))
}

// Candidates maps each logical column name to its ordered default candidate
// headers.
type Candidates map[string][]string

// WifiCandidates are the built-in source headers for Wi-Fi usage-count
// datasets.
func WifiCandidates() Candidates {
	return Candidates{
		"date":             {"date", "日付", "年月日", "収集日"},
		"spot_id":          {"spot_id", "スポットid", "スポットID", "地点ID"},
		"spot_name":        {"spot_name", "スポット名", "施設名"},
		"connection_count": {"接続数", "接続回数", "利用回数", "connections"},
	}
}

// Resolve renames the table's columns in place so every logical column in
// defaults exists under its logical name. For each logical column the
// candidate list is the dataset's extra.column_mapping override when present
// (a single name or a list; the override fully replaces the defaults),
// otherwise the built-in defaults. Matching is case-insensitive after header
// normalization of both sides.
func Resolve(t *table.Table, ds catalog.Dataset, defaults Candidates) error {
	// Index existing headers by their normalized, lowercased form.
	byNormalized := make(map[string]string, len(t.Columns))
	for _, col := range t.Columns {
		byNormalized[matchKey(col)] = col
	}

	override := ds.ColumnMapping()
	rename := make(map[string]string)

	for logical, defaultCandidates := range defaults {
		candidates, err := candidatesFor(logical, override, defaultCandidates)
		if err != nil {
			return err
		}

		source, found := "", false
		for _, candidate := range candidates {
			if col, ok := byNormalized[matchKey(candidate)]; ok {
				source, found = col, true
				break
			}
		}
		if !found {
			return &SchemaError{Logical: logical, Candidates: candidates}
		}
		rename[source] = logical
	}

	t.RenameColumns(rename)
	return nil
}

// candidatesFor picks the candidate list for one logical column, validating
// the override shape.
func candidatesFor(logical string, override map[string]any, defaults []string) ([]string, error) {
	raw, ok := override[logical]
	if !ok || raw == nil {
		return defaults, nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []any:
		candidates := make([]string, 0, len(v))
		for _, item := range v {
			candidates = append(candidates, fmt.Sprint(item))
		}
		return candidates, nil
	case []string:
		return v, nil
	default:
		return nil, fmt.Errorf("column_mapping for %q must be a string or a list, got %T", logical, raw)
	}
}

func matchKey(name string) string {
	return strings.ToLower(normalizer.NormalizeHeader(name))
}
