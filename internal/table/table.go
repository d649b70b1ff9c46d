// Package table provides the small in-memory tabular structure the pipeline
// passes between normalization, column resolution and the database sink.
// Cells are strings as read from source; type coercion happens downstream.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Table is a rectangular set of rows under named columns. Row order and cell
// values are preserved exactly as read.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates an empty table with the given column names.
func New(columns []string) *Table {
	return &Table{Columns: columns}
}

// ReadCSV parses delimited UTF-8 text. The first record supplies the column
// names. Short rows are padded with empty cells and long rows truncated so
// everything stays rectangular, matching how the source files drift.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	t := &Table{Columns: records[0]}
	width := len(t.Columns)
	for _, rec := range records[1:] {
		row := make([]string, width)
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV writes the table as UTF-8 CSV, header first.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the table to path, creating parent directories.
func (t *Table) WriteCSVFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// RenameColumns applies the old→new mapping to column names. Names absent
// from the mapping are left untouched.
func (t *Table) RenameColumns(mapping map[string]string) {
	for i, c := range t.Columns {
		if renamed, ok := mapping[c]; ok {
			t.Columns[i] = renamed
		}
	}
}

// SetColumns replaces all column names. The new set must match the table
// width.
func (t *Table) SetColumns(columns []string) error {
	if len(t.Columns) > 0 && len(columns) != len(t.Columns) {
		return fmt.Errorf("column count mismatch: table has %d, got %d", len(t.Columns), len(columns))
	}
	t.Columns = columns
	return nil
}

// AppendRow adds a row, padding or truncating to the table width.
func (t *Table) AppendRow(cells []string) {
	row := make([]string, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Cell returns the value at (row, column name); empty string when the column
// is absent.
func (t *Table) Cell(row int, name string) string {
	i := t.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][i]
}
