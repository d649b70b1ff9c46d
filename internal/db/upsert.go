package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// UpsertError reports a failure during the bulk insert-or-update: an
// unsupported dialect, a key column missing from the destination schema, or
// a database-level failure. The transaction rolls back as a unit.
type UpsertError struct {
	msg string
	err error
}

func (e *UpsertError) Error() string { return e.msg }
func (e *UpsertError) Unwrap() error { return e.err }

func upsertErrorf(err error, format string, args ...any) *UpsertError {
	return &UpsertError{msg: fmt.Sprintf(format, args...), err: err}
}

// Rows is the typed input to the sink: column names plus row values in
// matching order.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Upsert performs a set-based insert-or-update against tableName keyed by
// keyFields. Rows whose key collides have every non-key destination column
// present in the input overwritten; with no non-key columns to update,
// conflicting rows are left untouched. The whole batch runs in one
// transaction and one statement: all rows commit or none do. An empty input
// is a logged no-op.
func (c *Conn) Upsert(ctx context.Context, tableName string, keyFields []string, rows Rows, logger *slog.Logger) error {
	if len(rows.Values) == 0 {
		logger.Info("Skip upsert: no rows.", slog.String("table", tableName))
		return nil
	}

	destColumns, err := c.reflectColumns(ctx, tableName)
	if err != nil {
		return err
	}
	if len(destColumns) == 0 {
		return upsertErrorf(nil, "failed to reflect table %q: no such table", tableName)
	}

	destSet := make(map[string]bool, len(destColumns))
	for _, col := range destColumns {
		destSet[col] = true
	}
	for _, key := range keyFields {
		if !destSet[key] {
			return upsertErrorf(nil, "key field %q is not present in table %q", key, tableName)
		}
	}

	// Insert only the input columns the destination actually has; the
	// destination schema is owned by migration tooling, not this sink.
	keySet := make(map[string]bool, len(keyFields))
	for _, key := range keyFields {
		keySet[key] = true
	}
	var insertCols []string
	var insertIdx []int
	var updateCols []string
	for i, col := range rows.Columns {
		if !destSet[col] {
			continue
		}
		insertCols = append(insertCols, col)
		insertIdx = append(insertIdx, i)
		if !keySet[col] {
			updateCols = append(updateCols, col)
		}
	}
	if len(insertCols) == 0 {
		return upsertErrorf(nil, "no input columns match table %q", tableName)
	}
	for _, key := range keyFields {
		if idx := indexOf(rows.Columns, key); idx < 0 {
			return upsertErrorf(nil, "key field %q is not present in the input rows", key)
		}
	}

	stmt, args := c.buildUpsert(tableName, insertCols, insertIdx, updateCols, keyFields, rows.Values)

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return upsertErrorf(err, "failed to begin transaction for %q: %v", tableName, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return upsertErrorf(err, "failed to upsert into %q: %v", tableName, err)
	}
	if err := tx.Commit(); err != nil {
		return upsertErrorf(err, "failed to commit upsert into %q: %v", tableName, err)
	}

	logger.Info("Upsert completed.",
		slog.String("table", tableName),
		slog.Int("rows", len(rows.Values)),
		slog.Int("key_fields", len(keyFields)))
	return nil
}

// reflectColumns reads the destination table's column set from the live
// connection.
func (c *Conn) reflectColumns(ctx context.Context, tableName string) ([]string, error) {
	var query string
	var args []any
	switch c.Dialect {
	case DialectPostgres:
		query = `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position`
		args = []any{tableName}
	case DialectDuckDB:
		query = `SELECT column_name FROM information_schema.columns
			WHERE table_name = ? ORDER BY ordinal_position`
		args = []any{tableName}
	case DialectSQLite:
		query = `SELECT name FROM pragma_table_info(?)`
		args = []any{tableName}
	default:
		return nil, upsertErrorf(nil, "unsupported database dialect for upsert: %s", c.Dialect)
	}

	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, upsertErrorf(err, "failed to reflect table %q: %v", tableName, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, upsertErrorf(err, "failed to scan column of %q: %v", tableName, err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, upsertErrorf(err, "failed to read columns of %q: %v", tableName, err)
	}
	return columns, nil
}

// buildUpsert renders the single bulk conflict-aware insert statement and
// its flattened argument list.
func (c *Conn) buildUpsert(tableName string, insertCols []string, insertIdx []int, updateCols, keyFields []string, values [][]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoteIdent(tableName))
	sb.WriteString(" (")
	for i, col := range insertCols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(col))
	}
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(values)*len(insertCols))
	placeholder := 0
	for r, row := range values {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for i, idx := range insertIdx {
			if i > 0 {
				sb.WriteString(", ")
			}
			placeholder++
			if c.Dialect == DialectPostgres {
				fmt.Fprintf(&sb, "$%d", placeholder)
			} else {
				sb.WriteString("?")
			}
			args = append(args, row[idx])
		}
		sb.WriteString(")")
	}

	if len(keyFields) > 0 {
		sb.WriteString(" ON CONFLICT (")
		for i, key := range keyFields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quoteIdent(key))
		}
		sb.WriteString(")")
		if len(updateCols) > 0 {
			sb.WriteString(" DO UPDATE SET ")
			for i, col := range updateCols {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(quoteIdent(col))
				sb.WriteString(" = excluded.")
				sb.WriteString(quoteIdent(col))
			}
		} else {
			sb.WriteString(" DO NOTHING")
		}
	}

	return sb.String(), args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func indexOf(list []string, target string) int {
	for i, item := range list {
		if item == target {
			return i
		}
	}
	return -1
}
