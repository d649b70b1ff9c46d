package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	_ "modernc.org/sqlite"              // sqlite driver
)

// Dialect identifies a supported destination engine.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
)

// ConnectionError reports a failure to establish a database connection. The
// DSN it carries is already credential-masked.
type ConnectionError struct {
	MaskedDSN string
	err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("DB connection failed (%s): %v", e.MaskedDSN, e.err)
}

func (e *ConnectionError) Unwrap() error { return e.err }

// Conn is a live connection plus the dialect the upsert builder needs.
type Conn struct {
	DB      *sql.DB
	Dialect Dialect
}

// Close releases the underlying pool.
func (c *Conn) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// detectDialect maps a DSN to its engine and registered driver name. An
// unrecognized scheme is a configuration error, not a runtime retry case.
func detectDialect(dsn string) (Dialect, string, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, "pgx", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return DialectSQLite, "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "duckdb://"):
		return DialectDuckDB, "duckdb", strings.TrimPrefix(dsn, "duckdb://"), nil
	case dsn == ":memory:" || strings.HasSuffix(dsn, ".sqlite") || strings.HasSuffix(dsn, ".sqlite3"):
		return DialectSQLite, "sqlite", dsn, nil
	case strings.HasSuffix(dsn, ".duckdb"):
		return DialectDuckDB, "duckdb", dsn, nil
	default:
		return "", "", "", configErrorf(nil, "unsupported database DSN: %s", MaskDSN(dsn))
	}
}

// Open resolves the aliased configuration, connects, and verifies the
// connection with a ping. Credentials never appear in diagnostics.
func Open(ctx context.Context, alias, configPath string, logger *slog.Logger) (*Conn, error) {
	cfg, err := ResolveConfig(alias, configPath)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.BuildDSN()
	if err != nil {
		return nil, err
	}
	return OpenDSN(ctx, dsn, logger)
}

// OpenDSN connects directly with a DSN.
func OpenDSN(ctx context.Context, dsn string, logger *slog.Logger) (*Conn, error) {
	dialect, driver, source, err := detectDialect(dsn)
	if err != nil {
		return nil, err
	}
	masked := MaskDSN(dsn)

	handle, err := sql.Open(driver, source)
	if err != nil {
		return nil, &ConnectionError{MaskedDSN: masked, err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := handle.PingContext(pingCtx); err != nil {
		handle.Close()
		logger.Error("DB connection failed.", slog.String("dsn", masked), "error", err)
		return nil, &ConnectionError{MaskedDSN: masked, err: err}
	}

	logger.Info("DB connection established.",
		slog.String("dsn", masked),
		slog.String("dialect", string(dialect)))
	return &Conn{DB: handle, Dialect: dialect}, nil
}
