// Package datasource reads the rows of one table instance from the configured
// database. Rows are streamed; callers never hold a whole table in memory.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
)

var (
	// ErrInvalidTable means the name is not a plain SQL identifier.
	ErrInvalidTable = errors.New("invalid table name")
	// ErrTableNotAllowed means the table is not on the configured allowlist.
	ErrTableNotAllowed = errors.New("table is not exportable")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Rows iterates over a query result. It mirrors the subset of pgx.Rows the
// exporter needs so both drivers can satisfy it.
type Rows interface {
	Columns() []string
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Source is a read-only view over exportable tables.
type Source interface {
	// Query returns every row of table whose instance column equals instanceID.
	Query(ctx context.Context, table string, instanceID uuid.UUID) (Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Open connects to the configured driver.
func Open(ctx context.Context, cfg config.DataSourceConfig) (Source, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg)
	case "sqlite":
		return OpenSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported datasource driver %q", cfg.Driver)
	}
}

// ValidateTable checks that name is a plain identifier and, when allow is
// non-empty, that it is listed there.
func ValidateTable(name string, allow []string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	if len(allow) > 0 && !slices.Contains(allow, name) {
		return fmt.Errorf("%w: %q", ErrTableNotAllowed, name)
	}
	return nil
}

func selectInstanceSQL(table, column, placeholder string) string {
	return fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{column}.Sanitize(),
		placeholder,
	)
}
