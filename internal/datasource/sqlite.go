package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/storage"
)

// SQLite reads rows from a local SQLite database. Instance ids are stored as
// canonical UUID text.
type SQLite struct {
	db             *sql.DB
	instanceColumn string
	tables         []string
}

var _ Source = (*SQLite)(nil)

// OpenSQLite opens the database file named by cfg.URL.
func OpenSQLite(ctx context.Context, cfg config.DataSourceConfig) (*SQLite, error) {
	db, err := storage.OpenSQLite(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	return NewSQLite(db, cfg.InstanceColumn, cfg.Tables), nil
}

// NewSQLite wraps an already open database.
func NewSQLite(db *sql.DB, instanceColumn string, tables []string) *SQLite {
	if instanceColumn == "" {
		instanceColumn = "table_id"
	}
	return &SQLite{db: db, instanceColumn: instanceColumn, tables: tables}
}

func (s *SQLite) Query(ctx context.Context, table string, instanceID uuid.UUID) (Rows, error) {
	if err := ValidateTable(table, s.tables); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectInstanceSQL(table, s.instanceColumn, "?"), instanceID.String())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	return &sqlRows{rows: rows, cols: cols}, nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() { _ = s.db.Close() }

type sqlRows struct {
	rows *sql.Rows
	cols []string
}

func (r *sqlRows) Columns() []string { return r.cols }
func (r *sqlRows) Next() bool        { return r.rows.Next() }
func (r *sqlRows) Err() error        { return r.rows.Err() }
func (r *sqlRows) Close()            { _ = r.rows.Close() }

func (r *sqlRows) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
