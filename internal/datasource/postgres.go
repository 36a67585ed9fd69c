package datasource

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
)

// Postgres reads rows through a pgx connection pool.
type Postgres struct {
	pool           *pgxpool.Pool
	instanceColumn string
	tables         []string
}

var _ Source = (*Postgres)(nil)

// OpenPostgres creates the pool and verifies connectivity.
func OpenPostgres(ctx context.Context, cfg config.DataSourceConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{pool: pool, instanceColumn: cfg.InstanceColumn, tables: cfg.Tables}, nil
}

func (p *Postgres) Query(ctx context.Context, table string, instanceID uuid.UUID) (Rows, error) {
	if err := ValidateTable(table, p.tables); err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, selectInstanceSQL(table, p.instanceColumn, "$1"), instanceID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return &pgxRows{rows: rows}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

type pgxRows struct {
	rows pgx.Rows
}

func (r *pgxRows) Columns() []string {
	fields := r.rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return cols
}

func (r *pgxRows) Next() bool             { return r.rows.Next() }
func (r *pgxRows) Values() ([]any, error) { return r.rows.Values() }
func (r *pgxRows) Err() error             { return r.rows.Err() }
func (r *pgxRows) Close()                 { r.rows.Close() }
