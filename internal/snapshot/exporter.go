// Package snapshot writes one table instance to a CSV file with a header row
// and verifies the file before it is handed to the converter.
package snapshot

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/datasource"
)

var (
	// ErrDataUnavailable wraps any failure to read rows from the data source.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrEmptyResult means the table instance has no rows. No file is written.
	ErrEmptyResult = errors.New("no rows for table instance")
	// ErrInvalidSnapshot means the CSV could not be written or failed re-validation.
	ErrInvalidSnapshot = errors.New("invalid csv snapshot")
)

// Snapshot is a validated CSV file: a header plus at least one data row.
type Snapshot struct {
	Path     string
	Columns  []string
	RowCount int
}

// Exporter streams rows from a Source into CSV files.
type Exporter struct {
	source datasource.Source
	logger *slog.Logger
}

func New(source datasource.Source, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{source: source, logger: logger}
}

// Export writes every row of table for tableID to <dir>/<table>.csv.
func (e *Exporter) Export(ctx context.Context, table string, tableID uuid.UUID, dir string) (Snapshot, error) {
	rows, err := e.source.Query(ctx, table, tableID)
	if err != nil {
		if errors.Is(err, datasource.ErrInvalidTable) || errors.Is(err, datasource.ErrTableNotAllowed) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	defer rows.Close()

	// Read the first row before touching the filesystem so an empty result
	// leaves nothing behind.
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
		}
		return Snapshot{}, ErrEmptyResult
	}
	first, err := rows.Values()
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read row values: %w", ErrDataUnavailable, err)
	}

	columns := rows.Columns()
	path := filepath.Join(dir, table+".csv")

	written, err := writeCSV(path, columns, first, rows)
	if err != nil {
		_ = os.Remove(path)
		return Snapshot{}, err
	}

	records, err := countRecords(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: re-read %s: %w", ErrInvalidSnapshot, path, err)
	}
	if records < 2 {
		return Snapshot{}, fmt.Errorf("%w: %s has %d record(s)", ErrInvalidSnapshot, path, records)
	}

	e.logger.Debug("csv snapshot written", "table", table, "path", path, "rows", written)
	return Snapshot{Path: path, Columns: columns, RowCount: records - 1}, nil
}

func writeCSV(path string, columns []string, first []any, rows datasource.Rows) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrInvalidSnapshot, path, err)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	w := csv.NewWriter(buf)
	if err := w.Write(columns); err != nil {
		return 0, fmt.Errorf("%w: write header: %w", ErrInvalidSnapshot, err)
	}

	record := make([]string, len(columns))
	write := func(values []any) error {
		for i := range record {
			if i < len(values) {
				record[i] = formatCell(values[i])
			} else {
				record[i] = ""
			}
		}
		return w.Write(record)
	}

	if err := write(first); err != nil {
		return 0, fmt.Errorf("%w: write row: %w", ErrInvalidSnapshot, err)
	}
	count := 1

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return count, fmt.Errorf("%w: read row values: %w", ErrDataUnavailable, err)
		}
		if err := write(values); err != nil {
			return count, fmt.Errorf("%w: write row: %w", ErrInvalidSnapshot, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return count, fmt.Errorf("%w: flush: %w", ErrInvalidSnapshot, err)
	}
	if err := buf.Flush(); err != nil {
		return count, fmt.Errorf("%w: flush: %w", ErrInvalidSnapshot, err)
	}
	if err := f.Sync(); err != nil {
		return count, fmt.Errorf("%w: sync: %w", ErrInvalidSnapshot, err)
	}
	return count, nil
}

func countRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.ReuseRecord = true
	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
