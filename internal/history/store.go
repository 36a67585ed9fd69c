// Package history keeps a durable log of export runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is the outcome of one export run.
type Record struct {
	ID          string        `json:"id"`
	Caller      string        `json:"caller"`
	Table       string        `json:"table"`
	TableID     string        `json:"tableId"`
	Status      Status        `json:"status"`
	ErrorKind   string        `json:"errorKind,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	StorageKey  string        `json:"filePath,omitempty"`
	DownloadURL string        `json:"downloadUrl,omitempty"`
	SizeBytes   int64         `json:"sizeBytes,omitempty"`
	Checksum    string        `json:"checksum,omitempty"`
	RowCount    int           `json:"rowCount,omitempty"`
	LockWaitMS  int64         `json:"lockWaitMs,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	LastError   string        `json:"-"`
}

// Store persists Records.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the history database at path, creating tables as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := storage.BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps a bootstrapped database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

// Record inserts r. Recording the same run id twice replaces the earlier row.
func (s *Store) Record(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO export_log(
  id, caller, table_name, table_id, status, error_kind, stage, storage_key, download_url,
  size_bytes, checksum, row_count, lock_wait_ms, started_at, completed_at, last_error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID, r.Caller, r.Table, r.TableID, string(r.Status),
		nullString(r.ErrorKind), nullString(r.Stage), nullString(r.StorageKey), nullString(r.DownloadURL),
		r.SizeBytes, nullString(r.Checksum), r.RowCount, r.LockWaitMS,
		r.StartedAt.UTC().Format(timeLayout), r.CompletedAt.UTC().Format(timeLayout),
		nullString(r.LastError),
	)
	if err != nil {
		return fmt.Errorf("insert export_log: %w", err)
	}
	return nil
}

// ListByCaller returns the caller's most recent runs, newest first.
func (s *Store) ListByCaller(ctx context.Context, caller string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, caller, table_name, table_id, status, error_kind, stage, storage_key, download_url,
       size_bytes, checksum, row_count, lock_wait_ms, started_at, completed_at, last_error
FROM export_log
WHERE caller = ?
ORDER BY completed_at DESC
LIMIT ?;`, caller, limit)
	if err != nil {
		return nil, fmt.Errorf("query export_log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                               Record
			status                                          string
			errorKind, stage, key, dlURL, checksum, lastErr sql.NullString
			size, rowCount, lockWaitMs                      sql.NullInt64
			started, completed                              string
		)
		if err := rows.Scan(&r.ID, &r.Caller, &r.Table, &r.TableID, &status, &errorKind, &stage, &key, &dlURL,
			&size, &checksum, &rowCount, &lockWaitMs, &started, &completed, &lastErr); err != nil {
			return nil, fmt.Errorf("scan export_log: %w", err)
		}
		r.Status = Status(status)
		r.ErrorKind = errorKind.String
		r.Stage = stage.String
		r.StorageKey = key.String
		r.DownloadURL = dlURL.String
		r.Checksum = checksum.String
		r.LastError = lastErr.String
		r.SizeBytes = size.Int64
		r.RowCount = int(rowCount.Int64)
		r.LockWaitMS = lockWaitMs.Int64
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.CompletedAt, _ = time.Parse(timeLayout, completed)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export_log: %w", err)
	}
	return out, nil
}

// Prune deletes runs that completed more than olderThan ago.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := s.now().Add(-olderThan).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM export_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune export_log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
