// Package lock implements the process-wide converter lock: a single marker file
// created with O_EXCL. Any process sharing the filesystem observes the same
// lock, so conversions are serialized across request handlers and instances.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrBusy is returned by Acquire when the retry budget is exhausted while
// another holder keeps the marker. It is an expected outcome under load.
var ErrBusy = errors.New("converter lock busy")

// Holder describes the process that created the marker.
type Holder struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Marker is the global converter lock rooted at a fixed path.
type Marker struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewMarker returns a lock backed by the marker file at path.
func NewMarker(path string, logger *slog.Logger) (*Marker, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Marker{
		path:   filepath.Clean(path),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (m *Marker) Path() string { return m.path }

// Acquire tries to create the marker up to maxAttempts times, sleeping a fixed
// interval between attempts. It returns ErrBusy when every attempt found the
// marker present.
func (m *Marker) Acquire(ctx context.Context, owner string, maxAttempts int, interval time.Duration) (*Lease, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lease, err := m.tryCreate(owner)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			m.logger.Debug("converter lock acquired", "owner", owner, "attempt", attempt)
			return lease, nil
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, ErrBusy
}

func (m *Marker) tryCreate(owner string) (*Lease, error) {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create lock marker: %w", err)
	}

	host, _ := os.Hostname()
	holder := Holder{
		PID:        os.Getpid(),
		Host:       host,
		Owner:      owner,
		AcquiredAt: m.now().UTC(),
	}

	if err := json.NewEncoder(f).Encode(holder); err != nil {
		_ = f.Close()
		_ = os.Remove(m.path)
		return nil, fmt.Errorf("write lock marker: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(m.path)
		return nil, fmt.Errorf("close lock marker: %w", err)
	}

	return &Lease{marker: m, holder: holder}, nil
}

// Holder reports the current marker holder. ok is false when the lock is free.
// A marker with unreadable content still counts as held.
func (m *Marker) Holder() (Holder, bool, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("read lock marker: %w", err)
	}

	var h Holder
	if len(strings.TrimSpace(string(data))) > 0 {
		_ = json.Unmarshal(data, &h)
	}
	return h, true, nil
}

// Clear removes the marker regardless of who holds it. Operators use it to
// recover from a crashed holder.
func (m *Marker) Clear() error {
	err := os.Remove(m.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	return nil
}

// RecoverStale removes the marker when its holder is a process on this host
// that no longer exists. Markers from other hosts, or without a PID, are left
// alone. It reports the removed holder.
func (m *Marker) RecoverStale() (Holder, bool, error) {
	h, held, err := m.Holder()
	if err != nil || !held {
		return Holder{}, false, err
	}
	host, _ := os.Hostname()
	if h.PID <= 0 || h.Host == "" || h.Host != host || processAlive(h.PID) {
		return Holder{}, false, nil
	}
	if err := m.Clear(); err != nil {
		return Holder{}, false, err
	}
	m.logger.Warn("removed stale converter lock", "holder_pid", h.PID, "holder_run", h.Owner, "acquired_at", h.AcquiredAt)
	return h, true, nil
}

func (m *Marker) remove(owner string) {
	// After a forced clear another run may own the marker now.
	if h, held, err := m.Holder(); err == nil && held && h.Owner != "" && h.Owner != owner {
		m.logger.Warn("converter lock now held by another run, leaving it", "owner", owner, "holder_run", h.Owner, "holder_pid", h.PID)
		return
	}
	err := os.Remove(m.path)
	switch {
	case err == nil:
		m.logger.Debug("converter lock released", "owner", owner)
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Warn("converter lock marker already gone on release", "owner", owner, "path", m.path)
	default:
		m.logger.Error("failed to release converter lock", "owner", owner, "path", m.path, "error", err)
	}
}

// Lease is a held converter lock. Release is idempotent and safe on a nil Lease.
type Lease struct {
	marker *Marker
	holder Holder
	once   sync.Once
}

// Holder returns the diagnostics written into the marker.
func (l *Lease) Holder() Holder { return l.holder }

// Release deletes the marker unless another run has since taken it over.
// Failures are logged, never returned.
func (l *Lease) Release() {
	if l == nil || l.marker == nil {
		return
	}
	l.once.Do(func() {
		l.marker.remove(l.holder.Owner)
	})
}
