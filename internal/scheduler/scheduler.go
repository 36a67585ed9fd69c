// Package scheduler runs periodic maintenance for the export service: sweeping
// workspaces orphaned by crashed runs and pruning old export history.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
)

// Scheduler manages maintenance sweeps on a cron schedule.
type Scheduler struct {
	cfg     Config
	sweeper WorkspaceSweeper
	pruner  HistoryPruner
	lock    LockRecoverer
	logger  *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// Config controls what a sweep does.
type Config struct {
	Enabled   bool
	Schedule  string
	OrphanTTL time.Duration
	Retention time.Duration
}

// ConfigFrom extracts the scheduler settings from the service configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Enabled:   cfg.Maintenance.Enabled,
		Schedule:  cfg.Maintenance.Schedule,
		OrphanTTL: cfg.Workspace.OrphanTTL,
		Retention: cfg.History.Retention,
	}
}

// New creates a Scheduler. pruner and lock may be nil.
func New(cfg Config, sweeper WorkspaceSweeper, pruner HistoryPruner, lock LockRecoverer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:     cfg,
		sweeper: sweeper,
		pruner:  pruner,
		lock:    lock,
		logger:  logger.With("component", "scheduler"),
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start recovers a stale converter lock, runs one sweep immediately and then
// schedules sweeps. It returns at once; sweeps stop when ctx is done or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info("maintenance disabled, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.cfg.Schedule, err)
	}

	s.recoverLock()

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	s.logger.Info("Starting scheduler", "schedule", s.cfg.Schedule, "orphan_ttl", s.cfg.OrphanTTL, "retention", s.cfg.Retention)
	s.Sweep(ctx)

	s.cron.Start()
	s.running = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// NextRun returns the next scheduled sweep, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// Sweep performs one maintenance pass. Failures are logged; one step failing
// does not skip the next.
func (s *Scheduler) Sweep(ctx context.Context) {
	s.logger.Debug("Maintenance sweep")

	if s.sweeper != nil && s.cfg.OrphanTTL > 0 {
		report, err := s.sweeper.Cleanup(ctx, s.cfg.OrphanTTL)
		switch {
		case err != nil:
			s.logger.Error("Failed to sweep orphaned workspaces", "error", err)
		case report.DeletedDirs > 0:
			s.logger.Info("Swept orphaned workspaces", "deleted", report.DeletedDirs, "older_than", s.cfg.OrphanTTL)
		}
	}

	if s.pruner != nil && s.cfg.Retention > 0 {
		n, err := s.pruner.Prune(ctx, s.cfg.Retention)
		switch {
		case err != nil:
			s.logger.Error("Failed to prune export history", "error", err)
		case n > 0:
			s.logger.Info("Pruned export history", "deleted", n, "retention", s.cfg.Retention)
		}
	}
}

// recoverLock clears a converter lock whose holder died with this host's
// previous process.
func (s *Scheduler) recoverLock() {
	if s.lock == nil {
		return
	}
	holder, removed, err := s.lock.RecoverStale()
	if err != nil {
		s.logger.Error("Failed to check converter lock for a stale holder", "error", err)
		return
	}
	if removed {
		s.logger.Warn("Recovered stale converter lock", "holder_pid", holder.PID, "holder_run", holder.Owner, "acquired_at", holder.AcquiredAt)
	}
}
