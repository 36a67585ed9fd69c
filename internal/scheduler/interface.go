package scheduler

import (
	"context"
	"time"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_maintenance.go -package=mocks github.com/kuini-1/table-editor-1.0-sub001/internal/scheduler WorkspaceSweeper,HistoryPruner,LockRecoverer

// WorkspaceSweeper removes workspaces abandoned by crashed runs.
type WorkspaceSweeper interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (workspace.CleanupReport, error)
}

// HistoryPruner deletes export history older than the retention window.
type HistoryPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// LockRecoverer removes a converter lock left behind by a dead local process.
type LockRecoverer interface {
	RecoverStale() (lock.Holder, bool, error)
}
