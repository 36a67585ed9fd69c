package workspace

import (
	"context"
	"time"
)

// Workspace is a caller-scoped scratch directory for one export run.
//
// The directory is recreated from scratch at the start of every run and
// removed at the end, so nothing in it outlives the request.
type Workspace struct {
	OwnerID string
	Dir     string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Purger removes every stored object under a caller's namespace. The artifact
// store implements it; Prepare calls it so a run never sees stale objects.
type Purger interface {
	PurgePrefix(ctx context.Context, prefix string) (int, error)
}

// Manager governs the per-caller workspace lifecycle.
type Manager interface {
	// Prepare purges any leftovers for ownerID and returns a fresh empty directory.
	Prepare(ctx context.Context, ownerID string) (Workspace, error)

	// Teardown removes the workspace. The error is for logging only.
	Teardown(ctx context.Context, ws Workspace) error

	// Cleanup removes orphaned workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
