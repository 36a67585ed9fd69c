package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fsWorkspaceManager manages per-caller workspace directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	purger  Purger
	logger  *slog.Logger
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
// purger may be nil, in which case Prepare only resets the local directory.
func NewFSManager(baseDir string, purger Purger, logger *slog.Logger) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
		purger:  purger,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// BaseDir returns the root under which per-caller workspaces live.
func (m *fsWorkspaceManager) BaseDir() string { return m.baseDir }

// Prepare deletes whatever a previous run of ownerID left behind, locally and
// in the storage namespace, then creates an empty directory. Only the final
// directory creation can fail the call; the purges are best-effort.
func (m *fsWorkspaceManager) Prepare(ctx context.Context, ownerID string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(ownerID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("failed to remove previous workspace", "caller", ownerID, "dir", path, "error", err)
	}

	if m.purger != nil {
		n, err := m.purger.PurgePrefix(ctx, ownerID+"/")
		if err != nil {
			m.logger.Warn("failed to purge stale artifacts", "caller", ownerID, "error", err)
		} else if n > 0 {
			m.logger.Debug("purged stale artifacts", "caller", ownerID, "objects", n)
		}
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace base directory: %w", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for caller %q: %w", ownerID, err)
	}

	return Workspace{OwnerID: ownerID, Dir: path}, nil
}

// Teardown removes the workspace directory and everything in it.
func (m *fsWorkspaceManager) Teardown(_ context.Context, ws Workspace) error {
	path, err := m.workspacePath(ws.OwnerID)
	if err != nil {
		return err
	}
	if ws.Dir != "" && filepath.Clean(ws.Dir) != path {
		return fmt.Errorf("workspace dir %q is outside %q", ws.Dir, m.baseDir)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove workspace for caller %q: %w", ws.OwnerID, err)
	}
	return nil
}

// Cleanup removes workspace directories older than olderThan based on directory
// modification time. A live run recreates its directory, so only workspaces
// abandoned by a crashed process are old enough to match.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(ownerID string) (string, error) {
	if err := validateOwnerID(ownerID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, ownerID), nil
}

func validateOwnerID(ownerID string) error {
	trimmed := strings.TrimSpace(ownerID)
	if trimmed == "" {
		return fmt.Errorf("owner ID is empty")
	}
	if trimmed != ownerID {
		return fmt.Errorf("owner ID %q has surrounding whitespace", ownerID)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("owner ID %q is invalid", ownerID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("owner ID %q must not contain path separators", ownerID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("owner ID %q is invalid", ownerID)
	}
	return nil
}
