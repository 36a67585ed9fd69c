package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/scheduler/mocks"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/workspace"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func testConfig() Config {
	return Config{
		Enabled:   true,
		Schedule:  "@every 1h",
		OrphanTTL: 24 * time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Defaults()
	got := ConfigFrom(cfg)

	assert.Equal(t, cfg.Maintenance.Enabled, got.Enabled)
	assert.Equal(t, cfg.Maintenance.Schedule, got.Schedule)
	assert.Equal(t, cfg.Workspace.OrphanTTL, got.OrphanTTL)
	assert.Equal(t, cfg.History.Retention, got.Retention)
}

func TestSweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sweeper := mocks.NewMockWorkspaceSweeper(ctrl)
	pruner := mocks.NewMockHistoryPruner(ctrl)
	slogger, logBuf := NewTestSlogger()
	s := New(testConfig(), sweeper, pruner, nil, slogger)
	ctx := context.Background()

	t.Run("Both steps report work", func(t *testing.T) {
		logBuf.Reset()
		sweeper.EXPECT().Cleanup(ctx, 24*time.Hour).Return(workspace.CleanupReport{DeletedDirs: 2}, nil)
		pruner.EXPECT().Prune(ctx, 30*24*time.Hour).Return(int64(5), nil)

		s.Sweep(ctx)
		assert.Contains(t, logBuf.String(), "Swept orphaned workspaces")
		assert.Contains(t, logBuf.String(), "Pruned export history")
	})

	t.Run("Workspace failure does not skip pruning", func(t *testing.T) {
		logBuf.Reset()
		sweeper.EXPECT().Cleanup(ctx, gomock.Any()).Return(workspace.CleanupReport{}, errors.New("permission denied"))
		pruner.EXPECT().Prune(ctx, gomock.Any()).Return(int64(0), nil)

		s.Sweep(ctx)
		assert.Contains(t, logBuf.String(), "Failed to sweep orphaned workspaces")
		assert.NotContains(t, logBuf.String(), "Pruned export history")
	})

	t.Run("Prune failure is logged", func(t *testing.T) {
		logBuf.Reset()
		sweeper.EXPECT().Cleanup(ctx, gomock.Any()).Return(workspace.CleanupReport{}, nil)
		pruner.EXPECT().Prune(ctx, gomock.Any()).Return(int64(0), errors.New("database is locked"))

		s.Sweep(ctx)
		assert.Contains(t, logBuf.String(), "Failed to prune export history")
	})
}

func TestSweepSkipsDisabledSteps(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sweeper := mocks.NewMockWorkspaceSweeper(ctrl)
	pruner := mocks.NewMockHistoryPruner(ctrl)
	cfg := testConfig()
	cfg.OrphanTTL = 0
	cfg.Retention = 0

	// No EXPECT calls: any call fails the test.
	New(cfg, sweeper, pruner, nil, nil).Sweep(context.Background())
}

func TestStartRecoversLockAndSweeps(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sweeper := mocks.NewMockWorkspaceSweeper(ctrl)
	pruner := mocks.NewMockHistoryPruner(ctrl)
	recoverer := mocks.NewMockLockRecoverer(ctrl)
	slogger, logBuf := NewTestSlogger()

	gomock.InOrder(
		recoverer.EXPECT().RecoverStale().Return(lock.Holder{PID: 4242, Owner: "run-1"}, true, nil),
		sweeper.EXPECT().Cleanup(gomock.Any(), gomock.Any()).Return(workspace.CleanupReport{}, nil),
		pruner.EXPECT().Prune(gomock.Any(), gomock.Any()).Return(int64(0), nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(testConfig(), sweeper, pruner, recoverer, slogger)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Contains(t, logBuf.String(), "Recovered stale converter lock")
	next := s.NextRun()
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *next, time.Minute)
}

func TestStartDisabledDoesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, mocks.NewMockWorkspaceSweeper(ctrl), nil, mocks.NewMockLockRecoverer(ctrl), nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Nil(t, s.NextRun())
	s.Stop()
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule = "every so often"

	err := New(cfg, nil, nil, nil, nil).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid maintenance schedule")
}

func TestStopOnContextCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sweeper := mocks.NewMockWorkspaceSweeper(ctrl)
	sweeper.EXPECT().Cleanup(gomock.Any(), gomock.Any()).Return(workspace.CleanupReport{}, nil)
	cfg := testConfig()
	cfg.Retention = 0

	ctx, cancel := context.WithCancel(context.Background())
	s := New(cfg, sweeper, nil, nil, nil)
	require.NoError(t, s.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool { return s.NextRun() == nil }, 2*time.Second, 10*time.Millisecond)
}
