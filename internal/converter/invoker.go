// Package converter runs the external table conversion executable and checks
// that it produced a usable artifact. The executable is not safe to run
// concurrently; callers must hold the converter lock around Run.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/storage"
)

const (
	// maxStderrBytes caps the amount of stderr kept for diagnostics.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

var (
	ErrMisconfigured = errors.New("converter is not available")
	ErrOutputMissing = errors.New("converter output missing")
	ErrOutputEmpty   = errors.New("converter output empty")
)

// RunError describes a converter process that did not exit cleanly.
type RunError struct {
	ExitCode int
	Signal   string
	Killed   bool
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *RunError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("converter timed out (signal %s)", e.Signal)
	case e.Signal != "":
		return fmt.Sprintf("converter terminated by signal %s", e.Signal)
	case e.Err != nil && e.ExitCode < 0:
		return fmt.Sprintf("converter failed: %v", e.Err)
	default:
		return fmt.Sprintf("converter exited with status %d", e.ExitCode)
	}
}

func (e *RunError) Unwrap() error { return e.Err }

// Input is one conversion request.
type Input struct {
	CSVPath      string
	CallerID     string
	Table        string
	WorkspaceDir string
}

// RunResult is what a clean converter exit leaves behind.
type RunResult struct {
	Duration time.Duration
	Stderr   string
}

// Artifact is a verified converter output.
type Artifact struct {
	LocalPath string
	SizeBytes int64
	Checksum  string
}

// Invoker spawns the configured converter.
type Invoker struct {
	cfg    config.ConverterConfig
	logger *slog.Logger
}

func New(cfg config.ConverterConfig, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{cfg: cfg, logger: logger}
}

// OutputPath is where the converter is expected to write its artifact.
func (i *Invoker) OutputPath(in Input) string {
	return filepath.Join(in.WorkspaceDir, in.Table+"."+i.cfg.Extension)
}

// CheckAvailable reports whether the executable and its working directory are usable.
func (i *Invoker) CheckAvailable() error {
	info, err := os.Stat(i.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMisconfigured, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrMisconfigured, i.cfg.Path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrMisconfigured, i.cfg.Path)
	}

	if i.cfg.WorkDir != "" {
		wd, err := os.Stat(i.cfg.WorkDir)
		if err != nil {
			return fmt.Errorf("%w: work dir: %w", ErrMisconfigured, err)
		}
		if !wd.IsDir() {
			return fmt.Errorf("%w: work dir %s is not a directory", ErrMisconfigured, i.cfg.WorkDir)
		}
	}
	return nil
}

// Run executes the converter once and waits for it. ctx only scopes logging:
// cancelling it does not stop the process. With a zero timeout the process
// runs until it exits on its own.
func (i *Invoker) Run(ctx context.Context, in Input) (RunResult, error) {
	logger := i.logger.With("table", in.Table, "caller", in.CallerID)

	csvPath, err := filepath.Abs(in.CSVPath)
	if err != nil {
		return RunResult{}, fmt.Errorf("resolve csv path: %w", err)
	}
	outDir, err := filepath.Abs(in.WorkspaceDir)
	if err != nil {
		return RunResult{}, fmt.Errorf("resolve workspace dir: %w", err)
	}
	bin, err := filepath.Abs(i.cfg.Path)
	if err != nil {
		return RunResult{}, fmt.Errorf("resolve converter path: %w", err)
	}

	// Not CommandContext: request cancellation must never kill a conversion in flight.
	cmd := exec.Command(bin, in.Table, in.CallerID, i.cfg.FormatTag)
	cmd.Dir = i.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		i.cfg.InputEnv+"="+csvPath,
		i.cfg.OutputEnv+"="+outDir,
	)

	stdout := &cappedBuffer{max: maxStderrBytes}
	stderr := &cappedBuffer{max: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Bound how long Wait blocks on pipes held open by orphaned grandchildren.
	cmd.WaitDelay = terminationGracePeriod

	logger.DebugContext(ctx, "spawning converter", "path", bin, "work_dir", cmd.Dir, "timeout", i.cfg.Timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return RunResult{}, &RunError{ExitCode: -1, Err: fmt.Errorf("start process: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if i.cfg.Timeout > 0 {
		timer := time.NewTimer(i.cfg.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var (
		werr     error
		timedOut bool
	)
	select {
	case werr = <-waitErr:
	case <-timeoutC:
		timedOut = true
		logger.Warn("converter timed out, sending SIGTERM", "timeout", i.cfg.Timeout)
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()

		select {
		case werr = <-waitErr:
			logger.Info("converter exited after SIGTERM")
		case <-grace.C:
			logger.Warn("converter did not exit after SIGTERM, sending SIGKILL")
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			werr = <-waitErr
		}
	}

	result := RunResult{Duration: time.Since(start), Stderr: stderr.String()}
	if stderr.truncated {
		logger.Warn("converter stderr truncated", "limit_bytes", maxStderrBytes)
	}
	if out := stdout.String(); out != "" {
		logger.Debug("converter stdout", "stdout", out)
	}

	if errors.Is(werr, exec.ErrWaitDelay) {
		logger.Warn("converter exited but its output pipes stayed open")
		werr = nil
	}

	if werr == nil && !timedOut {
		return result, nil
	}

	runErr := &RunError{ExitCode: -1, TimedOut: timedOut, Stderr: result.Stderr, Err: werr}
	var exitErr *exec.ExitError
	if errors.As(werr, &exitErr) {
		runErr.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			runErr.Signal = ws.Signal().String()
			runErr.Killed = ws.Signal() == syscall.SIGKILL
		}
	} else if werr != nil {
		runErr.Err = fmt.Errorf("wait for process: %w", werr)
	}
	if timedOut {
		runErr.Killed = true
	}
	return result, runErr
}

// Verify checks that the expected output exists and is non-empty, then
// checksums it.
func (i *Invoker) Verify(in Input) (Artifact, error) {
	path := i.OutputPath(in)

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return Artifact{}, fmt.Errorf("%w: %s", ErrOutputMissing, path)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: stat %s: %w", ErrOutputMissing, path, err)
	}
	if !info.Mode().IsRegular() {
		return Artifact{}, fmt.Errorf("%w: %s is not a regular file", ErrOutputMissing, path)
	}
	if info.Size() == 0 {
		return Artifact{}, fmt.Errorf("%w: %s", ErrOutputEmpty, path)
	}

	sum, err := storage.FileChecksum(path)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{LocalPath: path, SizeBytes: info.Size(), Checksum: sum}, nil
}

// cappedBuffer keeps the first max bytes written and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.max - b.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > remaining:
		b.buf.Write(p[:remaining])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
