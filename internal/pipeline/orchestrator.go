// Package pipeline runs one export end to end: validate, snapshot the table to
// CSV, convert it under the global converter lock, upload the artifact and
// clean up. It is the only place where stage errors become caller-facing
// failures.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/artifact"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/converter"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/datasource"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/events"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/history"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/metrics"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/snapshot"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/workspace"
)

type Workspaces interface {
	Prepare(ctx context.Context, ownerID string) (workspace.Workspace, error)
	Teardown(ctx context.Context, ws workspace.Workspace) error
}

type Exporter interface {
	Export(ctx context.Context, table string, tableID uuid.UUID, dir string) (snapshot.Snapshot, error)
}

type Locker interface {
	Acquire(ctx context.Context, owner string, maxAttempts int, interval time.Duration) (*lock.Lease, error)
}

type Converter interface {
	CheckAvailable() error
	Run(ctx context.Context, in converter.Input) (converter.RunResult, error)
	Verify(in converter.Input) (converter.Artifact, error)
}

type ArtifactStore interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, obj artifact.Object) (string, error)
}

type HistoryRecorder interface {
	Record(ctx context.Context, r history.Record) error
}

type Publisher interface {
	Publish(caller, eventType string, data any)
}

// Deps are the orchestrator's collaborators. History, Events and Metrics are
// optional.
type Deps struct {
	Workspaces Workspaces
	Exporter   Exporter
	Lock       Locker
	Converter  Converter
	Store      ArtifactStore
	History    HistoryRecorder
	Events     Publisher
	Metrics    *metrics.Collector
	Logger     *slog.Logger

	LockAttempts int
	LockInterval time.Duration
	Extension    string
	Tables       []string
}

type Orchestrator struct {
	d   Deps
	now func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.LockAttempts < 1 {
		d.LockAttempts = 1
	}
	return &Orchestrator{d: d, now: time.Now}
}

// Run executes one export. The run is detached from ctx cancellation: a caller
// that disconnects does not interrupt the lock wait, the conversion or the
// cleanup. Every error returned is a *Error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	r := &run{
		o:       o,
		req:     req,
		id:      uuid.NewString(),
		state:   StateInit,
		started: o.now(),
	}
	r.entered = r.started
	r.logger = o.d.Logger.With("component", "pipeline", "run_id", r.id, "caller", req.CallerID, "table", req.Table)

	res, err := r.execute(ctx)
	res.RunID = r.id
	r.finish(ctx, res, err)
	if err != nil {
		return res, err
	}
	return res, nil
}

type run struct {
	o       *Orchestrator
	req     Request
	id      string
	state   State
	started time.Time
	entered time.Time
	logger  *slog.Logger

	rowCount int
	lockWait time.Duration
}

func (r *run) execute(ctx context.Context) (Result, error) {
	d := r.o.d

	r.enter(StateValidating)
	exp, err := validate(r.req, d.Tables)
	if err != nil {
		return Result{}, r.fail(err)
	}
	if err := d.Converter.CheckAvailable(); err != nil {
		return Result{}, r.fail(err)
	}
	if err := d.Store.EnsureBucket(ctx); err != nil {
		return Result{}, r.fail(err)
	}

	r.enter(StatePreparing)
	ws, err := d.Workspaces.Prepare(ctx, exp.CallerID)
	if err != nil {
		return Result{}, r.fail(err)
	}
	tornDown := false
	defer func() {
		if !tornDown {
			r.teardown(ctx, ws)
		}
	}()

	r.enter(StateExporting)
	snap, err := d.Exporter.Export(ctx, exp.Table, exp.TableID, ws.Dir)
	if err != nil {
		return Result{}, r.fail(err)
	}
	r.rowCount = snap.RowCount

	input := converter.Input{
		CSVPath:      snap.Path,
		CallerID:     exp.CallerID,
		Table:        exp.Table,
		WorkspaceDir: ws.Dir,
	}

	r.enter(StateAwaitingLock)
	if err := r.convertLocked(ctx, input); err != nil {
		return Result{}, r.fail(err)
	}

	r.enter(StateVerifying)
	art, err := d.Converter.Verify(input)
	if err != nil {
		return Result{}, r.fail(err)
	}

	r.enter(StateUploading)
	key := StorageKey(exp.CallerID, exp.Table, d.Extension)
	url, err := d.Store.Upload(ctx, artifact.Object{Key: key, LocalPath: art.LocalPath, Checksum: art.Checksum})
	if err != nil {
		return Result{}, r.fail(err)
	}
	d.Metrics.ObserveArtifactSize(art.SizeBytes)

	r.enter(StateCleaningUp)
	tornDown = true
	r.teardown(ctx, ws)

	r.enter(StateDone)
	return Result{
		StorageKey:  key,
		DownloadURL: url,
		SizeBytes:   art.SizeBytes,
		Checksum:    art.Checksum,
		RowCount:    snap.RowCount,
		LockWait:    r.lockWait,
	}, nil
}

// convertLocked waits for the converter lock and runs the converter. The lock
// is released when this returns, whatever the outcome.
func (r *run) convertLocked(ctx context.Context, in converter.Input) error {
	d := r.o.d

	waitStart := r.o.now()
	lease, err := d.Lock.Acquire(ctx, r.id, d.LockAttempts, d.LockInterval)
	r.lockWait = r.o.now().Sub(waitStart)
	d.Metrics.ObserveLockWait(r.lockWait, err == nil)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			if h, ok := lockHolder(d.Lock); ok {
				r.logger.Warn("converter lock busy", "waited", r.lockWait, "holder_pid", h.PID, "holder_host", h.Host, "holder_run", h.Owner)
			}
		}
		return err
	}
	defer lease.Release()

	r.enter(StateConverting)
	d.Metrics.ConverterStarted()
	res, err := d.Converter.Run(ctx, in)
	d.Metrics.ConverterFinished(converterResult(err))
	if err != nil {
		return err
	}
	if res.Stderr != "" {
		r.logger.Debug("converter stderr", "stderr", res.Stderr)
	}
	r.logger.Info("converter finished", "duration", res.Duration)
	return nil
}

// enter moves the run to next, recording the time spent in the previous state.
func (r *run) enter(next State) {
	now := r.o.now()
	if r.state != StateInit {
		r.o.d.Metrics.ObserveStage(string(r.state), now.Sub(r.entered))
	}
	r.state = next
	r.entered = now

	r.logger.Debug("export stage", "stage", next)
	r.publish(events.TypeStage, map[string]any{
		"runId": r.id,
		"table": r.req.Table,
		"stage": next,
	})
}

// fail translates err into a *Error at the current state.
func (r *run) fail(err error) *Error {
	kind := classify(r.state, err)
	return &Error{
		Kind:    kind,
		Stage:   r.state,
		Details: details(kind, r.req, err),
		Err:     err,
	}
}

func (r *run) teardown(ctx context.Context, ws workspace.Workspace) {
	if err := r.o.d.Workspaces.Teardown(ctx, ws); err != nil {
		r.logger.Warn("workspace teardown failed", "dir", ws.Dir, "error", err)
	}
}

func (r *run) finish(ctx context.Context, res Result, err error) {
	d := r.o.d
	completed := r.o.now()
	duration := completed.Sub(r.started)

	rec := history.Record{
		ID:          r.id,
		Caller:      r.req.CallerID,
		Table:       r.req.Table,
		TableID:     r.req.TableID,
		RowCount:    r.rowCount,
		LockWaitMS:  r.lockWait.Milliseconds(),
		StartedAt:   r.started,
		CompletedAt: completed,
	}

	var perr *Error
	if errors.As(err, &perr) {
		r.enter(StateFailed)
		d.Metrics.ObserveExport(string(perr.Kind), duration)

		rec.Status = history.StatusFailed
		rec.ErrorKind = string(perr.Kind)
		rec.Stage = string(perr.Stage)
		rec.LastError = perr.Error()

		r.logFailure(perr, duration)
		r.publish(events.TypeFailed, map[string]any{
			"runId":   r.id,
			"table":   r.req.Table,
			"stage":   perr.Stage,
			"error":   perr.Kind,
			"details": perr.Details,
		})
	} else {
		d.Metrics.ObserveExport("success", duration)

		rec.Status = history.StatusSucceeded
		rec.StorageKey = res.StorageKey
		rec.DownloadURL = res.DownloadURL
		rec.SizeBytes = res.SizeBytes
		rec.Checksum = res.Checksum

		r.logger.Info("export succeeded", "key", res.StorageKey, "size", res.SizeBytes, "rows", res.RowCount, "lock_wait", r.lockWait, "duration", duration)
		r.publish(events.TypeSucceeded, map[string]any{
			"runId":       r.id,
			"table":       r.req.Table,
			"filePath":    res.StorageKey,
			"downloadUrl": res.DownloadURL,
		})
	}

	if d.History != nil {
		if err := d.History.Record(ctx, rec); err != nil {
			r.logger.Warn("failed to record export history", "error", err)
		}
	}
}

func (r *run) logFailure(perr *Error, duration time.Duration) {
	attrs := []any{"kind", perr.Kind, "stage", perr.Stage, "duration", duration, "error", perr.Err}

	var runErr *converter.RunError
	if errors.As(perr.Err, &runErr) {
		attrs = append(attrs,
			"exit_code", runErr.ExitCode,
			"signal", runErr.Signal,
			"killed", runErr.Killed,
			"timed_out", runErr.TimedOut,
			"stderr", runErr.Stderr,
		)
	}

	switch perr.Kind {
	case KindBadRequest, KindUnauthorized, KindEmptyResult, KindBusy:
		r.logger.Info("export rejected", attrs...)
	default:
		r.logger.Error("export failed", attrs...)
	}
}

func (r *run) publish(eventType string, data map[string]any) {
	if r.o.d.Events == nil || r.req.CallerID == "" {
		return
	}
	r.o.d.Events.Publish(r.req.CallerID, eventType, data)
}

func validate(req Request, tables []string) (exportRequest, error) {
	caller := strings.TrimSpace(req.CallerID)
	if caller == "" || caller != req.CallerID || strings.ContainsAny(caller, `/\`) || caller == "." || caller == ".." {
		return exportRequest{}, errUnauthorized
	}
	if req.Table == "" {
		return exportRequest{}, invalid("table is required")
	}
	if err := datasource.ValidateTable(req.Table, tables); err != nil {
		return exportRequest{}, err
	}
	if req.TableID == "" {
		return exportRequest{}, invalid("table_id is required")
	}
	id, err := uuid.Parse(req.TableID)
	if err != nil {
		return exportRequest{}, invalid("table_id must be a UUID")
	}
	return exportRequest{CallerID: caller, Table: req.Table, TableID: id}, nil
}

func converterResult(err error) string {
	if err == nil {
		return "ok"
	}
	var runErr *converter.RunError
	if errors.As(err, &runErr) && runErr.TimedOut {
		return "timeout"
	}
	return "failed"
}

// lockHolder reads holder diagnostics when the Locker can provide them.
func lockHolder(l Locker) (lock.Holder, bool) {
	hl, ok := l.(interface {
		Holder() (lock.Holder, bool, error)
	})
	if !ok {
		return lock.Holder{}, false
	}
	h, held, err := hl.Holder()
	if err != nil || !held {
		return lock.Holder{}, false
	}
	return h, true
}
