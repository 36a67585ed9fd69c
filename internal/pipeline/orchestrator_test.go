package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/artifact"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/converter"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/datasource"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/events"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/history"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/snapshot"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/storage"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/workspace"
)

// These tests run the real converter script, so they stay serial.

// copyScript copies the CSV to the output file. The mkdir guard fails the run
// if two conversions ever overlap.
const copyScript = `mkdir "$GUARD" 2>/dev/null || { echo "overlapping conversion" >&2; exit 9; }
touch "$RAN"
sleep 0.2
cp "$EXPORT_INPUT_CSV" "$EXPORT_OUTPUT_DIR/$1.rdf"
rmdir "$GUARD"`

type fakeStore struct {
	mu        sync.Mutex
	uploads   map[string]string
	purged    []string
	bucketErr error
	uploadErr error
}

func newFakeStore() *fakeStore { return &fakeStore{uploads: map[string]string{}} }

func (s *fakeStore) EnsureBucket(context.Context) error { return s.bucketErr }

func (s *fakeStore) Upload(_ context.Context, obj artifact.Object) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	data, err := os.ReadFile(obj.LocalPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[obj.Key] = string(data)
	return "http://store.local/exports/" + obj.Key, nil
}

func (s *fakeStore) PurgePrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, prefix)
	n := 0
	for k := range s.uploads {
		if strings.HasPrefix(k, prefix) {
			delete(s.uploads, k)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) upload(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.uploads[key]
	return v, ok
}

type harness struct {
	orch    *Orchestrator
	store   *fakeStore
	marker  *lock.Marker
	history *history.Store
	hub     *events.Hub
	wsBase  string
	ranFile string
	tableID uuid.UUID
}

func newHarness(t *testing.T, script string, rows int) *harness {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	db, err := storage.OpenSQLite(ctx, filepath.Join(root, "data.db"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE exp_table (table_id TEXT NOT NULL, name TEXT, qty INTEGER)`)
	require.NoError(t, err)
	tableID := uuid.New()
	for i := 0; i < rows; i++ {
		_, err = db.Exec(`INSERT INTO exp_table (table_id, name, qty) VALUES (?, ?, ?)`, tableID.String(), fmt.Sprintf("item-%d", i), i)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO exp_table (table_id, name, qty) VALUES (?, 'other', 99)`, uuid.NewString())
	require.NoError(t, err)
	source := datasource.NewSQLite(db, "table_id", []string{"exp_table"})
	t.Cleanup(source.Close)

	workDir := filepath.Join(root, "converter")
	require.NoError(t, os.MkdirAll(workDir, 0o755))
	guard := filepath.Join(root, "guard")
	ranFile := filepath.Join(root, "ran")
	script = strings.NewReplacer(`"$GUARD"`, `"`+guard+`"`, `"$RAN"`, `"`+ranFile+`"`).Replace(script)
	binPath := filepath.Join(workDir, "convert")
	require.NoError(t, os.WriteFile(binPath, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	inv := converter.New(config.ConverterConfig{
		Path:      binPath,
		WorkDir:   workDir,
		FormatTag: "rdf",
		Extension: "rdf",
		InputEnv:  "EXPORT_INPUT_CSV",
		OutputEnv: "EXPORT_OUTPUT_DIR",
	}, nil)

	store := newFakeStore()
	wsBase := filepath.Join(root, "workspaces")
	wm, err := workspace.NewFSManager(wsBase, store, nil)
	require.NoError(t, err)

	marker, err := lock.NewMarker(filepath.Join(root, "converter.lock"), nil)
	require.NoError(t, err)

	hist, err := history.Open(ctx, filepath.Join(root, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })

	hub := events.NewHub(64)

	orch := New(Deps{
		Workspaces:   wm,
		Exporter:     snapshot.New(source, nil),
		Lock:         marker,
		Converter:    inv,
		Store:        store,
		History:      hist,
		Events:       hub,
		LockAttempts: 100,
		LockInterval: 20 * time.Millisecond,
		Extension:    "rdf",
		Tables:       []string{"exp_table"},
	})

	return &harness{
		orch:    orch,
		store:   store,
		marker:  marker,
		history: hist,
		hub:     hub,
		wsBase:  wsBase,
		ranFile: ranFile,
		tableID: tableID,
	}
}

func (h *harness) request(caller string) Request {
	return Request{CallerID: caller, Table: "exp_table", TableID: h.tableID.String()}
}

func (h *harness) converterRan() bool {
	_, err := os.Stat(h.ranFile)
	return err == nil
}

func requireKind(t *testing.T, err error, want Kind) *Error {
	t.Helper()
	var perr *Error
	require.True(t, errors.As(err, &perr), "expected *Error, got %T: %v", err, err)
	require.Equal(t, want, perr.Kind, "error: %v", perr)
	return perr
}

func TestRunPublishesConvertedArtifact(t *testing.T) {
	h := newHarness(t, copyScript, 3)

	res, err := h.orch.Run(context.Background(), h.request("user-a"))
	require.NoError(t, err)

	assert.Equal(t, "user-a/exp_table.rdf", res.StorageKey)
	assert.Equal(t, "http://store.local/exports/user-a/exp_table.rdf", res.DownloadURL)
	assert.Equal(t, 3, res.RowCount)
	assert.NotEmpty(t, res.Checksum)
	assert.NotEmpty(t, res.RunID)

	body, ok := h.store.upload("user-a/exp_table.rdf")
	require.True(t, ok)
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "table_id,name,qty", lines[0])
	assert.Equal(t, []string{"user-a/"}, h.store.purged)

	_, statErr := os.Stat(filepath.Join(h.wsBase, "user-a"))
	assert.True(t, os.IsNotExist(statErr), "workspace should be removed")
	_, held, err := h.marker.Holder()
	require.NoError(t, err)
	assert.False(t, held)

	recs, err := h.history.ListByCaller(context.Background(), "user-a", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusSucceeded, recs[0].Status)
	assert.Equal(t, res.StorageKey, recs[0].StorageKey)

	evs := h.hub.SnapshotSince("user-a", 0)
	require.NotEmpty(t, evs)
	assert.Equal(t, events.TypeSucceeded, evs[len(evs)-1].Type)
}

func TestRunEmptyResultSkipsLockAndConverter(t *testing.T) {
	h := newHarness(t, copyScript, 0)

	_, err := h.orch.Run(context.Background(), h.request("user-a"))
	perr := requireKind(t, err, KindEmptyResult)
	assert.Equal(t, StateExporting, perr.Stage)
	assert.Contains(t, perr.Details, "exp_table")

	assert.False(t, h.converterRan())
	_, uploaded := h.store.upload("user-a/exp_table.rdf")
	assert.False(t, uploaded)
	_, statErr := os.Stat(filepath.Join(h.wsBase, "user-a"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunEmptyResultWhileLockHeld(t *testing.T) {
	h := newHarness(t, copyScript, 0)
	lease, err := h.marker.Acquire(context.Background(), "someone-else", 1, time.Millisecond)
	require.NoError(t, err)
	defer lease.Release()

	_, err = h.orch.Run(context.Background(), h.request("user-a"))
	requireKind(t, err, KindEmptyResult)

	holder, held, err := h.marker.Holder()
	require.NoError(t, err)
	require.True(t, held)
	assert.Equal(t, "someone-else", holder.Owner)
}

func TestRunBusyWhenLockNeverFrees(t *testing.T) {
	h := newHarness(t, copyScript, 2)
	h.orch.d.LockAttempts = 3
	h.orch.d.LockInterval = 10 * time.Millisecond

	lease, err := h.marker.Acquire(context.Background(), "someone-else", 1, time.Millisecond)
	require.NoError(t, err)
	defer lease.Release()

	_, err = h.orch.Run(context.Background(), h.request("user-a"))
	perr := requireKind(t, err, KindBusy)
	assert.Equal(t, StateAwaitingLock, perr.Stage)

	assert.False(t, h.converterRan())
	_, uploaded := h.store.upload("user-a/exp_table.rdf")
	assert.False(t, uploaded)

	holder, held, err := h.marker.Holder()
	require.NoError(t, err)
	require.True(t, held, "busy run must not remove the holder's marker")
	assert.Equal(t, "someone-else", holder.Owner)
}

func TestRunConverterFailureReleasesLock(t *testing.T) {
	h := newHarness(t, `echo "bad input" >&2; exit 3`, 2)

	_, err := h.orch.Run(context.Background(), h.request("user-a"))
	perr := requireKind(t, err, KindConversionError)
	assert.Equal(t, StateConverting, perr.Stage)
	assert.Contains(t, perr.Details, "status 3")
	assert.NotContains(t, perr.Details, "bad input")

	_, held, err := h.marker.Holder()
	require.NoError(t, err)
	assert.False(t, held)
	_, statErr := os.Stat(filepath.Join(h.wsBase, "user-a"))
	assert.True(t, os.IsNotExist(statErr))

	recs, err := h.history.ListByCaller(context.Background(), "user-a", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusFailed, recs[0].Status)
	assert.Equal(t, string(KindConversionError), recs[0].ErrorKind)
	assert.Equal(t, string(StateConverting), recs[0].Stage)

	evs := h.hub.SnapshotSince("user-a", 0)
	require.GreaterOrEqual(t, len(evs), 2)
	last, terminal := evs[len(evs)-2], evs[len(evs)-1]
	assert.Equal(t, events.TypeStage, last.Type)
	var stage struct {
		Stage State `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(last.Data, &stage))
	assert.Equal(t, StateFailed, stage.Stage)
	assert.Equal(t, events.TypeFailed, terminal.Type)
}

func TestRunMissingOutputIsConversionError(t *testing.T) {
	h := newHarness(t, `exit 0`, 1)

	_, err := h.orch.Run(context.Background(), h.request("user-a"))
	perr := requireKind(t, err, KindConversionError)
	assert.Equal(t, StateVerifying, perr.Stage)
}

func TestRunUploadFailure(t *testing.T) {
	h := newHarness(t, copyScript, 1)
	h.store.uploadErr = errors.New("connection reset")

	_, err := h.orch.Run(context.Background(), h.request("user-a"))
	perr := requireKind(t, err, KindUploadError)
	assert.NotContains(t, perr.Details, "connection reset")
	_, statErr := os.Stat(filepath.Join(h.wsBase, "user-a"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunResetsLeftoverWorkspace(t *testing.T) {
	h := newHarness(t, copyScript, 1)
	stale := filepath.Join(h.wsBase, "user-a", "stale.rdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	_, err := h.orch.Run(context.Background(), h.request("user-a"))
	require.NoError(t, err)
	_, err = h.orch.Run(context.Background(), h.request("user-a"))
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, []string{"user-a/", "user-a/"}, h.store.purged)
}

func TestConcurrentCallersSerializeConversion(t *testing.T) {
	h := newHarness(t, copyScript, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, caller := range []string{"user-a", "user-b"} {
		wg.Add(1)
		go func(i int, caller string) {
			defer wg.Done()
			_, errs[i] = h.orch.Run(context.Background(), h.request(caller))
		}(i, caller)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	_, okA := h.store.upload("user-a/exp_table.rdf")
	_, okB := h.store.upload("user-b/exp_table.rdf")
	assert.True(t, okA)
	assert.True(t, okB)
}

func TestRunValidation(t *testing.T) {
	h := newHarness(t, copyScript, 1)

	cases := []struct {
		name string
		req  Request
		kind Kind
	}{
		{"missing caller", Request{Table: "exp_table", TableID: h.tableID.String()}, KindUnauthorized},
		{"path caller", Request{CallerID: "../x", Table: "exp_table", TableID: h.tableID.String()}, KindUnauthorized},
		{"missing table", Request{CallerID: "user-a", TableID: h.tableID.String()}, KindBadRequest},
		{"bad table", Request{CallerID: "user-a", Table: "exp;drop", TableID: h.tableID.String()}, KindBadRequest},
		{"unlisted table", Request{CallerID: "user-a", Table: "secrets", TableID: h.tableID.String()}, KindBadRequest},
		{"missing id", Request{CallerID: "user-a", Table: "exp_table"}, KindBadRequest},
		{"bad id", Request{CallerID: "user-a", Table: "exp_table", TableID: "42"}, KindBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.orch.Run(context.Background(), tc.req)
			perr := requireKind(t, err, tc.kind)
			assert.Equal(t, StateValidating, perr.Stage)
		})
	}
	assert.False(t, h.converterRan())
	assert.Empty(t, h.store.purged)
}

func TestRunMisconfigured(t *testing.T) {
	h := newHarness(t, copyScript, 1)
	h.store.bucketErr = fmt.Errorf("%w: access denied", artifact.ErrBucket)

	_, err := h.orch.Run(context.Background(), h.request("user-a"))
	perr := requireKind(t, err, KindServerMisconfigured)
	assert.NotContains(t, perr.Details, "access denied")
	assert.Empty(t, h.store.purged)
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t, copyScript, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx, h.request("user-a"))
	require.NoError(t, err)
}

func TestClassifyFallsBackOnStage(t *testing.T) {
	t.Parallel()

	other := errors.New("boom")
	assert.Equal(t, KindInternal, classify(StatePreparing, other))
	assert.Equal(t, KindInternal, classify(StateExporting, other))
	assert.Equal(t, KindConversionError, classify(StateConverting, other))
	assert.Equal(t, KindUploadError, classify(StateUploading, other))
	assert.Equal(t, KindDataUnavailable, classify(StateExporting, fmt.Errorf("x: %w", snapshot.ErrDataUnavailable)))
	assert.Equal(t, KindBusy, classify(StateAwaitingLock, lock.ErrBusy))
}
