package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is a step of one export run.
type State string

const (
	StateInit         State = "Init"
	StateValidating   State = "Validating"
	StatePreparing    State = "Preparing"
	StateExporting    State = "Exporting"
	StateAwaitingLock State = "AwaitingLock"
	StateConverting   State = "Converting"
	StateVerifying    State = "Verifying"
	StateUploading    State = "Uploading"
	StateCleaningUp   State = "CleaningUp"
	StateDone         State = "Done"
	StateFailed       State = "Failed"
)

// Kind classifies a failed run. The HTTP layer maps each Kind to a status.
type Kind string

const (
	KindBadRequest          Kind = "BadRequest"
	KindUnauthorized        Kind = "Unauthorized"
	KindServerMisconfigured Kind = "ServerMisconfigured"
	KindDataUnavailable     Kind = "DataUnavailable"
	KindEmptyResult         Kind = "EmptyResult"
	KindBusy                Kind = "Busy"
	KindConversionError     Kind = "ConversionError"
	KindUploadError         Kind = "UploadError"
	KindInternal            Kind = "Internal"
)

// Error is the only error type Run returns.
type Error struct {
	Kind    Kind
	Stage   State
	Details string // safe to show to the caller
	Err     error  // raw cause, for logs and debug output
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s: %s", e.Kind, e.Stage, e.Details)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request is an unvalidated export request as received from a caller.
type Request struct {
	CallerID string
	Table    string
	TableID  string
}

// exportRequest is a Request that passed validation.
type exportRequest struct {
	CallerID string
	Table    string
	TableID  uuid.UUID
}

// Result describes a published artifact.
type Result struct {
	RunID       string        `json:"runId"`
	StorageKey  string        `json:"filePath"`
	DownloadURL string        `json:"downloadUrl"`
	SizeBytes   int64         `json:"sizeBytes"`
	Checksum    string        `json:"checksum"`
	RowCount    int           `json:"rowCount"`
	LockWait    time.Duration `json:"-"`
}

// StorageKey is the object key for a caller's export of table.
func StorageKey(callerID, table, ext string) string {
	return callerID + "/" + table + "." + ext
}
