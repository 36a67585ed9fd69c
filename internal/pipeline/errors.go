package pipeline

import (
	"errors"
	"fmt"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/artifact"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/converter"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/datasource"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/snapshot"
)

var (
	errInvalidRequest = errors.New("invalid request")
	errUnauthorized   = errors.New("missing caller identity")
)

// classify maps a stage error to its Kind. Sentinels decide first; the stage
// decides for anything unrecognised.
func classify(stage State, err error) Kind {
	var runErr *converter.RunError
	switch {
	case errors.Is(err, errUnauthorized):
		return KindUnauthorized
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, datasource.ErrInvalidTable),
		errors.Is(err, datasource.ErrTableNotAllowed):
		return KindBadRequest
	case errors.Is(err, converter.ErrMisconfigured),
		errors.Is(err, artifact.ErrBucket):
		return KindServerMisconfigured
	case errors.Is(err, snapshot.ErrEmptyResult):
		return KindEmptyResult
	case errors.Is(err, snapshot.ErrDataUnavailable):
		return KindDataUnavailable
	case errors.Is(err, lock.ErrBusy):
		return KindBusy
	case errors.As(err, &runErr),
		errors.Is(err, converter.ErrOutputMissing),
		errors.Is(err, converter.ErrOutputEmpty):
		return KindConversionError
	case errors.Is(err, artifact.ErrTooLarge):
		return KindUploadError
	}

	switch stage {
	case StateValidating:
		return KindServerMisconfigured
	case StateConverting, StateVerifying:
		return KindConversionError
	case StateUploading:
		return KindUploadError
	default:
		return KindInternal
	}
}

// details is the caller-facing description of a failure. It never includes
// paths, connection strings or stderr.
func details(kind Kind, req Request, err error) string {
	switch kind {
	case KindBadRequest:
		switch {
		case errors.Is(err, datasource.ErrTableNotAllowed):
			return fmt.Sprintf("table %q is not exportable", req.Table)
		case errors.Is(err, datasource.ErrInvalidTable):
			return fmt.Sprintf("table %q is not a valid table name", req.Table)
		default:
			return unwrapMessage(err)
		}
	case KindUnauthorized:
		return "caller identity is missing or invalid"
	case KindServerMisconfigured:
		return "export service is not configured correctly"
	case KindDataUnavailable:
		return fmt.Sprintf("data for table %q could not be read", req.Table)
	case KindEmptyResult:
		return fmt.Sprintf("no rows found for table %q with table_id %s", req.Table, req.TableID)
	case KindBusy:
		return "converter is busy, retry later"
	case KindConversionError:
		var runErr *converter.RunError
		switch {
		case errors.As(err, &runErr):
			return "conversion failed: " + runErr.Error()
		case errors.Is(err, converter.ErrOutputEmpty):
			return "conversion failed: converter produced an empty file"
		default:
			return "conversion failed: converter produced no output"
		}
	case KindUploadError:
		if errors.Is(err, artifact.ErrTooLarge) {
			return "artifact exceeds the maximum object size"
		}
		return "artifact upload failed"
	default:
		return "internal error"
	}
}

// unwrapMessage strips the sentinel prefix from validation errors.
func unwrapMessage(err error) string {
	var v *validationError
	if errors.As(err, &v) {
		return v.msg
	}
	return "invalid request"
}

type validationError struct {
	msg      string
	sentinel error
}

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error { return e.sentinel }

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...), sentinel: errInvalidRequest}
}
