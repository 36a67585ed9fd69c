package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/auth"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/pipeline"
)

const (
	// retryAfterBusy is the Retry-After hint sent with 503 Busy responses.
	retryAfterBusy = 5 * time.Second

	defaultExportsLimit = 20
	maxExportsLimit     = 200
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	if s.deps.Lock != nil {
		holder, held, err := s.deps.Lock.Holder()
		if err != nil {
			s.logger.Error("failed to read lock marker", "error", err)
			resp.Status = "degraded"
		}
		if held {
			resp.LockHeld = true
			resp.LockHolder = &LockHolder{
				PID:        holder.PID,
				Host:       holder.Host,
				HeldForSec: int64(time.Since(holder.AcquiredAt).Seconds()),
			}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleExport handles GET /export?table=&table_id=. The request blocks until
// the export finishes or fails.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	q := r.URL.Query()

	res, err := s.deps.Exporter.Run(r.Context(), pipeline.Request{
		CallerID: principal.Caller,
		Table:    q.Get("table"),
		TableID:  q.Get("table_id"),
	})
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ExportResponse{
		Success:     true,
		FilePath:    res.StorageKey,
		DownloadURL: res.DownloadURL,
	})
}

// handleListExports handles GET /exports?limit=N for the authenticated caller.
func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusNotFound, "NotFound", "export history is disabled")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	limit := defaultExportsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, string(pipeline.KindBadRequest), "limit must be a positive integer")
			return
		}
		limit = min(n, maxExportsLimit)
	}

	records, err := s.deps.History.ListByCaller(r.Context(), principal.Caller, limit)
	if err != nil {
		s.logger.Error("failed to list export history", "caller", principal.Caller, "error", err)
		s.writeError(w, http.StatusInternalServerError, string(pipeline.KindInternal), "failed to read export history")
		return
	}

	respondJSON(w, http.StatusOK, ExportsResponse{Caller: principal.Caller, Exports: records})
}

func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		s.logger.Error("unclassified export error", "error", err)
		perr = &pipeline.Error{Kind: pipeline.KindInternal, Details: "internal error", Err: err}
	}

	status := statusForKind(perr.Kind)
	if perr.Kind == pipeline.KindBusy {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfterBusy.Seconds())))
	}

	resp := ErrorResponse{Error: string(perr.Kind), Details: perr.Details}
	if s.config.ExposeDebug && perr.Err != nil {
		resp.Debug = perr.Err.Error()
	}
	respondJSON(w, status, resp)
}

func statusForKind(k pipeline.Kind) int {
	switch k {
	case pipeline.KindBadRequest:
		return http.StatusBadRequest
	case pipeline.KindUnauthorized:
		return http.StatusUnauthorized
	case pipeline.KindEmptyResult:
		return http.StatusNotFound
	case pipeline.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, kind, details string) {
	respondJSON(w, statusCode, ErrorResponse{Error: kind, Details: details})
}
