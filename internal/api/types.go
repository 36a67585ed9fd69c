package api

import "github.com/kuini-1/table-editor-1.0-sub001/internal/history"

// ExportResponse is returned by a successful GET /export.
type ExportResponse struct {
	Success     bool   `json:"success"`
	FilePath    string `json:"filePath"`
	DownloadURL string `json:"downloadUrl"`
}

// ErrorResponse is returned on errors. Debug is only set when the server
// exposes internal errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Debug   string `json:"debug,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string      `json:"status"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	LockHeld      bool        `json:"lock_held"`
	LockHolder    *LockHolder `json:"lock_holder,omitempty"`
}

// LockHolder describes the process currently converting.
type LockHolder struct {
	PID        int    `json:"pid"`
	Host       string `json:"host"`
	HeldForSec int64  `json:"held_for_seconds"`
}

// ExportsResponse is returned by GET /exports.
type ExportsResponse struct {
	Caller  string           `json:"caller"`
	Exports []history.Record `json:"exports"`
}
