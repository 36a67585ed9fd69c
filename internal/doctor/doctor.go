// Package doctor validates tablexport configuration and the environment the
// export pipeline depends on.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/auth"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid       bool    `json:"valid"`
	Fingerprint string  `json:"config_blake3,omitempty"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Probes are live environment checks. Any of them may be nil, in which case
// that check is skipped.
type Probes struct {
	Converter  interface{ CheckAvailable() error }
	Lock       interface{ Holder() (lock.Holder, bool, error) }
	DataSource interface{ Ping(ctx context.Context) error }
	Storage    interface{ Ping(ctx context.Context) error }
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg     *config.Config
	probes  Probes
	fsCheck func(path string) error
}

// New creates a Doctor from a loaded config and optional probes.
func New(cfg *config.Config, probes Probes) *Doctor {
	return &Doctor{cfg: cfg, probes: probes, fsCheck: storage.CheckLocal}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateConverter(r)
	d.validateLock(r)
	d.validateDataSource(ctx, r)
	d.validateStorage(ctx, r)
	d.validateHistory(r)
	d.validateMaintenance(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	api := d.cfg.API
	if api.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required")
	}
	if len(api.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth.tokens", "no API tokens configured; every export request will be rejected")
	}
	if api.ExposeDebug {
		d.addWarning(r, "api", "api.expose_debug", "raw internal errors are returned to callers; disable outside development")
	}

	seen := make(map[string]int)
	for i, tok := range api.Auth.Tokens {
		if prev, ok := seen[tok.Token]; ok && tok.Token != "" {
			d.addError(r, "api", fmt.Sprintf("api.auth.tokens[%d].token", i),
				fmt.Sprintf("token duplicates api.auth.tokens[%d]", prev))
		}
		seen[tok.Token] = i
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	known := map[string]bool{auth.ScopeExportRead: true, auth.ScopeExportWrite: true, auth.ScopeAll: true}
	for i, tok := range d.cfg.API.Auth.Tokens {
		for j, scope := range tok.Scopes {
			if !known[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected %s, %s or %s)", scope, auth.ScopeExportRead, auth.ScopeExportWrite, auth.ScopeAll))
			}
		}
	}
}

func (d *Doctor) validateConverter(r *Result) {
	if d.probes.Converter != nil {
		if err := d.probes.Converter.CheckAvailable(); err != nil {
			d.addError(r, "converter", "converter.path", err.Error())
		}
	}
	if d.cfg.Converter.Timeout > 0 {
		d.addWarning(r, "converter", "converter.timeout",
			fmt.Sprintf("converter runs are killed after %s; a killed run fails the export", d.cfg.Converter.Timeout))
	}
}

func (d *Doctor) validateLock(r *Result) {
	budget := time.Duration(d.cfg.Lock.MaxAttempts) * d.cfg.Lock.Interval
	if budget > 5*time.Minute {
		d.addWarning(r, "lock", "lock.max_attempts",
			fmt.Sprintf("lock wait budget is %s; requests may outlive client timeouts", budget))
	}
	if err := d.fsCheck(d.cfg.Lock.Path); err != nil {
		d.addWarning(r, "lock", "lock.path",
			fmt.Sprintf("lock marker %v; exclusive creation is not reliable across hosts there", err))
	}
	if d.probes.Lock == nil {
		return
	}
	holder, held, err := d.probes.Lock.Holder()
	switch {
	case err != nil:
		d.addError(r, "lock", "lock.path", err.Error())
	case held:
		d.addWarning(r, "lock", "lock.path",
			fmt.Sprintf("converter lock is held by pid %d on %q since %s (run %q); use 'tablexport lock clear' if that process is gone",
				holder.PID, holder.Host, holder.AcquiredAt.Format(time.RFC3339), holder.Owner))
	}
}

func (d *Doctor) validateDataSource(ctx context.Context, r *Result) {
	ds := d.cfg.DataSource
	if ds.URL == "" {
		d.addError(r, "datasource", "datasource.url", "datasource.url is required")
	}
	if ds.Driver == "sqlite" && ds.URL != "" {
		if err := d.fsCheck(ds.URL); err != nil {
			d.addError(r, "datasource", "datasource.url", fmt.Sprintf("sqlite datasource %v", err))
		}
	}
	if len(ds.Tables) == 0 {
		d.addWarning(r, "datasource", "datasource.tables", "no table allowlist; any table with the instance column can be exported")
	}
	if d.probes.DataSource != nil && ds.URL != "" {
		if err := d.ping(ctx, d.probes.DataSource.Ping); err != nil {
			d.addError(r, "datasource", "datasource.url", fmt.Sprintf("datasource unreachable: %v", err))
		}
	}
}

func (d *Doctor) validateStorage(ctx context.Context, r *Result) {
	st := d.cfg.Storage
	if st.Endpoint == "" {
		d.addError(r, "storage", "storage.endpoint", "storage.endpoint is required")
	}
	if st.AccessKey == "" || st.SecretKey == "" {
		d.addWarning(r, "storage", "storage.access_key", "storage credentials are empty (possibly unresolved environment variable)")
	}
	if !st.Secure && st.PublicBaseURL == "" {
		d.addWarning(r, "storage", "storage.secure", "download URLs will use plain http")
	}
	if d.probes.Storage != nil && st.Endpoint != "" {
		if err := d.ping(ctx, d.probes.Storage.Ping); err != nil {
			d.addError(r, "storage", "storage.endpoint", fmt.Sprintf("object storage unreachable: %v", err))
		}
	}
}

func (d *Doctor) validateHistory(r *Result) {
	if err := d.fsCheck(d.cfg.History.Path); err != nil {
		d.addError(r, "history", "history.path",
			fmt.Sprintf("history database %v; SQLite needs local disk for reliable locking", err))
	}
}

func (d *Doctor) validateMaintenance(r *Result) {
	m := d.cfg.Maintenance
	if !m.Enabled {
		d.addWarning(r, "maintenance", "maintenance.enabled", "orphaned workspaces and old history are never swept")
		return
	}
	if _, err := cron.ParseStandard(m.Schedule); err != nil {
		d.addError(r, "maintenance", "maintenance.schedule", fmt.Sprintf("invalid schedule %q: %v", m.Schedule, err))
	}
}

func (d *Doctor) ping(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return fn(ctx)
}

// WithFingerprint records the BLAKE3 hash of the config file in r.
func WithFingerprint(r *Result, configPath string) *Result {
	if configPath == "" {
		return r
	}
	fp, err := config.Fingerprint(configPath)
	if err != nil {
		r.Warnings = append(r.Warnings, Issue{Category: "config", Message: fmt.Sprintf("cannot fingerprint %s: %v", configPath, err)})
		return r
	}
	r.Fingerprint = fp
	return r
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
	} else if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}
	if r.Fingerprint != "" {
		fmt.Fprintf(&b, "  config blake3: %s\n", r.Fingerprint)
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
