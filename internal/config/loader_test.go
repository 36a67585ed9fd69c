package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
datasource:
  driver: sqlite
  url: ./rows.db
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Lock.MaxAttempts != 60 || cfg.Lock.Interval != time.Second {
					t.Errorf("lock defaults not applied: %+v", cfg.Lock)
				}
				if cfg.Converter.Extension != "rdf" {
					t.Errorf("converter.extension = %q, want rdf", cfg.Converter.Extension)
				}
				if cfg.Converter.Timeout != 0 {
					t.Errorf("converter.timeout = %v, want 0", cfg.Converter.Timeout)
				}
				if cfg.DataSource.InstanceColumn != "table_id" {
					t.Errorf("instance_column = %q", cfg.DataSource.InstanceColumn)
				}
				if cfg.Storage.Bucket != "exports" {
					t.Errorf("storage.bucket = %q", cfg.Storage.Bucket)
				}
				if !cfg.Metrics.Enabled {
					t.Errorf("metrics.enabled = false, want true when omitted")
				}
				if !cfg.Maintenance.Enabled {
					t.Errorf("maintenance.enabled = false, want true when omitted")
				}
			},
		},
		{
			name: "sibling keys keep boolean defaults",
			yaml: `
metrics:
  path: /prom
maintenance:
  schedule: "@every 5m"
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/prom" {
					t.Errorf("metrics = %+v, want enabled at /prom", cfg.Metrics)
				}
				if !cfg.Maintenance.Enabled || cfg.Maintenance.Schedule != "@every 5m" {
					t.Errorf("maintenance = %+v, want enabled every 5m", cfg.Maintenance)
				}
			},
		},
		{
			name: "explicit false disables metrics and maintenance",
			yaml: `
metrics:
  enabled: false
maintenance:
  enabled: false
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Metrics.Enabled || cfg.Maintenance.Enabled {
					t.Errorf("metrics=%v maintenance=%v, want both false", cfg.Metrics.Enabled, cfg.Maintenance.Enabled)
				}
			},
		},
		{
			name: "explicit values and env interpolation",
			yaml: `
service:
  log_level: debug
  log_format: text
api:
  listen: 0.0.0.0:9000
  auth:
    tokens:
      - token: ${TEST_TOKEN}
        caller: user-a
        scopes: [export:rw]
lock:
  path: /tmp/x.lock
  max_attempts: 5
  interval: 250ms
converter:
  timeout: 2m
storage:
  endpoint: minio:9000
  access_key: ${TEST_ACCESS}
  secret_key: secret
`,
			env: map[string]string{"TEST_TOKEN": "tok-123", "TEST_ACCESS": "admin"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.Listen != "0.0.0.0:9000" {
					t.Errorf("api.listen = %q", cfg.API.Listen)
				}
				if len(cfg.API.Auth.Tokens) != 1 || cfg.API.Auth.Tokens[0].Token != "tok-123" {
					t.Fatalf("token not interpolated: %+v", cfg.API.Auth.Tokens)
				}
				if cfg.Lock.Interval != 250*time.Millisecond || cfg.Lock.MaxAttempts != 5 {
					t.Errorf("lock = %+v", cfg.Lock)
				}
				if cfg.Converter.Timeout != 2*time.Minute {
					t.Errorf("converter.timeout = %v", cfg.Converter.Timeout)
				}
				if cfg.Storage.AccessKey != "admin" {
					t.Errorf("storage.access_key = %q", cfg.Storage.AccessKey)
				}
			},
		},
		{
			name: "unset env var is reported",
			yaml: `
api:
  auth:
    tokens:
      - token: ${TABLEXPORT_TEST_UNSET_TOKEN}
        caller: user-a
        scopes: [export:rw]
`,
			wantErr: "${TABLEXPORT_TEST_UNSET_TOKEN} is not set",
		},
		{
			name: "token without caller",
			yaml: `
api:
  auth:
    tokens:
      - token: abc
        scopes: [export:rw]
`,
			wantErr: "caller is required",
		},
		{
			name:    "bad driver",
			yaml:    "datasource:\n  driver: oracle\n",
			wantErr: "datasource.driver",
		},
		{
			name:    "bad table identifier",
			yaml:    "datasource:\n  tables: [\"users; drop\"]\n",
			wantErr: "not a valid identifier",
		},
		{
			name:    "dotted extension",
			yaml:    "converter:\n  extension: .rdf\n",
			wantErr: "bare extension",
		},
		{
			name:    "csv extension collides with snapshot",
			yaml:    "converter:\n  extension: CSV\n",
			wantErr: "must differ from the csv snapshot",
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectoryResolvesConfigYAML(t *testing.T) {
	path := writeConfig(t, "service:\n  name: from-dir\n")

	cfg, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Fatalf("service.name = %q, want from-dir", cfg.Service.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestExportWriteTimeout(t *testing.T) {
	cfg := Defaults()
	if got := cfg.ExportWriteTimeout(); got != 0 {
		t.Fatalf("unbounded converter: ExportWriteTimeout = %v, want 0", got)
	}

	cfg.Converter.Timeout = 20 * time.Minute
	cfg.Lock.MaxAttempts = 60
	cfg.Lock.Interval = time.Second
	want := time.Minute + 20*time.Minute + exportOverhead
	if got := cfg.ExportWriteTimeout(); got != want {
		t.Fatalf("ExportWriteTimeout = %v, want %v", got, want)
	}
}
