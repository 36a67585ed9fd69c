package config

import "time"

// Config represents the complete tablexport configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	API         APIConfig         `yaml:"api"`
	Lock        LockConfig        `yaml:"lock"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Converter   ConverterConfig   `yaml:"converter"`
	DataSource  DataSourceConfig  `yaml:"datasource"`
	Storage     StorageConfig     `yaml:"storage"`
	History     HistoryConfig     `yaml:"history"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen          string          `yaml:"listen"`
	Auth            APIAuthConfig   `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	// ExposeDebug adds the raw internal error to failure responses. Development only.
	ExposeDebug bool `yaml:"expose_debug"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens"`
}

// APIToken binds a bearer token to a caller identity and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Caller string   `yaml:"caller"`
	Scopes []string `yaml:"scopes"`
}

// RateLimitConfig throttles export requests per caller. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LockConfig defines the global converter lock marker.
type LockConfig struct {
	Path        string        `yaml:"path"`
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// WorkspaceConfig defines per-caller scratch directories.
type WorkspaceConfig struct {
	BaseDir   string        `yaml:"base_dir"`
	OrphanTTL time.Duration `yaml:"orphan_ttl"`
}

// ConverterConfig defines the external conversion executable contract.
type ConverterConfig struct {
	Path      string `yaml:"path"`
	WorkDir   string `yaml:"work_dir"`
	FormatTag string `yaml:"format_tag"`
	Extension string `yaml:"extension"`
	InputEnv  string `yaml:"input_env"`
	OutputEnv string `yaml:"output_env"`
	// Timeout is zero by default: the converter runs until it exits.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DataSourceConfig defines where table rows are read from.
type DataSourceConfig struct {
	Driver         string   `yaml:"driver"` // postgres or sqlite
	URL            string   `yaml:"url"`
	InstanceColumn string   `yaml:"instance_column"`
	Tables         []string `yaml:"tables,omitempty"`
	MaxConns       int      `yaml:"max_conns"`
}

// StorageConfig defines the object storage bucket that receives artifacts.
type StorageConfig struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Secure         bool   `yaml:"secure"`
	Region         string `yaml:"region,omitempty"`
	Bucket         string `yaml:"bucket"`
	PublicBaseURL  string `yaml:"public_base_url,omitempty"`
	MaxObjectBytes int64  `yaml:"max_object_bytes"`
	ContentType    string `yaml:"content_type"`
}

// HistoryConfig defines the SQLite run history.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MaintenanceConfig defines the background sweep schedule.
type MaintenanceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@every 1h"
}

// exportOverhead covers the snapshot, verification and upload around a conversion.
const exportOverhead = 5 * time.Minute

// ExportWriteTimeout is the longest an export response may take to write: the
// full lock wait, the converter timeout and exportOverhead. It is zero, meaning
// unbounded, whenever the converter itself has no timeout.
func (c *Config) ExportWriteTimeout() time.Duration {
	if c.Converter.Timeout <= 0 {
		return 0
	}
	lockWait := time.Duration(c.Lock.MaxAttempts) * c.Lock.Interval
	return lockWait + c.Converter.Timeout + exportOverhead
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "tablexport",
			LogLevel:  "info",
			LogFormat: "json",
		},
		API: APIConfig{
			Listen:          "127.0.0.1:8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Lock: LockConfig{
			Path:        "./data/converter.lock",
			MaxAttempts: 60,
			Interval:    time.Second,
		},
		Workspace: WorkspaceConfig{
			BaseDir:   "./data/workspaces",
			OrphanTTL: 24 * time.Hour,
		},
		Converter: ConverterConfig{
			Path:      "./converter/convert",
			WorkDir:   "./converter",
			FormatTag: "rdf",
			Extension: "rdf",
			InputEnv:  "EXPORT_INPUT_CSV",
			OutputEnv: "EXPORT_OUTPUT_DIR",
		},
		DataSource: DataSourceConfig{
			Driver:         "postgres",
			InstanceColumn: "table_id",
			MaxConns:       10,
		},
		Storage: StorageConfig{
			Bucket:         "exports",
			MaxObjectBytes: 50 * 1024 * 1024,
			ContentType:    "application/octet-stream",
		},
		History: HistoryConfig{
			Path:      "./data/history.db",
			Retention: 30 * 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
	}
}
