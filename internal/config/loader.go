package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads and parses configuration from a file. A directory is accepted and
// resolved to the config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	// Keys missing from the file keep their default, including booleans.
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	setString(&cfg.Service.Name, defaults.Service.Name)
	setString(&cfg.Service.LogLevel, defaults.Service.LogLevel)
	setString(&cfg.Service.LogFormat, defaults.Service.LogFormat)

	setString(&cfg.API.Listen, defaults.API.Listen)
	if cfg.API.ShutdownTimeout == 0 {
		cfg.API.ShutdownTimeout = defaults.API.ShutdownTimeout
	}

	setString(&cfg.Lock.Path, defaults.Lock.Path)
	if cfg.Lock.MaxAttempts == 0 {
		cfg.Lock.MaxAttempts = defaults.Lock.MaxAttempts
	}
	if cfg.Lock.Interval == 0 {
		cfg.Lock.Interval = defaults.Lock.Interval
	}

	setString(&cfg.Workspace.BaseDir, defaults.Workspace.BaseDir)
	if cfg.Workspace.OrphanTTL == 0 {
		cfg.Workspace.OrphanTTL = defaults.Workspace.OrphanTTL
	}

	setString(&cfg.Converter.Path, defaults.Converter.Path)
	setString(&cfg.Converter.WorkDir, defaults.Converter.WorkDir)
	setString(&cfg.Converter.FormatTag, defaults.Converter.FormatTag)
	setString(&cfg.Converter.Extension, defaults.Converter.Extension)
	setString(&cfg.Converter.InputEnv, defaults.Converter.InputEnv)
	setString(&cfg.Converter.OutputEnv, defaults.Converter.OutputEnv)

	setString(&cfg.DataSource.Driver, defaults.DataSource.Driver)
	setString(&cfg.DataSource.InstanceColumn, defaults.DataSource.InstanceColumn)
	if cfg.DataSource.MaxConns == 0 {
		cfg.DataSource.MaxConns = defaults.DataSource.MaxConns
	}

	setString(&cfg.Storage.Bucket, defaults.Storage.Bucket)
	setString(&cfg.Storage.ContentType, defaults.Storage.ContentType)
	if cfg.Storage.MaxObjectBytes == 0 {
		cfg.Storage.MaxObjectBytes = defaults.Storage.MaxObjectBytes
	}

	setString(&cfg.History.Path, defaults.History.Path)
	if cfg.History.Retention == 0 {
		cfg.History.Retention = defaults.History.Retention
	}

	setString(&cfg.Metrics.Path, defaults.Metrics.Path)
	setString(&cfg.Maintenance.Schedule, defaults.Maintenance.Schedule)

	return cfg
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

// interpolateEnv replaces ${VAR} with the environment value. Unset variables are
// left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	for i, tok := range cfg.API.Auth.Tokens {
		if err := unresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
			return err
		}
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d].token is required", i)
		}
		if strings.TrimSpace(tok.Caller) == "" {
			return fmt.Errorf("api.auth.tokens[%d].caller is required", i)
		}
		if strings.ContainsAny(tok.Caller, `/\`) {
			return fmt.Errorf("api.auth.tokens[%d].caller must not contain path separators", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
		}
	}
	if cfg.API.RateLimit.RequestsPerMinute < 0 || cfg.API.RateLimit.Burst < 0 {
		return fmt.Errorf("api.rate_limit values must not be negative")
	}

	if cfg.Lock.MaxAttempts < 1 {
		return fmt.Errorf("lock.max_attempts must be at least 1")
	}
	if cfg.Lock.Interval < 0 {
		return fmt.Errorf("lock.interval must not be negative")
	}

	if cfg.Converter.Timeout < 0 {
		return fmt.Errorf("converter.timeout must not be negative")
	}
	if strings.ContainsAny(cfg.Converter.Extension, `./\`) {
		return fmt.Errorf("converter.extension must be a bare extension (got %q)", cfg.Converter.Extension)
	}
	if strings.EqualFold(cfg.Converter.Extension, "csv") {
		return fmt.Errorf("converter.extension must differ from the csv snapshot it converts")
	}
	for field, name := range map[string]string{
		"converter.input_env":  cfg.Converter.InputEnv,
		"converter.output_env": cfg.Converter.OutputEnv,
	} {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("%s must be a valid environment variable name (got %q)", field, name)
		}
	}

	switch cfg.DataSource.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("datasource.driver must be postgres or sqlite (got %q)", cfg.DataSource.Driver)
	}
	if err := unresolved("datasource.url", cfg.DataSource.URL); err != nil {
		return err
	}
	if !identifierPattern.MatchString(cfg.DataSource.InstanceColumn) {
		return fmt.Errorf("datasource.instance_column %q is not a valid identifier", cfg.DataSource.InstanceColumn)
	}
	for i, table := range cfg.DataSource.Tables {
		if !identifierPattern.MatchString(table) {
			return fmt.Errorf("datasource.tables[%d] %q is not a valid identifier", i, table)
		}
	}

	for field, value := range map[string]string{
		"storage.access_key": cfg.Storage.AccessKey,
		"storage.secret_key": cfg.Storage.SecretKey,
	} {
		if err := unresolved(field, value); err != nil {
			return err
		}
	}
	if cfg.Storage.MaxObjectBytes < 0 {
		return fmt.Errorf("storage.max_object_bytes must not be negative")
	}

	if cfg.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

func unresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
