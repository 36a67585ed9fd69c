package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/artifact"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/converter"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/datasource"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/events"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/history"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/metrics"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/pipeline"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/snapshot"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/workspace"
)

// dotEnvPath is overridable in tests.
var dotEnvPath = ".env"

// loadDotEnv fills unset environment variables from .env so ${VAR}
// references in the config resolve. Variables already set win.
func loadDotEnv() {
	err := godotenv.Load(dotEnvPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", dotEnvPath, err)
	}
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigPath()
}

func loadConfigForTool(configPath string) (*config.Config, string, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// toolLogger logs to stderr so stdout stays machine readable.
func toolLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Service.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// service holds every collaborator of the export pipeline.
type service struct {
	source     datasource.Source
	store      *artifact.Store
	history    *history.Store
	marker     *lock.Marker
	workspaces workspace.Manager
	converter  *converter.Invoker
	metrics    *metrics.Collector
	hub        *events.Hub
	pipeline   *pipeline.Orchestrator
}

// openService connects to the datasource, object storage and history
// database and assembles the pipeline. Close releases what it opened.
func openService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	svc := &service{}

	source, err := datasource.Open(ctx, cfg.DataSource)
	if err != nil {
		return nil, fmt.Errorf("open datasource: %w", err)
	}
	svc.source = source

	store, err := artifact.New(cfg.Storage, logger.With("component", "artifact"))
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	svc.store = store

	hist, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}
	svc.history = hist

	marker, err := lock.NewMarker(cfg.Lock.Path, logger.With("component", "lock"))
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.marker = marker

	wm, err := workspace.NewFSManager(cfg.Workspace.BaseDir, store, logger.With("component", "workspace"))
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.workspaces = wm

	svc.converter = converter.New(cfg.Converter, logger.With("component", "converter"))
	if cfg.Metrics.Enabled {
		svc.metrics = metrics.NewCollector(nil)
	}
	svc.hub = events.NewHub(0)

	svc.pipeline = pipeline.New(pipeline.Deps{
		Workspaces:   svc.workspaces,
		Exporter:     snapshot.New(source, logger.With("component", "snapshot")),
		Lock:         marker,
		Converter:    svc.converter,
		Store:        store,
		History:      hist,
		Events:       svc.hub,
		Metrics:      svc.metrics,
		Logger:       logger,
		LockAttempts: cfg.Lock.MaxAttempts,
		LockInterval: cfg.Lock.Interval,
		Extension:    cfg.Converter.Extension,
		Tables:       cfg.DataSource.Tables,
	})
	return svc, nil
}

func (s *service) Close() {
	if s.source != nil {
		s.source.Close()
	}
	if s.history != nil {
		_ = s.history.Close()
	}
}
