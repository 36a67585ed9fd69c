package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/api"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/auth"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/config"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/log"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/scheduler"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")

	fingerprint, err := config.Fingerprint(path)
	if err != nil {
		logger.Warn("failed to fingerprint config", "config", path, "error", err)
	}
	logger.Info("tablexport starting", "version", version, "config", path, "config_blake3", fingerprint)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := openService(ctx, cfg, log.Get())
	if err != nil {
		logger.Error("failed to initialize export pipeline", "error", err)
		return 1
	}
	defer svc.Close()

	if err := svc.converter.CheckAvailable(); err != nil {
		// Requests fail with ServerMisconfigured until the converter is installed.
		logger.Warn("converter not available", "path", cfg.Converter.Path, "error", err)
	}

	sched := scheduler.New(scheduler.ConfigFrom(cfg), svc.workspaces, svc.history, svc.marker, log.Get())
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}
	defer sched.Stop()

	apiServer := api.New(api.Config{
		Listen:            cfg.API.Listen,
		ShutdownTimeout:   cfg.API.ShutdownTimeout,
		ExposeDebug:       cfg.API.ExposeDebug,
		RequestsPerMinute: cfg.API.RateLimit.RequestsPerMinute,
		Burst:             cfg.API.RateLimit.Burst,
		MetricsPath:       cfg.Metrics.Path,
		WriteTimeout:      cfg.ExportWriteTimeout(),
	}, api.Deps{
		Auth:     staticTokens(cfg.API.Auth.Tokens),
		Exporter: svc.pipeline,
		History:  svc.history,
		Lock:     svc.marker,
		Events:   svc.hub,
		Metrics:  svc.metrics,
	}, log.Get())

	logger.Info("tablexport running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("component failed", "component", "api", "error", err)
		return 1
	}

	logger.Info("tablexport stopped")
	return 0
}

func staticTokens(tokens []config.APIToken) auth.StaticTokens {
	out := make(auth.StaticTokens, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, auth.TokenConfig{
			Token:  t.Token,
			Caller: t.Caller,
			Scopes: t.Scopes,
		})
	}
	return out
}
