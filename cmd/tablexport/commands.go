package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuini-1/table-editor-1.0-sub001/internal/artifact"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/converter"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/datasource"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/doctor"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/lock"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/pipeline"
	"github.com/kuini-1/table-editor-1.0-sub001/internal/workspace"
)

// failedProbe reports a connection that could not even be set up.
type failedProbe struct{ err error }

func (p failedProbe) Ping(context.Context) error { return p.err }

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut, offline bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	fs.BoolVar(&offline, "offline", false, "Skip datasource and storage connectivity probes")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, path, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	probes := doctor.Probes{
		Converter: converter.New(cfg.Converter, toolLogger(cfg)),
	}
	if marker, err := lock.NewMarker(cfg.Lock.Path, toolLogger(cfg)); err == nil {
		probes.Lock = marker
	}
	if !offline {
		if source, err := datasource.Open(ctx, cfg.DataSource); err != nil {
			probes.DataSource = failedProbe{err: err}
		} else {
			defer source.Close()
			probes.DataSource = source
		}
		if store, err := artifact.New(cfg.Storage, toolLogger(cfg)); err != nil {
			probes.Storage = failedProbe{err: err}
		} else {
			probes.Storage = store
		}
	}

	result := doctor.WithFingerprint(doctor.New(cfg, probes).Validate(ctx), path)

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	result, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(result)
		fmt.Print(string(data))
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: tablexport config get [--config PATH] [--json] <path>\n")
		return 1
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(val, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Printf("%v\n", val)
	}
	return 0
}

// exportFailure is printed when an export run fails.
type exportFailure struct {
	Error   pipeline.Kind  `json:"error"`
	Stage   pipeline.State `json:"stage"`
	Details string         `json:"details"`
}

func runExport(args []string) int {
	var configPath, caller, table, tableID string

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.StringVar(&caller, "caller", "", "Caller identity that owns the workspace and storage prefix")
	fs.StringVar(&table, "table", "", "Table to export")
	fs.StringVar(&tableID, "table-id", "", "Table instance UUID")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if caller == "" || table == "" || tableID == "" {
		fmt.Fprintf(os.Stderr, "Usage: tablexport export run --caller ID --table NAME --table-id UUID [--config PATH]\n")
		return 1
	}

	cfg, _, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	svc, err := openService(ctx, cfg, toolLogger(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize export pipeline: %v\n", err)
		return 1
	}
	defer svc.Close()

	res, err := svc.pipeline.Run(ctx, pipeline.Request{CallerID: caller, Table: table, TableID: tableID})
	if err != nil {
		var perr *pipeline.Error
		if !errors.As(err, &perr) {
			perr = &pipeline.Error{Kind: pipeline.KindInternal, Details: err.Error()}
		}
		data, _ := json.MarshalIndent(exportFailure{Error: perr.Kind, Stage: perr.Stage, Details: perr.Details}, "", "  ")
		fmt.Println(string(data))
		return 1
	}

	data, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(data))
	return 0
}

func runWorkspacePrune(args []string) int {
	var configPath string
	var olderThan time.Duration

	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.DurationVar(&olderThan, "older-than", 0, "Remove workspaces not modified within this duration (default workspace.orphan_ttl)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	if olderThan == 0 {
		olderThan = cfg.Workspace.OrphanTTL
	}
	if olderThan <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --older-than must be positive\n")
		return 1
	}

	wm, err := workspace.NewFSManager(cfg.Workspace.BaseDir, nil, toolLogger(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	report, err := wm.Cleanup(context.Background(), olderThan)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prune failed: %v\n", err)
		return 1
	}

	fmt.Printf("Removed %d workspace(s) older than %s from %s\n", report.DeletedDirs, olderThan, wm.BaseDir())
	return 0
}

func openMarker(configPath string) (*lock.Marker, int) {
	cfg, _, err := loadConfigForTool(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return nil, 1
	}
	marker, err := lock.NewMarker(cfg.Lock.Path, toolLogger(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, 1
	}
	return marker, 0
}

// lockStatus is the JSON shape of 'lock status'.
type lockStatus struct {
	Path   string       `json:"path"`
	Held   bool         `json:"held"`
	Holder *lock.Holder `json:"holder,omitempty"`
}

func runLockStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	marker, code := openMarker(*configPath)
	if marker == nil {
		return code
	}
	holder, held, err := marker.Holder()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		st := lockStatus{Path: marker.Path(), Held: held}
		if held {
			st.Holder = &holder
		}
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if !held {
		fmt.Printf("Converter lock is free (%s)\n", marker.Path())
		return 0
	}
	fmt.Printf("Converter lock is held (%s)\n", marker.Path())
	fmt.Printf("  pid:      %d\n", holder.PID)
	fmt.Printf("  host:     %s\n", holder.Host)
	fmt.Printf("  run:      %s\n", holder.Owner)
	if !holder.AcquiredAt.IsZero() {
		fmt.Printf("  since:    %s (%s ago)\n", holder.AcquiredAt.Format(time.RFC3339), time.Since(holder.AcquiredAt).Round(time.Second))
	}
	return 0
}

func runLockClear(args []string) int {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	force := fs.Bool("force", false, "Remove the marker even if its holder may still be running")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	marker, code := openMarker(*configPath)
	if marker == nil {
		return code
	}

	if *force {
		if err := marker.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Removed converter lock marker %s\n", marker.Path())
		return 0
	}

	holder, removed, err := marker.RecoverStale()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if removed {
		fmt.Printf("Removed stale converter lock held by pid %d (run %s)\n", holder.PID, holder.Owner)
		return 0
	}
	if _, held, _ := marker.Holder(); held {
		fmt.Fprintf(os.Stderr, "Converter lock is held by a live or remote process; use --force to remove it anyway\n")
		return 1
	}
	fmt.Println("Converter lock is already free")
	return 0
}
