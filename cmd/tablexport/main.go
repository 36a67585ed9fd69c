package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	loadDotEnv()

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "export":
		os.Exit(runExportNoun(args))
	case "workspace":
		os.Exit(runWorkspaceNoun(args))
	case "lock":
		os.Exit(runLockNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "doctor":
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("tablexport version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`tablexport - Export table instances through the converter and publish the artifact

Usage:
  tablexport <noun> <action> [flags]

Core Resources (Nouns):
  system     Service lifecycle
  config     Configuration inspection and validation
  export     One-off export runs
  workspace  Per-caller scratch directories
  lock       The global converter lock

System Commands:
  system start        Start the HTTP service and maintenance scheduler in foreground

Config Commands:
  config check        Validate configuration and probe dependencies
  config show         Show the resolved configuration (secrets redacted)
  config get <path>   Read a single value from the resolved configuration

Export Commands:
  export run          Run one export and print the result as JSON

Workspace Commands:
  workspace prune     Remove orphaned workspaces older than a cutoff

Lock Commands:
  lock status         Show who holds the converter lock
  lock clear          Force-remove the converter lock marker

General:
  version             Show version information
  help                Show this help message

Use 'tablexport <noun> help' for resource-specific flags.
A .env file in the working directory is loaded before configuration.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runExportNoun(args []string) int {
	if len(args) < 1 {
		printExportNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printExportNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "run":
		if hasHelpFlag(actionArgs) {
			printExportRunHelp()
			return 0
		}
		return runExport(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown export action: %s\n", action)
		return 1
	}
}

func runWorkspaceNoun(args []string) int {
	if len(args) < 1 {
		printWorkspaceNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWorkspaceNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "prune":
		if hasHelpFlag(actionArgs) {
			printWorkspacePruneHelp()
			return 0
		}
		return runWorkspacePrune(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown workspace action: %s\n", action)
		return 1
	}
}

func runLockNoun(args []string) int {
	if len(args) < 1 {
		printLockNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printLockNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "status":
		if hasHelpFlag(actionArgs) {
			printLockStatusHelp()
			return 0
		}
		return runLockStatus(actionArgs)
	case "clear":
		if hasHelpFlag(actionArgs) {
			printLockClearHelp()
			return 0
		}
		return runLockClear(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown lock action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tablexport system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tablexport config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show, get")
}

func printExportNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tablexport export <action> [flags]")
	fmt.Fprintln(w, "Actions: run")
}

func printWorkspaceNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tablexport workspace <action> [flags]")
	fmt.Fprintln(w, "Actions: prune")
}

func printLockNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: tablexport lock <action> [flags]")
	fmt.Fprintln(w, "Actions: status, clear")
}

func printSystemStartHelp() {
	fmt.Println("Usage: tablexport system start [--config PATH]")
	fmt.Println("Start the HTTP service and maintenance scheduler in the foreground.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: tablexport config check [--config PATH] [--format human|json] [--json] [--strict] [--offline]")
	fmt.Println("Validate configuration and probe the converter, lock, datasource and storage.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: tablexport config show [entity] [--config PATH] [--json]")
	fmt.Println("Show the resolved configuration, or one node of it, with secrets redacted.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: tablexport config get <path> [--config PATH] [--json]")
	fmt.Println("Read a single value from the resolved configuration.")
}

func printExportRunHelp() {
	fmt.Println("Usage: tablexport export run --caller ID --table NAME --table-id UUID [--config PATH]")
	fmt.Println("Run one export in the foreground and print the result as JSON.")
}

func printWorkspacePruneHelp() {
	fmt.Println("Usage: tablexport workspace prune [--older-than DURATION] [--config PATH]")
	fmt.Println("Remove workspaces left behind by crashed runs. Defaults to workspace.orphan_ttl.")
}

func printLockStatusHelp() {
	fmt.Println("Usage: tablexport lock status [--config PATH] [--json]")
	fmt.Println("Show the current converter lock holder.")
}

func printLockClearHelp() {
	fmt.Println("Usage: tablexport lock clear [--config PATH] [--force]")
	fmt.Println("Remove the converter lock marker. Without --force only a dead local holder is removed.")
}
