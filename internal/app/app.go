package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "resolve", "run-once":
		return runResolve(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "vulnwire CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  vulnwire <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify configuration and database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest    Append one article candidate payload to the arrival ledger")
	fmt.Fprintln(os.Stderr, "  validate  Validate candidate payload JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  resolve   Resolve pending arrivals into new/update/skip decisions")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for resolve")
	fmt.Fprintln(os.Stderr, "  serve     Start the read-only API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"vulnwire <command> -h\" for command-specific flags.")
}
