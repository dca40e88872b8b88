package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	daemonAddr = "http://127.0.0.1:7433"
	pidFile    = "filldrilld.pid"
	logFile    = "filldrilld.log"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "doctor":
		err = cmdDoctor()
	case "progress":
		err = cmdProgress(os.Args[2:])
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("filldrill %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Fill-drill - fill-in-the-blank practice over model answers

Usage:
  filldrill <command> [arguments]

Setup Commands:
  init            Initialize fill-drill (first-time setup)
  doctor          Check configuration and backends

Daemon Commands:
  start           Start the fill-drill daemon
  stop            Stop the fill-drill daemon
  status          Show daemon status
  logs            View daemon logs

Progress Commands:
  progress <collection>   Show cleared levels and last scores

Integration Commands:
  mcp             Start MCP server on stdio

Other:
  help            Show this help message
  version         Show version information

Examples:
  filldrill start             # Start daemon
  filldrill progress biology  # Progress of the "biology" collection
  filldrill mcp               # Start MCP server for an editor`)
}

// renderProgressBar creates a visual progress bar for a 0-100 percentage.
func renderProgressBar(percentage, width int) string {
	filled := percentage * width / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
