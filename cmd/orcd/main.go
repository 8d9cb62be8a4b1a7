package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tmuxorc/orcd/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: orcd [daemon|monitor|mcp|publish|read|status|stats|version] [flags]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "daemon":
		err = runDaemon(os.Args[2:])
	case "monitor":
		err = runMonitor(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "publish":
		err = runPublish(os.Args[2:])
	case "read":
		err = runRead(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "version":
		fmt.Println(version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "usage: orcd [daemon|monitor|mcp|publish|read|status|stats|version] [flags]")
		os.Exit(1)
	}

	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
