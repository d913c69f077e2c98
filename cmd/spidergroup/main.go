package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/flo-mic/spidergroup/internal/cmd"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Prompts own the terminal; only errors are logged unless debugging.
	level := slog.LevelError
	if os.Getenv("SPIDERGROUP_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var err error
	switch os.Args[1] {
	case "pick":
		err = cmd.Pick(os.Args[2:], os.Stdout, os.Stderr)
	case "nodes":
		err = cmd.Nodes(os.Args[2:], os.Stdout, os.Stderr)
	case "node":
		if len(os.Args) < 3 || os.Args[2] != "add" {
			fmt.Fprintln(os.Stderr, "usage: spidergroup node add [--id <id>] [--host <host>] [--port <port>]")
			os.Exit(1)
		}
		err = cmd.NodeAdd(os.Args[3:], os.Stdout, os.Stderr)
	case "groups":
		err = cmd.Groups(os.Args[2:], os.Stdout, os.Stderr)
	case "gen-token":
		err = cmd.GenToken(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: spidergroup <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  pick [--save <name>]  Pick node, project, version and spiders interactively")
	fmt.Fprintln(os.Stderr, "  nodes                 Show the status of every configured scrapyd node")
	fmt.Fprintln(os.Stderr, "  node add              Register a scrapyd node")
	fmt.Fprintln(os.Stderr, "  groups [--delete <n>] List (or delete) saved spider groups")
	fmt.Fprintln(os.Stderr, "  gen-token             Print a random token for the gateway's server.yaml")
}
