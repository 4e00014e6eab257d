// Command arcache is a thin CLI wrapper around the arcache library:
// lookup+download and reserve+upload+commit against a remote artifact
// cache service, driven entirely by flags, environment variables, and an
// optional ambient YAML config file.
//
// Grounded on the teacher's cmd/modfetch/main.go hand-rolled flag
// dispatcher (a switch over args[0], one flag.NewFlagSet per subcommand);
// we never import a third-party CLI framework, matching the teacher.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"arcache/internal/cacheerrors"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", cacheerrors.Friendly(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("no command provided")
	}

	cmd := args[0]
	switch cmd {
	case "get":
		return handleGet(ctx, args[1:])
	case "put":
		return handlePut(ctx, args[1:])
	case "status":
		return handleStatus(ctx, args[1:])
	case "doctor":
		return handleDoctor(ctx, args[1:])
	case "keys":
		return handleKeys(ctx, args[1:])
	case "version":
		fmt.Println(version)
		return nil
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage() {
	fmt.Println(strings.TrimSpace(`arcache - remote artifact cache client

Usage:
  arcache <command> [flags]

Commands:
  get      Look up a cache entry by key and download its artifact
  put      Reserve, upload, and commit a new cache entry
  status   Show the audit journal's recent operations
  doctor   Check connectivity and config against the configured cache
  keys     Fuzzy-search previously journaled cache keys
  version  Print version
  help     Show this help

Flags (per command):
  --config PATH        Path to YAML config file (or ARCACHE_CONFIG env var)
  --base-url URL        Cache service base URL (or ARCACHE_BASE_URL)
  --token TOKEN          Bearer token (or ARCACHE_TOKEN)
`))
}
