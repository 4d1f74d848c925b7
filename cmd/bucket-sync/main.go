package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/crypto/bcrypt"

	"github.com/alexjbarnes/bucket-sync/internal/config"
	"github.com/alexjbarnes/bucket-sync/internal/logging"
)

var Version = "dev"

// exitUnsynchronised is the status exit code when the remote store holds
// records the cache does not match.
const exitUnsynchronised = 2

var errUnsynchronised = errors.New("metadata cache is not synchronised")

var errNoRecordedPass = errors.New("no sync pass recorded; run sync or conflicts --sync")

const usage = `usage: bucket-sync <command> [flags] [args]

commands:
  sync                 reconcile the metadata cache with the remote store
  status               list remote records the cache does not match
  conflicts [--sync]   list the conflicts recorded by the last pass
                       (--sync runs a pass first)
  list                 list records in the metadata cache
  upload <file>...     upload files and record their metadata
  delete <name>        delete an object and its metadata
  download <name>      download an object into DOWNLOAD_DIR
  daemon               periodic sync, upload watcher and MCP server
  hash-password        read a key from stdin and print its bcrypt hash
  version              print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	// Handle commands that need no config before loading it.
	switch cmd {
	case "hash-password":
		hashPassword()
		return
	case "version":
		fmt.Println(Version)
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	}

	if err := run(cmd, args); err != nil {
		if errors.Is(err, errUnsynchronised) {
			os.Exit(exitUnsynchronised)
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter key: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	key := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func run(cmd string, args []string) error {
	command, ok := commands[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Environment, cfg.LogLevel)
	logger.Debug("bucket-sync starting",
		slog.String("version", Version),
		slog.String("command", cmd),
		slog.String("state", cfg.StateBackend),
		slog.String("store", cfg.StoreBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return command(ctx, a, args)
}
