// detach - inspect entities written by a detach.Store
//
// Lists, prints, and removes the encoded entities in a filesystem or Redis
// backend, and checks that the backend is reachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/adrianmcphee/detach"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "help", "--help", "-h":
		printHelp()
		return
	case "ls", "get", "rm", "ping":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(2)
	}

	if err := run(cmd, args); err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func printHelp() {
	fmt.Println(`detach - inspect a detach.Store backend

Usage:
  detach ls [flags] [prefix]    List stored keys
  detach get [flags] <key>      Print a stored entity
  detach rm [flags] <key>       Delete a stored entity
  detach ping [flags]           Check the backend is reachable

Flags:
  --backend string   "filesystem" or "redis" (default "filesystem")
  --data string      Data directory for the filesystem backend (default "./data")
  --prefix string    Key prefix for the redis backend
  --timeout duration Per-command timeout (default 10s)
  --verbose          Log at debug level

Flag defaults come from DETACH_BACKEND, DETACH_DATA_DIR and DETACH_KEY_PREFIX.
DETACH_TTL and DETACH_BREAKER_FAILURES tune the redis backend, whose connection
settings come from REDIS_ADDR, REDIS_PASSWORD and REDIS_DB.`)
}

func run(cmd string, args []string) error {
	cfg, err := detach.BackendConfigFromEnv()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	backendType := fs.String("backend", cfg.Type, "Backend type")
	dataDir := fs.String("data", cfg.Path, "Data directory")
	prefix := fs.String("prefix", cfg.Prefix, "Redis key prefix")
	timeout := fs.Duration("timeout", 10*time.Second, "Per-command timeout")
	verbose := fs.Bool("verbose", false, "Log at debug level")
	fs.Parse(args)

	level := zapcore.WarnLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	logger, err := detach.NewProductionZapLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg.Type, cfg.Path, cfg.Prefix = *backendType, *dataDir, *prefix
	backend, err := detach.NewBackend(cfg)
	if err != nil {
		return err
	}
	store := detach.NewStoreWithObservability(backend, nil, logger, &detach.NoOpMetrics{})
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "ping":
		if err := store.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("OK")
	case "ls":
		keys, err := store.List(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	case "get":
		if fs.NArg() != 1 {
			return fmt.Errorf("expected exactly one key")
		}
		data, err := store.Backend().Get(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		fmt.Println()
	case "rm":
		if fs.NArg() != 1 {
			return fmt.Errorf("expected exactly one key")
		}
		if err := store.Delete(ctx, fs.Arg(0)); err != nil {
			return err
		}
		logger.Info("deleted", "key", fs.Arg(0))
	}
	return nil
}
