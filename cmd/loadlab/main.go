// cmd/loadlab/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/FairForge/loadlab/internal/config"
	"github.com/FairForge/loadlab/internal/logging"
)

const usage = `usage: loadlab <command> [flags]

commands:
  serve     run the movie search API
  bench     sweep concurrency levels and write a performance report
  import    load an IMDb dataset directory into Postgres
  queries   write a weighted query set from the most popular titles
  model     print the capacity model for a measured peak throughput
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "bench":
		err = runBench(ctx, args)
	case "import":
		err = runImport(ctx, args)
	case "queries":
		err = runQueries(ctx, args)
	case "model":
		err = runModel(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "loadlab %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig reads the optional YAML file and applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.Server.Logging())
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "", "YAML configuration file")
	return fs, path
}
