// Command tidyimport runs CSV and XLSX files through a transformation spec
// and writes the cleaned records as CSV, JSON or into a database table.
//
//	tidyimport --spec rules.yaml --format json --output out.json input.csv
//
// Missing arguments are asked for on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tidyimport/internal/config"
	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/logging"
)

// Options are the command line flags.
type Options struct {
	Spec     string `short:"s" long:"spec" description:"Path to the spec document (YAML or JSON)"`
	Format   string `short:"f" long:"format" description:"Output format" choice:"csv" choice:"json" choice:"db"`
	Output   string `short:"o" long:"output" description:"Output file path for csv and json"`
	Workers  int    `short:"w" long:"workers" description:"Files processed at once (default: IMPORT_WORKERS)"`
	DBDriver string `long:"db-driver" description:"Database driver for --format db (default: DB_DRIVER)"`
	DBURL    string `long:"db-url" description:"Connection string for --format db (default: DATABASE_URL)"`
	DBTable  string `long:"db-table" description:"Target table for --format db (default: DB_TABLE)"`
	Verbose  []bool `short:"v" long:"verbose" description:"Show debug logs"`

	Args struct {
		Inputs []string `positional-arg-name:"input" description:"Input CSV or XLSX files"`
	} `positional-args:"yes"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if len(opts.Verbose) > 0 {
		level = "debug"
	}
	logging.Setup(level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &opts, cfg, os.Stdin, os.Stdout); err != nil {
		fmt.Printf("Import failed: %v\n", err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		os.Exit(1)
	}
}
