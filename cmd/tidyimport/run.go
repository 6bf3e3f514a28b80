package main

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tidyimport/internal/config"
	"github.com/JonMunkholm/tidyimport/internal/core"
	"github.com/JonMunkholm/tidyimport/internal/export"
	"github.com/JonMunkholm/tidyimport/internal/loader"
	"github.com/JonMunkholm/tidyimport/internal/logging"
	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// runner holds what every file of one invocation shares.
type runner struct {
	engine *core.Engine
	loader loader.Loader
	format export.Format
	store  export.Store // format db only
	db     config.DatabaseConfig
}

// fileReport is the outcome of one input file.
type fileReport struct {
	input  string
	output string
	result *core.ImportResult
}

// run fills in missing options from stdin, imports every input and prints
// the report to stdout. The first failing file aborts the others.
func run(ctx context.Context, opts *Options, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	if err := promptMissing(opts, bufio.NewReader(stdin), stdout); err != nil {
		return err
	}

	format, err := export.ParseFormat(opts.Format)
	if err != nil {
		return err
	}

	s, err := spec.LoadFile(opts.Spec)
	if err != nil {
		return err
	}
	engine, err := core.NewEngine(s)
	if err != nil {
		return err
	}

	r := &runner{
		engine: engine,
		loader: loader.Loader{MaxBytes: cfg.Import.MaxFileSize},
		format: format,
		db:     cfg.Database,
	}
	r.db.Driver = cmp.Or(opts.DBDriver, r.db.Driver)
	r.db.URL = cmp.Or(opts.DBURL, r.db.URL)
	r.db.Table = cmp.Or(opts.DBTable, r.db.Table)

	if format == export.FormatDB {
		if !r.db.Enabled() {
			return errors.New("no database configured: set DATABASE_URL or --db-url")
		}
		r.store, err = export.OpenStore(ctx, r.db.Driver, r.db.URL)
		if err != nil {
			return err
		}
		defer r.store.Close()
	}

	inputs := opts.Args.Inputs
	reports := make([]fileReport, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cmp.Or(opts.Workers, cfg.Import.Workers, 1))
	for i, input := range inputs {
		reports[i] = fileReport{input: input, output: outputPath(opts.Output, input, len(inputs) > 1)}
		g.Go(func() error {
			result, err := r.importFile(gctx, reports[i].input, reports[i].output)
			if err != nil {
				if len(inputs) > 1 {
					return fmt.Errorf("%s: %w", input, err)
				}
				return err
			}
			reports[i].result = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, rep := range reports {
		if len(inputs) > 1 {
			fmt.Fprintf(stdout, "%s:\n", rep.input)
		}
		printReport(stdout, rep.result)
	}
	return nil
}

// importFile loads, transforms and exports one input.
func (r *runner) importFile(ctx context.Context, input, output string) (*core.ImportResult, error) {
	importID := uuid.New()
	logger := logging.WithFields(ctx, "import_id", importID, "file", input)
	ctx = logging.NewContext(ctx, logger)

	table, err := r.loader.Load(ctx, input, r.engine.Spec().Input)
	if err != nil {
		return nil, err
	}
	result, err := r.engine.Run(ctx, table)
	if err != nil {
		return nil, err
	}

	records := result.Records()
	switch r.format {
	case export.FormatCSV:
		err = export.CSV(records, output)
	case export.FormatJSON:
		err = export.JSON(records, output)
	case export.FormatDB:
		opts := export.DBOptions{
			Table:          r.db.Table,
			ImportIDColumn: r.db.ImportIDColumn,
			BatchSize:      r.db.BatchSize,
		}
		if opts.ImportIDColumn != "" {
			opts.ImportID = importID
		}
		_, err = export.WriteDB(ctx, r.store, records, opts)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("import completed",
		"records", result.RecordCount(),
		"errors", result.ErrorCount(),
		"format", r.format,
		"output", output,
	)
	return result, nil
}

func printReport(w io.Writer, result *core.ImportResult) {
	errs := result.Errors()
	if len(errs) == 0 {
		fmt.Fprintln(w, "Import completed successfully.")
		return
	}

	fmt.Fprintf(w, "Import completed with %d validation errors.\n", len(errs))
	for _, e := range errs {
		fmt.Fprintln(w, e.String())
	}
	fmt.Fprintln(w, "Valid rows exported successfully.")
}

// outputPath returns the output file for input. With several inputs the
// input's base name is inserted before the extension: out.json becomes
// out.sales.json for sales.csv.
func outputPath(output, input string, multi bool) string {
	if !multi || output == "" {
		return output
	}
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return strings.TrimSuffix(output, ext) + "." + stem + ext
}

// promptMissing asks for the input, spec, format and output when they were
// not given as arguments.
func promptMissing(opts *Options, in *bufio.Reader, out io.Writer) error {
	ask := func(label string) (string, error) {
		fmt.Fprint(out, label)
		line, err := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" && err != nil {
			return "", fmt.Errorf("no answer for %q: %w", strings.TrimSuffix(label, ": "), err)
		}
		return line, nil
	}

	var err error
	if len(opts.Args.Inputs) == 0 {
		var input string
		if input, err = ask("Enter input file path: "); err != nil {
			return err
		}
		opts.Args.Inputs = []string{input}
	}
	if opts.Spec == "" {
		if opts.Spec, err = ask("Enter spec file path: "); err != nil {
			return err
		}
	}
	if opts.Format == "" {
		if opts.Format, err = ask("Enter output format (csv/json/db): "); err != nil {
			return err
		}
	}
	if (opts.Format == "csv" || opts.Format == "json") && opts.Output == "" {
		if opts.Output, err = ask("Enter output file path: "); err != nil {
			return err
		}
	}
	return nil
}
