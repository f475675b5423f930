// Package main implements ipcscan-ingest, which converts CSV files into an
// Arrow IPC table and registers it in the manifest.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"

	"github.com/arkilian/ipcscan/internal/app"
	"github.com/arkilian/ipcscan/internal/ingest"
	"github.com/arkilian/ipcscan/internal/manifest"
)

type options struct {
	configPath     string
	table          string
	location       string
	schema         string
	delimiter      string
	header         bool
	nullValue      string
	maxConcurrency int
	noRegister     bool
	reconcile      bool
	inputs         []string
}

func main() {
	ctx, cancel := app.SignalContext(context.Background())
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "ipcscan-ingest: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("ipcscan-ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML or JSON config file")
	fs.StringVar(&o.table, "table", "", "Table name to register (required)")
	fs.StringVar(&o.location, "location", "", "Storage prefix for table files (default: table name)")
	fs.StringVar(&o.schema, "schema", "", "Declared schema, e.g. id:int64,label:string? (default: inferred from the first row)")
	fs.StringVar(&o.delimiter, "delimiter", ",", "CSV field delimiter")
	fs.BoolVar(&o.header, "header", true, "CSV input has a header row")
	fs.StringVar(&o.nullValue, "null", "", "CSV value read as null")
	fs.IntVar(&o.maxConcurrency, "max-concurrency", 0, "Decode slots recorded for the table (default: scan.max_concurrency)")
	fs.BoolVar(&o.noRegister, "no-register", false, "Write files without registering them in the manifest")
	fs.BoolVar(&o.reconcile, "reconcile", false, "After registering, compare the manifest with the files in storage")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	o.inputs = fs.Args()
	if o.table == "" {
		return o, errors.New("-table is required")
	}
	if len(o.inputs) == 0 {
		return o, errors.New("at least one CSV input is required (use - for stdin)")
	}
	if utf8.RuneCountInString(o.delimiter) != 1 {
		return o, fmt.Errorf("-delimiter must be a single character, got %q", o.delimiter)
	}
	if o.reconcile && o.noRegister {
		return o, errors.New("-reconcile requires registration")
	}
	if o.location == "" {
		o.location = o.table
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := app.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger()

	var schema *arrow.Schema
	if o.schema != "" {
		if schema, err = parseSchema(o.schema); err != nil {
			return fmt.Errorf("invalid -schema: %w", err)
		}
	}

	var writer *ingest.TableWriter
	writerOpts := ingest.Options{
		WorkDir:       cfg.Ingest.WorkDir,
		RowsPerFile:   cfg.Ingest.RowsPerFile,
		RowsPerBatch:  cfg.Ingest.RowsPerBatch,
		Compression:   ingest.Compression(cfg.Ingest.Compression),
		FileExtension: cfg.Scan.FileExtension,
		Logger:        logger,
	}

	var rows int64
	for _, input := range o.inputs {
		n, err := ingestCSV(ctx, input, stdin, o, cfg.Ingest.RowsPerBatch, &schema, func(rec arrow.Record) error {
			if writer == nil {
				writer = ingest.NewTableWriter(a.Storage(), o.location, schema, writerOpts)
			}
			return writer.Write(ctx, rec)
		})
		if err != nil {
			if writer != nil {
				writer.Abort()
			}
			return fmt.Errorf("%s: %w", input, err)
		}
		rows += n
		level.Info(logger).Log("msg", "read csv input", "input", input, "rows", n)
	}
	if writer == nil {
		return errors.New("inputs contained no rows")
	}

	files, err := writer.Close(ctx)
	if err != nil {
		return err
	}

	var size int64
	for _, f := range files {
		size += f.SizeBytes
	}

	if !o.noRegister {
		catalog, err := a.Catalog()
		if err != nil {
			return err
		}
		maxConcurrency := o.maxConcurrency
		if maxConcurrency == 0 {
			maxConcurrency = cfg.Scan.MaxConcurrency
		}
		def := manifest.TableRecord{
			Name:           o.table,
			Location:       o.location,
			FileExtension:  cfg.Scan.FileExtension,
			MaxConcurrency: maxConcurrency,
		}
		if err := ingest.Register(ctx, catalog, def, files); err != nil {
			return err
		}
		// Refresh planner statistics now that the files table has grown
		if err := catalog.RunAnalyze(ctx); err != nil {
			level.Warn(logger).Log("msg", "failed to analyze manifest", "err", err)
		}
		if o.reconcile {
			report, err := manifest.Reconcile(ctx, catalog, a.Storage(), o.table)
			if err != nil {
				return err
			}
			if report.HasIssues() {
				level.Warn(logger).Log("msg", "manifest and storage disagree", "table", o.table,
					"dangling", len(report.DanglingFiles), "orphaned", len(report.OrphanedObjects))
			}
			fmt.Fprintf(stdout, "%s: reconciled %d registered files against %d objects: %d dangling, %d orphaned\n",
				o.table, report.TotalManifestFiles, report.TotalStorageObjects,
				len(report.DanglingFiles), len(report.OrphanedObjects))
		}
	}

	level.Info(logger).Log("msg", "ingest complete", "table", o.table, "files", len(files),
		"rows", rows, "size", humanize.IBytes(uint64(size)))
	fmt.Fprintf(stdout, "%s: wrote %s rows in %d files (%s) to %s\n", o.table,
		humanize.Comma(rows), len(files), humanize.IBytes(uint64(size)), o.location)
	return nil
}

// ingestCSV streams one CSV input into emit. The first input fixes the
// schema when none was declared; later inputs are read with it.
func ingestCSV(ctx context.Context, input string, stdin io.Reader, o options, chunk int64, schema **arrow.Schema, emit func(arrow.Record) error) (int64, error) {
	var r io.Reader = stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}

	delim, _ := utf8.DecodeRuneInString(o.delimiter)
	csvOpts := []csv.Option{
		csv.WithHeader(o.header),
		csv.WithComma(delim),
		csv.WithChunk(int(chunk)),
		csv.WithNullReader(true, o.nullValue),
	}

	var reader *csv.Reader
	if *schema == nil {
		reader = csv.NewInferringReader(r, csvOpts...)
	} else {
		reader = csv.NewReader(r, *schema, csvOpts...)
	}
	defer reader.Release()

	var rows int64
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		rec := reader.Record()
		if *schema == nil {
			*schema = rec.Schema()
		}
		if err := emit(rec); err != nil {
			return rows, err
		}
		rows += rec.NumRows()
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		// An empty input fails reading its header with io.EOF
		return rows, err
	}
	return rows, nil
}
