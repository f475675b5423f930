// Package main implements ipcscan-query, which scans an Arrow IPC table and
// writes its rows as CSV.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/expfmt"

	"github.com/arkilian/ipcscan/internal/app"
	"github.com/arkilian/ipcscan/internal/query/executor"
	"github.com/arkilian/ipcscan/internal/query/plan"
	"github.com/arkilian/ipcscan/internal/query/scan"
	"github.com/arkilian/ipcscan/internal/table"
	"github.com/arkilian/ipcscan/pkg/types"
)

type options struct {
	configPath     string
	table          string
	path           string
	columns        string
	limit          int64
	partitions     int
	batchSize      int
	maxConcurrency int
	weightByRows   bool
	explain        bool
	stats          bool
	header         bool
	output         string
}

func main() {
	ctx, cancel := app.SignalContext(context.Background())
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "ipcscan-query: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("ipcscan-query", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to a YAML or JSON config file")
	fs.StringVar(&o.table, "table", "", "Manifest table name to scan")
	fs.StringVar(&o.path, "path", "", "Storage path of a table file or directory to scan")
	fs.StringVar(&o.columns, "columns", "", "Comma separated columns to read, in output order (default: all)")
	fs.Int64Var(&o.limit, "limit", -1, "Maximum rows to return (-1 for no limit)")
	fs.IntVar(&o.partitions, "partitions", 0, "Number of scan partitions (default: scan.target_partitions)")
	fs.IntVar(&o.batchSize, "batch-size", -1, "Maximum rows per output batch (default: scan.batch_size)")
	fs.IntVar(&o.maxConcurrency, "max-concurrency", 0, "Decode slots for -path tables (default: scan.max_concurrency)")
	fs.BoolVar(&o.weightByRows, "weight-by-rows", false, "Balance partitions by row count instead of bytes")
	fs.BoolVar(&o.explain, "explain", false, "Print the plan and its statistics without scanning")
	fs.BoolVar(&o.stats, "stats", false, "Print per-partition execution statistics to stderr")
	fs.BoolVar(&o.header, "header", true, "Write a CSV header row")
	fs.StringVar(&o.output, "output", "-", "CSV output file (- for stdout)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if (o.table == "") == (o.path == "") {
		return o, errors.New("exactly one of -table or -path is required")
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
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

	tableOpts := []table.Option{
		table.WithLogger(logger),
		table.WithMetrics(a.Metrics()),
	}
	var h *table.Handle
	if o.table != "" {
		catalog, err := a.Catalog()
		if err != nil {
			return err
		}
		h, err = table.Resolve(ctx, catalog, a.Storage(), o.table, tableOpts...)
		if err != nil {
			return err
		}
	} else {
		maxConcurrency := o.maxConcurrency
		if maxConcurrency == 0 {
			maxConcurrency = cfg.Scan.MaxConcurrency
		}
		tableOpts = append(tableOpts, table.WithFileExtension(cfg.Scan.FileExtension))
		h, err = table.Open(ctx, a.Storage(), o.path, maxConcurrency, tableOpts...)
		if err != nil {
			return err
		}
	}

	scanOpts := scan.Options{
		TargetPartitions: cfg.Scan.TargetPartitions,
		BatchSize:        cfg.Scan.BatchSize,
		WeightByRows:     o.weightByRows,
	}
	if o.partitions > 0 {
		scanOpts.TargetPartitions = o.partitions
	}
	if o.batchSize >= 0 {
		scanOpts.BatchSize = o.batchSize
	}
	if o.limit >= 0 {
		scanOpts.Limit = types.Int64Ptr(o.limit)
	}
	if o.columns != "" {
		if scanOpts.Projection, err = projection(h.Schema(), o.columns); err != nil {
			return err
		}
	}

	exec, err := scan.New(h, scanOpts)
	if err != nil {
		return err
	}
	root := plan.ExecutionPlan(exec)
	if exec.OutputPartitioning().Count > 1 {
		root = executor.NewCoalescePartitions(exec)
	}

	if o.explain {
		fmt.Fprint(stdout, plan.Explain(root))
		fmt.Fprintln(stdout, describeStatistics(root.Statistics(), root.Schema()))
		return nil
	}

	out := stdout
	if o.output != "-" {
		f, err := os.Create(o.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	tc := plan.NewTaskContext(plan.WithLogger(logger))
	start := time.Now()
	rows, err := writeCSV(ctx, root, tc, out, o.header)
	if err != nil {
		return err
	}

	totals := tc.Stats().Totals()
	level.Info(logger).Log("msg", "query complete", "query_id", tc.QueryID(), "rows", rows,
		"partitions", totals.Partitions, "duration", time.Since(start))

	if o.stats {
		printStats(stderr, tc)
	}
	if cfg.Metrics.Enabled {
		if err := dumpMetrics(stderr, a); err != nil {
			return err
		}
	}
	return nil
}

// projection maps comma separated column names to schema field indices.
func projection(schema *arrow.Schema, columns string) ([]int, error) {
	var out []int
	for _, name := range strings.Split(columns, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		out = append(out, idx[0])
	}
	if len(out) == 0 {
		return nil, errors.New("-columns names no columns")
	}
	return out, nil
}

// writeCSV streams the single partition of root to w.
func writeCSV(ctx context.Context, root plan.ExecutionPlan, tc *plan.TaskContext, w io.Writer, header bool) (int64, error) {
	s, err := root.Execute(tc, 0)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	cw := csv.NewWriter(w, root.Schema(), csv.WithHeader(header), csv.WithNullWriter(""))
	var rows int64
	for {
		rec, err := s.Read(ctx)
		if errors.Is(err, plan.EOF) {
			break
		}
		if err != nil {
			return rows, err
		}
		err = cw.Write(rec)
		rows += rec.NumRows()
		rec.Release()
		if err != nil {
			return rows, fmt.Errorf("failed to write csv: %w", err)
		}
	}
	if rows == 0 && header {
		// The writer only emits the header with the first record
		empty := emptyRecord(root.Schema(), tc)
		defer empty.Release()
		if err := cw.Write(empty); err != nil {
			return 0, fmt.Errorf("failed to write csv: %w", err)
		}
	}
	if err := cw.Flush(); err != nil {
		return rows, fmt.Errorf("failed to write csv: %w", err)
	}
	return rows, cw.Error()
}

func emptyRecord(schema *arrow.Schema, tc *plan.TaskContext) arrow.Record {
	b := array.NewRecordBuilder(tc.Allocator(), schema)
	defer b.Release()
	return b.NewRecord()
}

func describeStatistics(stats types.Statistics, schema *arrow.Schema) string {
	var sb strings.Builder
	sb.WriteString("statistics:")
	if stats.NumRows != nil {
		fmt.Fprintf(&sb, " rows=%s", humanize.Comma(*stats.NumRows))
	} else {
		sb.WriteString(" rows=unknown")
	}
	if stats.TotalByteSize != nil {
		fmt.Fprintf(&sb, " size=%s", humanize.IBytes(uint64(*stats.TotalByteSize)))
	} else {
		sb.WriteString(" size=unknown")
	}
	fmt.Fprintf(&sb, " exact=%t", stats.IsExact)
	for i, cs := range stats.ColumnStatistics {
		if i >= schema.NumFields() {
			break
		}
		fmt.Fprintf(&sb, "\n  %s:", schema.Field(i).Name)
		if cs.NullCount != nil {
			fmt.Fprintf(&sb, " nulls=%d", *cs.NullCount)
		}
		if cs.Min != nil {
			fmt.Fprintf(&sb, " min=%v", cs.Min)
		}
		if cs.Max != nil {
			fmt.Fprintf(&sb, " max=%v", cs.Max)
		}
	}
	return sb.String()
}

func printStats(w io.Writer, tc *plan.TaskContext) {
	totals := tc.Stats().Totals()
	fmt.Fprintf(w, "query %s: %s rows in %d batches from %d partitions (%d failed) in %s\n",
		tc.QueryID(), humanize.Comma(totals.Rows), totals.Batches, totals.Partitions, totals.Failed, totals.Wall)
	for _, ps := range tc.Stats().Partitions() {
		fmt.Fprintf(w, "  partition %d: state=%s rows=%s batches=%d slot_wait=%s elapsed=%s\n",
			ps.Partition, ps.State, humanize.Comma(ps.Rows), ps.Batches, ps.SlotWait, ps.Elapsed)
	}
}

func dumpMetrics(w io.Writer, a *app.App) error {
	families, err := a.Registry().Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
