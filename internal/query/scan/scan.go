// Package scan implements the table scan node: a leaf of the plan tree that
// reads the Arrow IPC files of a table, one partition per stream.
package scan

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/query/plan"
	"github.com/arkilian/ipcscan/internal/query/planner"
	"github.com/arkilian/ipcscan/internal/table"
	"github.com/arkilian/ipcscan/pkg/types"
)

// Options configures a scan.
type Options struct {
	// Projection lists base-schema field indices in output order; nil reads all fields
	Projection []int

	// Limit caps the rows produced across all partitions of one execution
	Limit *int64

	// TargetPartitions is the number of output partitions (default 1)
	TargetPartitions int

	// BatchSize re-chunks decoded batches to at most this many rows (0 = as stored)
	BatchSize int

	// WeightByRows balances partitions by row count instead of byte size
	WeightByRows bool
}

// ScanExec scans a table. It is immutable; every Execute call builds an
// independent stream.
type ScanExec struct {
	handle       *table.Handle
	projection   []int
	schema       *arrow.Schema
	limit        *int64
	batchSize    int
	partitions   []types.PartitionSpec
	partitioning types.Partitioning
}

var _ plan.ExecutionPlan = (*ScanExec)(nil)

// New builds a scan over handle. Invalid options fail with INVALID_PLAN.
func New(handle *table.Handle, opts Options) (*ScanExec, error) {
	if handle == nil {
		return nil, ipcerrors.InvalidPlan("scan requires a table handle")
	}
	if opts.TargetPartitions == 0 {
		opts.TargetPartitions = 1
	}
	if opts.TargetPartitions < 0 {
		return nil, ipcerrors.InvalidPlan(fmt.Sprintf("target partitions must be >= 1, got %d", opts.TargetPartitions))
	}
	if opts.BatchSize < 0 {
		return nil, ipcerrors.InvalidPlan(fmt.Sprintf("batch size must be >= 0, got %d", opts.BatchSize))
	}
	if opts.Limit != nil && *opts.Limit < 0 {
		return nil, ipcerrors.InvalidPlan(fmt.Sprintf("limit must be >= 0, got %d", *opts.Limit))
	}

	schema, err := projectSchema(handle.Schema(), opts.Projection)
	if err != nil {
		return nil, err
	}

	parts, err := planner.PlanWithOptions(handle.Files(), opts.TargetPartitions, planner.Options{
		WeightByRows: opts.WeightByRows,
	})
	if err != nil {
		return nil, err
	}

	s := &ScanExec{
		handle:       handle,
		schema:       schema,
		batchSize:    opts.BatchSize,
		partitions:   parts,
		partitioning: types.UnknownPartitioning(len(parts)),
	}
	if opts.Projection != nil {
		s.projection = append([]int(nil), opts.Projection...)
	}
	if opts.Limit != nil {
		s.limit = types.Int64Ptr(*opts.Limit)
	}
	return s, nil
}

func projectSchema(base *arrow.Schema, projection []int) (*arrow.Schema, error) {
	if projection == nil {
		return base, nil
	}
	if len(projection) == 0 {
		return nil, ipcerrors.InvalidPlan("projection must name at least one field")
	}
	fields := make([]arrow.Field, len(projection))
	for i, idx := range projection {
		if idx < 0 || idx >= base.NumFields() {
			return nil, ipcerrors.InvalidPlan(
				fmt.Sprintf("projection index %d out of range for %d fields", idx, base.NumFields()))
		}
		fields[i] = base.Field(idx)
	}
	return arrow.NewSchema(fields, nil), nil
}

func (s *ScanExec) Name() string { return "ScanExec" }

// Schema returns the projected schema.
func (s *ScanExec) Schema() *arrow.Schema { return s.schema }

func (s *ScanExec) OutputPartitioning() types.Partitioning { return s.partitioning }

// Children returns nil; a scan is a leaf.
func (s *ScanExec) Children() []plan.ExecutionPlan { return nil }

// WithNewChildren accepts only an empty list and returns the receiver.
func (s *ScanExec) WithNewChildren(children []plan.ExecutionPlan) (plan.ExecutionPlan, error) {
	if len(children) > 0 {
		return nil, ipcerrors.InvalidPlan(fmt.Sprintf("ScanExec is a leaf, got %d children", len(children)))
	}
	return s, nil
}

// Statistics returns the table statistics restricted to the projection and
// bounded by the limit.
func (s *ScanExec) Statistics() types.Statistics {
	return s.handle.Statistics().Project(s.projection).WithLimit(s.limit)
}

// Partitions returns the planned work of every partition.
func (s *ScanExec) Partitions() []types.PartitionSpec {
	out := make([]types.PartitionSpec, len(s.partitions))
	copy(out, s.partitions)
	return out
}

// Handle returns the scanned table.
func (s *ScanExec) Handle() *table.Handle { return s.handle }

// Limit returns the row limit, or nil.
func (s *ScanExec) Limit() *int64 { return s.limit }

// Execute returns the stream of one partition. The stream does no work
// until its first Read. A nil tc runs with a fresh TaskContext.
func (s *ScanExec) Execute(tc *plan.TaskContext, partition int) (plan.Stream, error) {
	if partition < 0 || partition >= len(s.partitions) {
		return nil, ipcerrors.IndexOutOfRange(partition, len(s.partitions))
	}
	if tc == nil {
		tc = plan.NewTaskContext()
	}
	return newStream(s, tc, s.partitions[partition]), nil
}

func (s *ScanExec) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ScanExec: path=%s, files=%d, partitions=%d", s.handle.Path(), len(s.handle.Files()), len(s.partitions))
	if s.projection != nil {
		names := make([]string, len(s.projection))
		for i, f := range s.schema.Fields() {
			names[i] = f.Name
		}
		fmt.Fprintf(&sb, ", projection=[%s]", strings.Join(names, ", "))
	}
	if s.limit != nil {
		fmt.Fprintf(&sb, ", limit=%d", *s.limit)
	}
	if s.batchSize > 0 {
		fmt.Fprintf(&sb, ", batch_size=%d", s.batchSize)
	}
	fmt.Fprintf(&sb, ", max_concurrency=%d", s.handle.MaxConcurrency())
	return sb.String()
}
