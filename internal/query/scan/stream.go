package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/observability"
	"github.com/arkilian/ipcscan/internal/query/plan"
	"github.com/arkilian/ipcscan/internal/table"
	"github.com/arkilian/ipcscan/internal/tablemeta"
	"github.com/arkilian/ipcscan/pkg/types"
)

// State is the lifecycle state of a partition stream.
type State int

const (
	StateUnstarted State = iota
	StateOpening
	StateStreaming
	StateExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stream reads the slices of one partition in order.
type Stream struct {
	exec    *ScanExec
	tc      *plan.TaskContext
	spec    types.PartitionSpec
	limit   *plan.LimitCounter
	logger  log.Logger
	metrics *observability.ScanMetrics

	state State
	err   error

	slice    int
	batch    int
	reader   *table.Reader
	ioCtx    context.Context
	ioCancel context.CancelFunc
	hasSlot  bool
	pending  arrow.Record
	offset   int64
	recorded bool

	rows     int64
	batches  int64
	started  time.Time
	slotWait time.Duration
}

func newStream(exec *ScanExec, tc *plan.TaskContext, spec types.PartitionSpec) *Stream {
	s := &Stream{
		exec:    exec,
		tc:      tc,
		spec:    spec,
		metrics: exec.handle.Metrics(),
		logger:  log.With(tc.Logger(), "table", exec.handle.Path(), "partition", spec.Index),
	}
	if exec.limit != nil {
		s.limit = tc.Limit(exec, *exec.limit)
	}
	return s
}

// Schema returns the projected schema of the scan.
func (s *Stream) Schema() *arrow.Schema { return s.exec.schema }

// State returns the current lifecycle state.
func (s *Stream) State() State { return s.state }

// Read returns the next record of the partition. The first call takes a
// decode slot from the table, waiting while all slots are held.
func (s *Stream) Read(ctx context.Context) (arrow.Record, error) {
	switch s.state {
	case StateExhausted:
		return nil, plan.EOF
	case StateFailed:
		return nil, s.err
	}

	if err := ctx.Err(); err != nil {
		return nil, s.fail(err)
	}

	if s.state == StateUnstarted {
		s.started = time.Now()
		if s.spec.IsEmpty() || s.limitReached() {
			s.finish()
			return nil, plan.EOF
		}

		s.state = StateOpening
		level.Debug(s.logger).Log("msg", "waiting for decode slot", "slices", len(s.spec.Slices))
		waitStart := time.Now()
		if err := s.exec.handle.AcquireSlot(ctx); err != nil {
			return nil, s.fail(err)
		}
		s.hasSlot = true
		s.slotWait = time.Since(waitStart)
		s.resetIO(ctx)
		s.state = StateStreaming
	}
	defer s.bindIO(ctx)()

	for {
		if s.limitReached() {
			s.finish()
			return nil, plan.EOF
		}

		if s.pending != nil {
			return s.emit(s.nextChunk())
		}

		if s.slice >= len(s.spec.Slices) {
			s.finish()
			return nil, plan.EOF
		}
		cur := s.spec.Slices[s.slice]

		if s.reader == nil {
			if err := s.openSlice(cur); err != nil {
				return nil, s.fail(readErr(ctx, err))
			}
		}

		if s.batch >= cur.NumBatches {
			s.closeReader()
			s.slice++
			s.batch = 0
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, s.fail(err)
		}

		rec, err := s.reader.Batch(cur.FirstBatch + s.batch)
		s.batch++
		if err != nil {
			return nil, s.fail(readErr(ctx, err))
		}

		if diffs := tablemeta.CompareFields(s.exec.handle.Schema().Fields(), rec.Schema().Fields()); len(diffs) > 0 {
			rec.Release()
			return nil, s.fail(ipcerrors.Decode(cur.File.Path,
				fmt.Errorf("batch %d: %w", cur.FirstBatch+s.batch-1, diffs)))
		}
		if rec.NumRows() == 0 {
			rec.Release()
			continue
		}

		out := s.project(rec)
		if s.exec.batchSize > 0 && out.NumRows() > int64(s.exec.batchSize) {
			s.pending = out
			s.offset = 0
			continue
		}
		return s.emit(out)
	}
}

// resetIO gives the stream a fresh I/O context. Open files outlive the Read
// that opened them, so their requests are bound to the stream and not to
// any one caller context.
func (s *Stream) resetIO(ctx context.Context) {
	s.ioCtx, s.ioCancel = context.WithCancel(context.WithoutCancel(ctx))
}

// bindIO cancels the stream's requests when ctx is cancelled during the
// current Read. The returned func unbinds. If ctx was cancelled after the
// Read's last request, the open file is dropped and reopened on the next
// Read, which resumes at the same batch.
func (s *Stream) bindIO(ctx context.Context) func() {
	stop := context.AfterFunc(ctx, s.ioCancel)
	return func() {
		if stop() || s.state != StateStreaming {
			return
		}
		s.closeReader()
		s.resetIO(ctx)
	}
}

// readErr reports a cancelled Read as the cancellation rather than the
// storage error it caused.
func readErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Stream) openSlice(slice types.FileSlice) error {
	r, err := table.OpenReader(s.ioCtx, s.exec.handle.Store(), slice.File.Path, s.tc.Allocator())
	if err != nil {
		if ipcerrors.GetCode(err) == ipcerrors.CodePathNotFound {
			// The file was listed when the table was opened
			return ipcerrors.IO(slice.File.Path, err)
		}
		return err
	}
	if end := slice.FirstBatch + slice.NumBatches; r.NumBatches() < end {
		r.Close()
		return ipcerrors.Decode(slice.File.Path,
			fmt.Errorf("file has %d record batches, planned %d", r.NumBatches(), end))
	}
	s.reader = r
	return nil
}

// project rebinds the decoded columns to the output schema without copying.
func (s *Stream) project(rec arrow.Record) arrow.Record {
	defer rec.Release()

	if s.exec.projection == nil {
		return array.NewRecord(s.exec.schema, rec.Columns(), rec.NumRows())
	}
	cols := make([]arrow.Array, len(s.exec.projection))
	for i, idx := range s.exec.projection {
		cols[i] = rec.Column(idx)
	}
	return array.NewRecord(s.exec.schema, cols, rec.NumRows())
}

// nextChunk cuts the next BatchSize rows off the pending record.
func (s *Stream) nextChunk() arrow.Record {
	n := s.pending.NumRows()
	end := min(s.offset+int64(s.exec.batchSize), n)
	chunk := s.pending.NewSlice(s.offset, end)
	s.offset = end
	if s.offset >= n {
		s.pending.Release()
		s.pending = nil
	}
	return chunk
}

// emit applies the global limit and hands rec to the caller.
func (s *Stream) emit(rec arrow.Record) (arrow.Record, error) {
	if s.limit != nil {
		granted := s.limit.Reserve(rec.NumRows())
		if granted == 0 {
			rec.Release()
			s.finish()
			return nil, plan.EOF
		}
		if granted < rec.NumRows() {
			truncated := rec.NewSlice(0, granted)
			rec.Release()
			rec = truncated
		}
	}

	s.rows += rec.NumRows()
	s.batches++
	s.metrics.ObserveBatch(rec.NumRows())
	return rec, nil
}

func (s *Stream) limitReached() bool {
	return s.limit != nil && s.limit.Exhausted()
}

func (s *Stream) finish() {
	s.state = StateExhausted
	s.release()
	s.record()
	s.metrics.PartitionFinished(StateExhausted.String())
	level.Debug(s.logger).Log("msg", "partition exhausted", "rows", s.rows, "batches", s.batches)
}

func (s *Stream) fail(err error) error {
	s.state = StateFailed
	s.err = err
	s.release()
	s.record()
	s.metrics.PartitionFinished(StateFailed.String())
	s.metrics.PartitionFailed(ipcerrors.GetCode(err))
	level.Warn(s.logger).Log("msg", "partition failed", "err", err)
	return err
}

func (s *Stream) closeReader() {
	if s.reader == nil {
		return
	}
	if err := s.reader.Close(); err != nil {
		level.Debug(s.logger).Log("msg", "closing reader", "path", s.reader.Path(), "err", err)
	}
	s.reader = nil
}

// release frees the pending chunk, the open file and the decode slot.
func (s *Stream) release() {
	if s.pending != nil {
		s.pending.Release()
		s.pending = nil
	}
	s.closeReader()
	if s.ioCancel != nil {
		s.ioCancel()
	}
	if s.hasSlot {
		s.hasSlot = false
		s.exec.handle.ReleaseSlot()
	}
}

func (s *Stream) record() {
	if s.recorded {
		return
	}
	s.recorded = true

	var elapsed time.Duration
	if !s.started.IsZero() {
		elapsed = time.Since(s.started)
	}
	s.tc.Stats().RecordPartition(observability.PartitionStats{
		Partition: s.spec.Index,
		Rows:      s.rows,
		Batches:   s.batches,
		State:     s.state.String(),
		SlotWait:  s.slotWait,
		Elapsed:   elapsed,
	})
}

// Close releases the slot and open file. A stream closed before it is
// exhausted reads as exhausted afterwards.
func (s *Stream) Close() error {
	s.release()
	if s.state != StateExhausted && s.state != StateFailed {
		s.state = StateExhausted
		if s.started.IsZero() {
			// Never read; nothing to report
			s.recorded = true
			return nil
		}
		s.record()
		s.metrics.PartitionFinished(StateExhausted.String())
		level.Debug(s.logger).Log("msg", "partition closed early", "rows", s.rows)
	}
	return nil
}
