// Package executor drives execution plans: it merges partitions and
// collects their records.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/query/plan"
	"github.com/arkilian/ipcscan/pkg/types"
)

// Drain reads s to the end and closes it. On error every record read so
// far is released.
func Drain(ctx context.Context, s plan.Stream) ([]arrow.Record, error) {
	defer s.Close()

	var out []arrow.Record
	for {
		rec, err := s.Read(ctx)
		if errors.Is(err, plan.EOF) {
			return out, nil
		}
		if err != nil {
			Release(out)
			return nil, err
		}
		out = append(out, rec)
	}
}

// Release releases every record.
func Release(records []arrow.Record) {
	for _, r := range records {
		r.Release()
	}
}

// Collect executes every partition of p and returns all records in one
// slice. Order across partitions is unspecified.
func Collect(ctx context.Context, p plan.ExecutionPlan, tc *plan.TaskContext) ([]arrow.Record, error) {
	if p.OutputPartitioning().Count == 1 {
		s, err := p.Execute(tc, 0)
		if err != nil {
			return nil, err
		}
		return Drain(ctx, s)
	}

	s, err := NewCoalescePartitions(p).Execute(tc, 0)
	if err != nil {
		return nil, err
	}
	return Drain(ctx, s)
}

// CollectPartitioned executes every partition of p concurrently and returns
// the records of each partition in order. The first failure cancels the
// remaining partitions.
func CollectPartitioned(ctx context.Context, p plan.ExecutionPlan, tc *plan.TaskContext) ([][]arrow.Record, error) {
	n := p.OutputPartitioning().Count
	streams := make([]plan.Stream, 0, n)
	for i := 0; i < n; i++ {
		s, err := p.Execute(tc, i)
		if err != nil {
			for _, started := range streams {
				started.Close()
			}
			return nil, err
		}
		streams = append(streams, s)
	}

	out := make([][]arrow.Record, n)
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range streams {
		g.Go(func() error {
			recs, err := Drain(gctx, s)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			out[i] = recs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		releasePartitions(out)
		level.Warn(tc.Logger()).Log("msg", "collect failed", "plan", p.Name(), "err", err)
		return nil, err
	}
	return out, nil
}

func releasePartitions(parts [][]arrow.Record) {
	for _, recs := range parts {
		Release(recs)
	}
}

// CoalescePartitionsExec merges every partition of its input into a single
// output partition.
type CoalescePartitionsExec struct {
	input plan.ExecutionPlan
}

var _ plan.ExecutionPlan = (*CoalescePartitionsExec)(nil)

// NewCoalescePartitions wraps input.
func NewCoalescePartitions(input plan.ExecutionPlan) *CoalescePartitionsExec {
	return &CoalescePartitionsExec{input: input}
}

func (c *CoalescePartitionsExec) Name() string { return "CoalescePartitionsExec" }

func (c *CoalescePartitionsExec) Schema() *arrow.Schema { return c.input.Schema() }

func (c *CoalescePartitionsExec) OutputPartitioning() types.Partitioning {
	return types.UnknownPartitioning(1)
}

func (c *CoalescePartitionsExec) Children() []plan.ExecutionPlan {
	return []plan.ExecutionPlan{c.input}
}

// WithNewChildren requires exactly one child.
func (c *CoalescePartitionsExec) WithNewChildren(children []plan.ExecutionPlan) (plan.ExecutionPlan, error) {
	if len(children) != 1 {
		return nil, ipcerrors.InvalidPlan(fmt.Sprintf("CoalescePartitionsExec requires 1 child, got %d", len(children)))
	}
	return NewCoalescePartitions(children[0]), nil
}

func (c *CoalescePartitionsExec) Statistics() types.Statistics { return c.input.Statistics() }

func (c *CoalescePartitionsExec) String() string {
	return fmt.Sprintf("CoalescePartitionsExec: partitions=%d", c.input.OutputPartitioning().Count)
}

// Execute returns the merged stream. Input partitions start on the first
// Read.
func (c *CoalescePartitionsExec) Execute(tc *plan.TaskContext, partition int) (plan.Stream, error) {
	if partition != 0 {
		return nil, ipcerrors.IndexOutOfRange(partition, 1)
	}
	if tc == nil {
		tc = plan.NewTaskContext()
	}
	if c.input.OutputPartitioning().Count == 1 {
		return c.input.Execute(tc, 0)
	}
	return &coalesceStream{input: c.input, tc: tc}, nil
}

// coalesceStream runs one goroutine per input partition, each pushing
// records into a shared channel.
type coalesceStream struct {
	input plan.ExecutionPlan
	tc    *plan.TaskContext

	started bool
	closed  bool
	cancel  context.CancelFunc
	records chan arrow.Record
	err     error

	mu       sync.Mutex
	inputErr error
}

func (s *coalesceStream) Schema() *arrow.Schema { return s.input.Schema() }

func (s *coalesceStream) start() error {
	n := s.input.OutputPartitioning().Count
	streams := make([]plan.Stream, 0, n)
	for i := 0; i < n; i++ {
		child, err := s.input.Execute(s.tc, i)
		if err != nil {
			for _, c := range streams {
				c.Close()
			}
			return err
		}
		streams = append(streams, child)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.records = make(chan arrow.Record, n)

	var wg sync.WaitGroup
	for _, child := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer child.Close()
			for {
				rec, err := child.Read(ctx)
				if errors.Is(err, plan.EOF) {
					return
				}
				if err != nil {
					if ctx.Err() == nil {
						s.setInputErr(err)
						cancel()
					}
					return
				}
				select {
				case s.records <- rec:
				case <-ctx.Done():
					rec.Release()
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(s.records)
	}()
	return nil
}

func (s *coalesceStream) setInputErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inputErr == nil {
		s.inputErr = err
	}
}

func (s *coalesceStream) getInputErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputErr
}

func (s *coalesceStream) Read(ctx context.Context) (arrow.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.closed {
		return nil, plan.EOF
	}
	if err := ctx.Err(); err != nil {
		s.err = err
		s.shutdown()
		return nil, err
	}
	if !s.started {
		s.started = true
		if err := s.start(); err != nil {
			s.err = err
			return nil, err
		}
	}

	select {
	case rec, ok := <-s.records:
		if !ok {
			if err := s.getInputErr(); err != nil {
				s.err = err
				return nil, err
			}
			s.closed = true
			return nil, plan.EOF
		}
		if err := s.getInputErr(); err != nil {
			rec.Release()
			s.err = err
			s.shutdown()
			return nil, err
		}
		return rec, nil
	case <-ctx.Done():
		s.err = ctx.Err()
		s.shutdown()
		return nil, s.err
	}
}

// shutdown stops the input goroutines and releases undelivered records.
// It returns once every input stream is closed.
func (s *coalesceStream) shutdown() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	for rec := range s.records {
		rec.Release()
	}
	s.cancel = nil
}

func (s *coalesceStream) Close() error {
	s.shutdown()
	s.closed = true
	return nil
}
