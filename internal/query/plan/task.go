package plan

import (
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/google/uuid"

	"github.com/arkilian/ipcscan/internal/logging"
	"github.com/arkilian/ipcscan/internal/observability"
)

// TaskContext holds the state shared by every partition of one execution:
// allocator, logger, query statistics and the global limit counters. A
// fresh TaskContext starts a fresh run.
type TaskContext struct {
	queryID uuid.UUID
	mem     memory.Allocator
	logger  log.Logger
	stats   *observability.QueryStats

	limits sync.Map // node key -> *LimitCounter
}

// TaskOption configures a TaskContext.
type TaskOption func(*TaskContext)

// WithAllocator sets the allocator decoded records are built with.
func WithAllocator(mem memory.Allocator) TaskOption {
	return func(tc *TaskContext) {
		if mem != nil {
			tc.mem = mem
		}
	}
}

// WithLogger sets the logger, tagged with the query id.
func WithLogger(logger log.Logger) TaskOption {
	return func(tc *TaskContext) { tc.logger = logging.OrNop(logger) }
}

// WithQueryID overrides the generated query id.
func WithQueryID(id uuid.UUID) TaskOption {
	return func(tc *TaskContext) { tc.queryID = id }
}

// NewTaskContext creates the context for one execution.
func NewTaskContext(opts ...TaskOption) *TaskContext {
	tc := &TaskContext{
		queryID: uuid.New(),
		mem:     memory.DefaultAllocator,
		logger:  log.NewNopLogger(),
		stats:   observability.NewQueryStats(),
	}
	for _, opt := range opts {
		opt(tc)
	}
	tc.logger = log.With(tc.logger, "query_id", tc.queryID.String())
	return tc
}

func (tc *TaskContext) QueryID() uuid.UUID { return tc.queryID }

func (tc *TaskContext) Allocator() memory.Allocator { return tc.mem }

func (tc *TaskContext) Logger() log.Logger { return tc.logger }

// Stats returns the per-partition statistics of this run.
func (tc *TaskContext) Stats() *observability.QueryStats { return tc.stats }

// Limit returns the row budget registered under key, creating it with
// limit rows on first use. Every partition of one node shares the counter.
func (tc *TaskContext) Limit(key any, limit int64) *LimitCounter {
	c, _ := tc.limits.LoadOrStore(key, &LimitCounter{limit: limit})
	return c.(*LimitCounter)
}

// LimitCounter is a row budget shared by concurrent partitions.
type LimitCounter struct {
	limit int64
	used  atomic.Int64
}

// Reserve claims up to n rows and returns how many were granted. The sum
// of all grants never exceeds the limit.
func (c *LimitCounter) Reserve(n int64) int64 {
	for {
		used := c.used.Load()
		avail := c.limit - used
		if avail <= 0 || n <= 0 {
			return 0
		}
		grant := min(n, avail)
		if c.used.CompareAndSwap(used, used+grant) {
			return grant
		}
	}
}

// Remaining returns the rows not yet granted.
func (c *LimitCounter) Remaining() int64 {
	return max(c.limit-c.used.Load(), 0)
}

// Exhausted reports whether every row of the budget has been granted.
func (c *LimitCounter) Exhausted() bool {
	return c.Remaining() == 0
}
