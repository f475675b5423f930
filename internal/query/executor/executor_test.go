package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/ingest/ingesttest"
	"github.com/arkilian/ipcscan/internal/query/plan"
	"github.com/arkilian/ipcscan/internal/query/scan"
	"github.com/arkilian/ipcscan/internal/storage"
	"github.com/arkilian/ipcscan/internal/table"
	"github.com/arkilian/ipcscan/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newScan(t *testing.T, rowsPerFile []int64, rowsPerBatch int64, opts scan.Options) (*scan.ScanExec, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ingesttest.WriteTable(t, store, "t", rowsPerFile, rowsPerBatch)

	h, err := table.Open(context.Background(), store, "t", 2)
	require.NoError(t, err)
	exec, err := scan.New(h, opts)
	require.NoError(t, err)
	return exec, store
}

func sortedIDs(records []arrow.Record) []int64 {
	ids := ingesttest.IDs(records)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestCollect_EndToEnd(t *testing.T) {
	exec, _ := newScan(t, []int64{10, 10, 4}, 3, scan.Options{TargetPartitions: 2})

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	recs, err := Collect(context.Background(), exec, plan.NewTaskContext(plan.WithAllocator(mem)))
	require.NoError(t, err)
	defer Release(recs)

	ids := sortedIDs(recs)
	require.Len(t, ids, 24)
	for i, id := range ids {
		assert.Equal(t, int64(i), id)
	}
	for _, r := range recs {
		assert.True(t, r.Schema().Equal(exec.Schema()))
	}
}

func TestCollect_SinglePartitionSkipsCoalesce(t *testing.T) {
	exec, _ := newScan(t, []int64{3, 3}, 0, scan.Options{})

	recs, err := Collect(context.Background(), exec, plan.NewTaskContext())
	require.NoError(t, err)
	defer Release(recs)

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, ingesttest.IDs(recs))
}

func TestCollect_Limit(t *testing.T) {
	exec, _ := newScan(t, []int64{10, 10, 4}, 2, scan.Options{TargetPartitions: 3, Limit: types.Int64Ptr(5)})

	recs, err := Collect(context.Background(), exec, plan.NewTaskContext())
	require.NoError(t, err)
	defer Release(recs)

	assert.Equal(t, int64(5), ingesttest.Rows(recs))
}

func TestCollectPartitioned(t *testing.T) {
	exec, _ := newScan(t, []int64{10, 10, 4}, 0, scan.Options{TargetPartitions: 2, WeightByRows: true})

	parts, err := CollectPartitioned(context.Background(), exec, plan.NewTaskContext())
	require.NoError(t, err)
	defer func() {
		for _, p := range parts {
			Release(p)
		}
	}()

	require.Len(t, parts, 2)
	assert.Equal(t, int64(10), ingesttest.Rows(parts[0]))
	assert.Equal(t, int64(14), ingesttest.Rows(parts[1]))
}

func TestCollect_FailurePropagates(t *testing.T) {
	exec, store := newScan(t, []int64{4, 4, 4}, 1, scan.Options{TargetPartitions: 3})

	broken := exec.Partitions()[1].Slices[0].File.Path
	full := filepath.Join(store.BasePath(), filepath.FromSlash(broken))
	require.NoError(t, os.WriteFile(full, []byte("not an arrow file at all"), 0644))

	_, err := Collect(context.Background(), exec, plan.NewTaskContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, ipcerrors.ErrDecode)
	assert.Equal(t, 0, exec.Handle().SlotsInUse())

	_, err = CollectPartitioned(context.Background(), exec, plan.NewTaskContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, ipcerrors.ErrDecode)
	assert.Equal(t, 0, exec.Handle().SlotsInUse())
}

func TestCoalesce_CloseEarlyReleasesEverything(t *testing.T) {
	exec, _ := newScan(t, []int64{8, 8, 8}, 1, scan.Options{TargetPartitions: 3})

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	s, err := NewCoalescePartitions(exec).Execute(plan.NewTaskContext(plan.WithAllocator(mem)), 0)
	require.NoError(t, err)

	rec, err := s.Read(context.Background())
	require.NoError(t, err)
	rec.Release()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, exec.Handle().SlotsInUse())

	_, err = s.Read(context.Background())
	assert.True(t, errors.Is(err, plan.EOF))
}

func TestCoalesce_CancelledRead(t *testing.T) {
	exec, _ := newScan(t, []int64{8, 8}, 1, scan.Options{TargetPartitions: 2})

	s, err := NewCoalescePartitions(exec).Execute(plan.NewTaskContext(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, s.Close())
	assert.Equal(t, 0, exec.Handle().SlotsInUse())
}

func TestCoalesce_Node(t *testing.T) {
	exec, _ := newScan(t, []int64{1, 1}, 0, scan.Options{TargetPartitions: 2})
	c := NewCoalescePartitions(exec)

	assert.Equal(t, 1, c.OutputPartitioning().Count)
	assert.True(t, c.Schema().Equal(exec.Schema()))
	assert.Equal(t, *exec.Statistics().NumRows, *c.Statistics().NumRows)

	_, err := c.Execute(plan.NewTaskContext(), 1)
	assert.ErrorIs(t, err, ipcerrors.ErrIndexOutOfRange)

	_, err = c.WithNewChildren(nil)
	assert.ErrorIs(t, err, ipcerrors.ErrInvalidPlan)
	replaced, err := c.WithNewChildren([]plan.ExecutionPlan{exec})
	require.NoError(t, err)
	assert.Equal(t, "CoalescePartitionsExec", replaced.Name())

	want := "CoalescePartitionsExec: partitions=2\n  " + exec.String() + "\n"
	assert.Equal(t, want, plan.Explain(c))
}
