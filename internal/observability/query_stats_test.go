package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordPartitionConcurrent tests concurrent RecordPartition calls for race conditions.
func TestRecordPartitionConcurrent(t *testing.T) {
	qs := NewQueryStats()
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				qs.RecordPartition(PartitionStats{Partition: id % 2, Rows: 3, Batches: 1, State: "exhausted"})
			}
		}(i)
	}

	wg.Wait()

	parts := qs.Partitions()
	if len(parts) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(parts))
	}

	expectedRows := int64(numGoroutines / 2 * recordsPerGoroutine * 3)
	for _, ps := range parts {
		if ps.Rows != expectedRows {
			t.Errorf("partition %d: expected %d rows, got %d", ps.Partition, expectedRows, ps.Rows)
		}
	}

	totals := qs.Totals()
	if totals.Rows != 2*expectedRows {
		t.Errorf("expected %d total rows, got %d", 2*expectedRows, totals.Rows)
	}
}

// TestPartitionsOrdering tests that Partitions returns results sorted by index.
func TestPartitionsOrdering(t *testing.T) {
	qs := NewQueryStats()
	for _, p := range []int{3, 0, 2, 1} {
		qs.RecordPartition(PartitionStats{Partition: p})
	}

	parts := qs.Partitions()
	for i, ps := range parts {
		if ps.Partition != i {
			t.Errorf("position %d: got partition %d", i, ps.Partition)
		}
	}
}

func TestSlowest(t *testing.T) {
	qs := NewQueryStats()
	qs.RecordPartition(PartitionStats{Partition: 0, Elapsed: 10 * time.Millisecond})
	qs.RecordPartition(PartitionStats{Partition: 1, Elapsed: 30 * time.Millisecond})
	qs.RecordPartition(PartitionStats{Partition: 2, Elapsed: 20 * time.Millisecond})

	top := qs.Slowest(2)
	if len(top) != 2 {
		t.Fatalf("expected 2, got %d", len(top))
	}
	if top[0].Partition != 1 || top[1].Partition != 2 {
		t.Errorf("unexpected order: %+v", top)
	}

	if got := qs.Slowest(10); len(got) != 3 {
		t.Errorf("limit exceeding data: expected 3, got %d", len(got))
	}
	if got := NewQueryStats().Slowest(5); len(got) != 0 {
		t.Errorf("empty stats: expected 0, got %d", len(got))
	}
}

func TestTotalsCountsFailures(t *testing.T) {
	qs := NewQueryStats()
	qs.RecordPartition(PartitionStats{Partition: 0, Rows: 5, State: "exhausted"})
	qs.RecordPartition(PartitionStats{Partition: 1, State: "failed"})

	totals := qs.Totals()
	if totals.Partitions != 2 || totals.Failed != 1 || totals.Rows != 5 {
		t.Errorf("unexpected totals %+v", totals)
	}
}
