// Package observability provides scan metrics and per-query execution statistics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// QueryStats collects per-partition execution statistics for one query run.
type QueryStats struct {
	mu         sync.RWMutex
	started    time.Time
	partitions map[int]*PartitionStats
}

// PartitionStats holds statistics for one executed partition.
type PartitionStats struct {
	Partition int
	Rows      int64
	Batches   int64
	State     string
	SlotWait  time.Duration
	Elapsed   time.Duration
}

// Totals summarizes a query run.
type Totals struct {
	Partitions int
	Rows       int64
	Batches    int64
	Failed     int
	Wall       time.Duration
}

// NewQueryStats creates a new tracker starting its wall clock now.
func NewQueryStats() *QueryStats {
	return &QueryStats{
		started:    time.Now(),
		partitions: make(map[int]*PartitionStats),
	}
}

// RecordPartition records the final statistics of a partition.
// A partition executed more than once accumulates rows and batches; the
// last reported state wins. Safe for concurrent use.
func (q *QueryStats) RecordPartition(ps PartitionStats) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, exists := q.partitions[ps.Partition]
	if !exists {
		cp := ps
		q.partitions[ps.Partition] = &cp
		return
	}
	cur.Rows += ps.Rows
	cur.Batches += ps.Batches
	cur.SlotWait += ps.SlotWait
	cur.Elapsed += ps.Elapsed
	cur.State = ps.State
}

// Partitions returns a copy of the recorded statistics sorted by partition.
func (q *QueryStats) Partitions() []PartitionStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]PartitionStats, 0, len(q.partitions))
	for _, ps := range q.partitions {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

// Slowest returns the n partitions with the longest elapsed time.
func (q *QueryStats) Slowest(n int) []PartitionStats {
	stats := q.Partitions()
	if n <= 0 || len(stats) == 0 {
		return []PartitionStats{}
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Elapsed > stats[j].Elapsed
	})
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Totals summarizes every recorded partition.
func (q *QueryStats) Totals() Totals {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t := Totals{Partitions: len(q.partitions), Wall: time.Since(q.started)}
	for _, ps := range q.partitions {
		t.Rows += ps.Rows
		t.Batches += ps.Batches
		if ps.State == "failed" {
			t.Failed++
		}
	}
	return t
}
