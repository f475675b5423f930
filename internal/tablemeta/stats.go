// Package tablemeta encodes and decodes the per-file statistics embedded in
// the schema metadata of Arrow IPC table files.
package tablemeta

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/arkilian/ipcscan/pkg/types"
)

// StatsTracker accumulates row counts, null counts and min/max values over
// the records written to one file.
type StatsTracker struct {
	rowCount int64
	columns  []columnTracker
}

type columnTracker struct {
	nulls int64

	// min/max hold int64, uint64, float64, string or bool; nil until a
	// non-null value is seen
	min any
	max any

	// unsupported is set for types without an ordered value encoding
	unsupported bool
}

// NewStatsTracker creates a tracker for records of the given schema.
func NewStatsTracker(schema *arrow.Schema) *StatsTracker {
	return &StatsTracker{columns: make([]columnTracker, schema.NumFields())}
}

// Update folds one record into the statistics.
func (s *StatsTracker) Update(rec arrow.Record) {
	s.rowCount += rec.NumRows()
	for i, col := range rec.Columns() {
		if i >= len(s.columns) {
			break
		}
		c := &s.columns[i]
		c.nulls += int64(col.NullN())
		if !c.unsupported {
			c.observe(col)
		}
	}
}

// RowCount returns the number of rows tracked.
func (s *StatsTracker) RowCount() int64 {
	return s.rowCount
}

// Statistics returns the exact statistics of everything tracked so far.
// TotalByteSize is left unknown; the file size is only known once written.
func (s *StatsTracker) Statistics() types.Statistics {
	cols := make([]types.ColumnStatistics, len(s.columns))
	for i, c := range s.columns {
		cols[i].NullCount = types.Int64Ptr(c.nulls)
		if !c.unsupported {
			cols[i].Min = c.min
			cols[i].Max = c.max
		}
	}
	return types.Statistics{
		NumRows:          types.Int64Ptr(s.rowCount),
		ColumnStatistics: cols,
		IsExact:          true,
	}
}

func (c *columnTracker) observe(arr arrow.Array) {
	switch a := arr.(type) {
	case *array.Int8:
		observeRange(c, a, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Int16:
		observeRange(c, a, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Int32:
		observeRange(c, a, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Int64:
		observeRange(c, a, a.Value)
	case *array.Uint8:
		observeRange(c, a, func(i int) uint64 { return uint64(a.Value(i)) })
	case *array.Uint16:
		observeRange(c, a, func(i int) uint64 { return uint64(a.Value(i)) })
	case *array.Uint32:
		observeRange(c, a, func(i int) uint64 { return uint64(a.Value(i)) })
	case *array.Uint64:
		observeRange(c, a, a.Value)
	case *array.Float32:
		observeRange(c, a, func(i int) float64 { return float64(a.Value(i)) })
	case *array.Float64:
		observeRange(c, a, a.Value)
	case *array.Date32:
		observeRange(c, a, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Date64:
		observeRange(c, a, func(i int) int64 { return int64(a.Value(i)) })
	case *array.Timestamp:
		observeRange(c, a, func(i int) int64 { return int64(a.Value(i)) })
	case *array.String:
		observeRange(c, a, a.Value)
	case *array.LargeString:
		observeRange(c, a, a.Value)
	case *array.Boolean:
		for i := 0; i < a.Len(); i++ {
			if a.IsNull(i) {
				continue
			}
			v := a.Value(i)
			if c.min == nil || (!v && c.min.(bool)) {
				c.min = v
			}
			if c.max == nil || (v && !c.max.(bool)) {
				c.max = v
			}
		}
	default:
		c.unsupported = true
		c.min, c.max = nil, nil
	}
}

func observeRange[T int64 | uint64 | float64 | string](c *columnTracker, arr arrow.Array, at func(int) T) {
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		v := at(i)
		if v != v {
			// NaN has no place in an ordering
			continue
		}
		if c.min == nil || v < c.min.(T) {
			c.min = v
		}
		if c.max == nil || v > c.max.(T) {
			c.max = v
		}
	}
}
