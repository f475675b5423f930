package types

import (
	"bytes"
	"fmt"
)

// Statistics holds optional planning facts about a table, a file or a
// partition. A nil pointer means "unknown"; zero always means a verified
// zero. Statistics are never required for correctness.
type Statistics struct {
	// NumRows is the total row count
	NumRows *int64 `json:"num_rows,omitempty"`

	// TotalByteSize is the total on-disk size in bytes
	TotalByteSize *int64 `json:"total_byte_size,omitempty"`

	// ColumnStatistics holds one entry per schema field, or nil when unknown
	ColumnStatistics []ColumnStatistics `json:"column_statistics,omitempty"`

	// IsExact reports whether the values are exact rather than estimates
	IsExact bool `json:"is_exact"`
}

// ColumnStatistics holds per-column facts. Min and Max hold int64, uint64,
// float64, string or []byte values depending on the column type.
type ColumnStatistics struct {
	NullCount *int64 `json:"null_count,omitempty"`
	Min       any    `json:"min,omitempty"`
	Max       any    `json:"max,omitempty"`
}

// UnknownStatistics returns statistics with every field absent.
func UnknownStatistics() Statistics {
	return Statistics{}
}

// IsUnknown reports whether no statistic at all is present.
func (s Statistics) IsUnknown() bool {
	return s.NumRows == nil && s.TotalByteSize == nil && s.ColumnStatistics == nil
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// SumStatistics combines per-file statistics into table statistics.
// If any input lacks a statistic, that statistic is unknown in the result.
func SumStatistics(parts []Statistics) Statistics {
	if len(parts) == 0 {
		return Statistics{
			NumRows:       Int64Ptr(0),
			TotalByteSize: Int64Ptr(0),
			IsExact:       true,
		}
	}

	out := Statistics{IsExact: true}
	rows, size := int64(0), int64(0)
	rowsKnown, sizeKnown := true, true
	colsKnown := true
	width := len(parts[0].ColumnStatistics)

	for _, p := range parts {
		if p.NumRows == nil {
			rowsKnown = false
		} else {
			rows += *p.NumRows
		}
		if p.TotalByteSize == nil {
			sizeKnown = false
		} else {
			size += *p.TotalByteSize
		}
		if p.ColumnStatistics == nil || len(p.ColumnStatistics) != width {
			colsKnown = false
		}
		out.IsExact = out.IsExact && p.IsExact
	}

	if rowsKnown {
		out.NumRows = Int64Ptr(rows)
	}
	if sizeKnown {
		out.TotalByteSize = Int64Ptr(size)
	}
	if colsKnown && width > 0 {
		out.ColumnStatistics = make([]ColumnStatistics, width)
		for i := range out.ColumnStatistics {
			out.ColumnStatistics[i] = mergeColumn(parts, i)
		}
	}
	if out.IsUnknown() {
		return UnknownStatistics()
	}
	return out
}

func mergeColumn(parts []Statistics, idx int) ColumnStatistics {
	var cs ColumnStatistics
	nulls := int64(0)
	nullsKnown, minKnown, maxKnown := true, true, true

	for i, p := range parts {
		c := p.ColumnStatistics[idx]
		if c.NullCount == nil {
			nullsKnown = false
		} else {
			nulls += *c.NullCount
		}

		if c.Min == nil {
			minKnown = false
		} else if i == 0 || (minKnown && CompareValues(c.Min, cs.Min) < 0) {
			cs.Min = c.Min
		}
		if c.Max == nil {
			maxKnown = false
		} else if i == 0 || (maxKnown && CompareValues(c.Max, cs.Max) > 0) {
			cs.Max = c.Max
		}
	}

	if nullsKnown {
		cs.NullCount = Int64Ptr(nulls)
	}
	if !minKnown {
		cs.Min = nil
	}
	if !maxKnown {
		cs.Max = nil
	}
	return cs
}

// Project returns statistics restricted to the given field indices.
// A nil projection returns s unchanged.
func (s Statistics) Project(projection []int) Statistics {
	if projection == nil || s.ColumnStatistics == nil {
		return s
	}
	out := s
	out.ColumnStatistics = make([]ColumnStatistics, len(projection))
	for i, idx := range projection {
		if idx >= 0 && idx < len(s.ColumnStatistics) {
			out.ColumnStatistics[i] = s.ColumnStatistics[idx]
		}
	}
	return out
}

// WithLimit applies a row limit. Row counts above the limit are capped and
// everything else becomes an estimate since the surviving rows are unknown.
// When the row count was unknown, NumRows becomes the limit itself: an
// inexact upper bound, not an estimate of the rows the input holds.
func (s Statistics) WithLimit(limit *int64) Statistics {
	if limit == nil {
		return s
	}
	if s.NumRows != nil && *s.NumRows <= *limit {
		return s
	}

	out := Statistics{
		NumRows:          Int64Ptr(*limit),
		ColumnStatistics: s.ColumnStatistics,
	}
	if s.NumRows != nil && s.TotalByteSize != nil && *s.NumRows > 0 {
		out.TotalByteSize = Int64Ptr(*s.TotalByteSize * *limit / *s.NumRows)
	}
	return out
}

// String returns a compact representation for plan display.
func (s Statistics) String() string {
	if s.IsUnknown() {
		return "unknown"
	}
	rows, size := "?", "?"
	if s.NumRows != nil {
		rows = fmt.Sprint(*s.NumRows)
	}
	if s.TotalByteSize != nil {
		size = fmt.Sprint(*s.TotalByteSize)
	}
	return fmt.Sprintf("rows=%s bytes=%s exact=%t", rows, size, s.IsExact)
}

// CompareValues orders two statistic values of the same kind.
// NULL sorts first; mismatched kinds fall back to their string forms.
func CompareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	switch va := a.(type) {
	case int64:
		if vb, ok := b.(int64); ok {
			return cmpOrdered(va, vb)
		}
	case uint64:
		if vb, ok := b.(uint64); ok {
			return cmpOrdered(va, vb)
		}
	case float64:
		if vb, ok := b.(float64); ok {
			return cmpOrdered(va, vb)
		}
	case string:
		if vb, ok := b.(string); ok {
			return cmpOrdered(va, vb)
		}
	case []byte:
		if vb, ok := b.([]byte); ok {
			return bytes.Compare(va, vb)
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case va == vb:
				return 0
			case !va:
				return -1
			default:
				return 1
			}
		}
	}

	return cmpOrdered(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func cmpOrdered[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
