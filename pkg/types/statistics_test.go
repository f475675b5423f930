package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileStats(rows, size int64, nulls int64, min, max any) Statistics {
	return Statistics{
		NumRows:       Int64Ptr(rows),
		TotalByteSize: Int64Ptr(size),
		ColumnStatistics: []ColumnStatistics{
			{NullCount: Int64Ptr(nulls), Min: min, Max: max},
		},
		IsExact: true,
	}
}

func TestSumStatistics(t *testing.T) {
	got := SumStatistics([]Statistics{
		fileStats(10, 100, 1, int64(5), int64(9)),
		fileStats(10, 100, 0, int64(-3), int64(7)),
		fileStats(4, 40, 2, int64(0), int64(50)),
	})

	require.NotNil(t, got.NumRows)
	assert.Equal(t, int64(24), *got.NumRows)
	assert.Equal(t, int64(240), *got.TotalByteSize)
	assert.True(t, got.IsExact)
	require.Len(t, got.ColumnStatistics, 1)
	assert.Equal(t, int64(3), *got.ColumnStatistics[0].NullCount)
	assert.Equal(t, int64(-3), got.ColumnStatistics[0].Min)
	assert.Equal(t, int64(50), got.ColumnStatistics[0].Max)
}

func TestSumStatistics_Empty(t *testing.T) {
	got := SumStatistics(nil)
	assert.Equal(t, int64(0), *got.NumRows)
	assert.Equal(t, int64(0), *got.TotalByteSize)
	assert.True(t, got.IsExact)
}

func TestSumStatistics_PartiallyKnown(t *testing.T) {
	missingMin := fileStats(2, 20, 0, nil, int64(3))
	noColumns := Statistics{NumRows: Int64Ptr(1), IsExact: true}

	got := SumStatistics([]Statistics{fileStats(1, 10, 0, int64(1), int64(1)), missingMin})
	require.Len(t, got.ColumnStatistics, 1)
	assert.Nil(t, got.ColumnStatistics[0].Min)
	assert.Equal(t, int64(3), got.ColumnStatistics[0].Max)

	got = SumStatistics([]Statistics{fileStats(1, 10, 0, int64(1), int64(1)), noColumns})
	assert.Equal(t, int64(2), *got.NumRows)
	assert.Nil(t, got.TotalByteSize)
	assert.Nil(t, got.ColumnStatistics)

	got = SumStatistics([]Statistics{UnknownStatistics(), UnknownStatistics()})
	assert.True(t, got.IsUnknown())
	assert.False(t, got.IsExact)
}

func TestProject(t *testing.T) {
	s := Statistics{ColumnStatistics: []ColumnStatistics{
		{Min: int64(1)}, {Min: "a"}, {Min: 2.5},
	}}

	got := s.Project([]int{2, 0})
	require.Len(t, got.ColumnStatistics, 2)
	assert.Equal(t, 2.5, got.ColumnStatistics[0].Min)
	assert.Equal(t, int64(1), got.ColumnStatistics[1].Min)

	assert.Len(t, s.Project(nil).ColumnStatistics, 3)
	assert.Nil(t, UnknownStatistics().Project([]int{0}).ColumnStatistics)
}

func TestWithLimit(t *testing.T) {
	s := fileStats(24, 240, 0, int64(0), int64(23))

	tests := []struct {
		name      string
		limit     *int64
		wantRows  *int64
		wantBytes *int64
		wantExact bool
	}{
		{"no limit", nil, Int64Ptr(24), Int64Ptr(240), true},
		{"above rows", Int64Ptr(100), Int64Ptr(24), Int64Ptr(240), true},
		{"equal rows", Int64Ptr(24), Int64Ptr(24), Int64Ptr(240), true},
		{"below rows", Int64Ptr(6), Int64Ptr(6), Int64Ptr(60), false},
		{"zero", Int64Ptr(0), Int64Ptr(0), Int64Ptr(0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.WithLimit(tt.limit)
			assert.Equal(t, tt.wantRows, got.NumRows)
			assert.Equal(t, tt.wantBytes, got.TotalByteSize)
			assert.Equal(t, tt.wantExact, got.IsExact)
		})
	}

	// Unknown input: the limit is only an upper bound
	unknown := UnknownStatistics().WithLimit(Int64Ptr(5))
	require.NotNil(t, unknown.NumRows)
	assert.Equal(t, int64(5), *unknown.NumRows)
	assert.False(t, unknown.IsExact)
	assert.Nil(t, unknown.TotalByteSize)
	assert.True(t, UnknownStatistics().WithLimit(nil).IsUnknown())
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{nil, nil, 0},
		{nil, int64(1), -1},
		{int64(1), nil, 1},
		{int64(1), int64(2), -1},
		{uint64(3), uint64(3), 0},
		{2.5, 1.5, 1},
		{"a", "b", -1},
		{[]byte("b"), []byte("a"), 1},
		{false, true, -1},
		{int64(10), "9", -1},
	}

	for _, tt := range tests {
		if got := CompareValues(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareValues(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFileSlice_String(t *testing.T) {
	f := FileRef{Path: "t/a", NumBatches: 4}
	assert.Equal(t, "t/a", WholeFile(f).String())
	assert.Equal(t, "t/a[1:3]", FileSlice{File: f, FirstBatch: 1, NumBatches: 2}.String())
	assert.True(t, PartitionSpec{}.IsEmpty())
	assert.Equal(t, "unknown(3)", UnknownPartitioning(3).String())
}
