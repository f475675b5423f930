// Package ingesttest writes small IPC tables for tests.
package ingesttest

import (
	"context"
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/ipcscan/internal/ingest"
	"github.com/arkilian/ipcscan/internal/storage"
)

// Schema is the fixture schema: a dense id, a nullable label and a score.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "label", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// Record builds a fixture record with ids [start, start+n). Every fifth
// label is null.
func Record(mem memory.Allocator, start, n int64) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	ids := b.Field(0).(*array.Int64Builder)
	labels := b.Field(1).(*array.StringBuilder)
	scores := b.Field(2).(*array.Float64Builder)
	for i := start; i < start+n; i++ {
		ids.Append(i)
		if i%5 == 0 {
			labels.AppendNull()
		} else {
			labels.Append(fmt.Sprintf("row-%d", i))
		}
		scores.Append(float64(i) / 2)
	}
	return b.NewRecord()
}

// WriteTable writes one file per entry of rowsPerFile under location,
// named part-000, part-001, ... so path order is write order. Ids are
// contiguous across files starting at 0.
func WriteTable(t testing.TB, store storage.ObjectStorage, location string, rowsPerFile []int64, rowsPerBatch int64) []*ingest.FileInfo {
	t.Helper()

	var (
		infos []*ingest.FileInfo
		next  int64
	)
	for i, n := range rowsPerFile {
		rec := Record(memory.DefaultAllocator, next, n)
		next += n

		objectPath := ingest.JoinPath(location, fmt.Sprintf("part-%03d%s", i, ingest.DefaultFileExtension))
		info, err := ingest.WriteFile(context.Background(), store, objectPath, Schema, []arrow.Record{rec}, ingest.Options{
			WorkDir:      t.TempDir(),
			RowsPerBatch: rowsPerBatch,
		})
		rec.Release()
		require.NoError(t, err)
		infos = append(infos, info)
	}
	return infos
}

// IDs collects the id column of records in order.
func IDs(records []arrow.Record) []int64 {
	var out []int64
	for _, rec := range records {
		col := rec.Column(0).(*array.Int64)
		for i := 0; i < col.Len(); i++ {
			out = append(out, col.Value(i))
		}
	}
	return out
}

// Rows sums the row counts of records.
func Rows(records []arrow.Record) int64 {
	var n int64
	for _, rec := range records {
		n += rec.NumRows()
	}
	return n
}
