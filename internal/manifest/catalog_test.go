package manifest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/pkg/types"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "manifest.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func TestCatalog_CreateAndGetTable(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	def := TableRecord{Name: "events", Location: "tables/events", MaxConcurrency: 4}
	require.NoError(t, catalog.CreateTable(ctx, def))

	got, err := catalog.GetTable(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, "tables/events", got.Location)
	assert.Equal(t, ".arrow_file", got.FileExtension)
	assert.Equal(t, 4, got.MaxConcurrency)
	assert.False(t, got.CreatedAt.IsZero())

	// Identical re-registration is accepted
	require.NoError(t, catalog.CreateTable(ctx, def))

	def.Location = "tables/elsewhere"
	err = catalog.CreateTable(ctx, def)
	require.Error(t, err)
	assert.Equal(t, ipcerrors.CodeWriteConflict, ipcerrors.GetCode(err))
}

func TestCatalog_CreateTableRejectsInvalid(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	tests := []struct {
		name string
		def  TableRecord
	}{
		{"missing name", TableRecord{Location: "x", MaxConcurrency: 1}},
		{"missing location", TableRecord{Name: "x", MaxConcurrency: 1}},
		{"zero concurrency", TableRecord{Name: "x", Location: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := catalog.CreateTable(ctx, tt.def)
			require.Error(t, err)
			assert.Equal(t, ipcerrors.ErrCategoryValidation, ipcerrors.GetCategory(err))
		})
	}
}

func TestCatalog_GetTableNotFound(t *testing.T) {
	catalog := newTestCatalog(t)

	_, err := catalog.GetTable(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ipcerrors.ErrTableNotFound)
}

func TestCatalog_RegisterAndListFiles(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.CreateTable(ctx, TableRecord{Name: "events", Location: "tables/events", MaxConcurrency: 2}))

	files := []FileRecord{
		{
			ObjectPath: "tables/events/part-b.arrow_file",
			RowCount:   4,
			SizeBytes:  300,
			NumBatches: 1,
			Columns: []types.ColumnStatistics{
				{NullCount: types.Int64Ptr(0), Min: int64(20), Max: int64(23)},
				{NullCount: types.Int64Ptr(1), Min: "apple", Max: "pear"},
			},
		},
		{
			ObjectPath: "tables/events/part-a.arrow_file",
			RowCount:   10,
			SizeBytes:  700,
			NumBatches: 2,
			Columns: []types.ColumnStatistics{
				{NullCount: types.Int64Ptr(0), Min: int64(0), Max: int64(9)},
				{NullCount: types.Int64Ptr(2), Min: "banana", Max: "zucchini"},
			},
		},
	}
	for _, f := range files {
		require.NoError(t, catalog.RegisterFile(ctx, "events", f))
	}

	got, err := catalog.ListFiles(ctx, "events")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tables/events/part-a.arrow_file", got[0].ObjectPath)
	assert.Equal(t, int64(10), got[0].RowCount)
	assert.Equal(t, 2, got[0].NumBatches)
	require.Len(t, got[0].Columns, 2)
	assert.Equal(t, int64(0), got[0].Columns[0].Min)
	assert.Equal(t, "zucchini", got[0].Columns[1].Max)

	err = catalog.RegisterFile(ctx, "events", files[0])
	require.Error(t, err)
	assert.Equal(t, ipcerrors.CodeWriteConflict, ipcerrors.GetCode(err))

	err = catalog.RegisterFile(ctx, "missing", files[0])
	assert.ErrorIs(t, err, ipcerrors.ErrTableNotFound)
}

func TestCatalog_TableStatistics(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.CreateTable(ctx, TableRecord{Name: "t", Location: "t", MaxConcurrency: 1}))
	require.NoError(t, catalog.RegisterFile(ctx, "t", FileRecord{
		ObjectPath: "t/1.arrow_file", RowCount: 10, SizeBytes: 100, NumBatches: 1,
		Columns: []types.ColumnStatistics{{NullCount: types.Int64Ptr(1), Min: int64(5), Max: int64(50)}},
	}))
	require.NoError(t, catalog.RegisterFile(ctx, "t", FileRecord{
		ObjectPath: "t/2.arrow_file", RowCount: 14, SizeBytes: 140, NumBatches: 2,
		Columns: []types.ColumnStatistics{{NullCount: types.Int64Ptr(2), Min: int64(-3), Max: int64(7)}},
	}))

	stats, err := catalog.TableStatistics(ctx, "t")
	require.NoError(t, err)
	require.NotNil(t, stats.NumRows)
	assert.Equal(t, int64(24), *stats.NumRows)
	assert.Equal(t, int64(240), *stats.TotalByteSize)
	assert.True(t, stats.IsExact)
	require.Len(t, stats.ColumnStatistics, 1)
	assert.Equal(t, int64(3), *stats.ColumnStatistics[0].NullCount)
	assert.Equal(t, int64(-3), stats.ColumnStatistics[0].Min)
	assert.Equal(t, int64(50), stats.ColumnStatistics[0].Max)
}

func TestCatalog_DropTable(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.CreateTable(ctx, TableRecord{Name: "a", Location: "a", MaxConcurrency: 1}))
	require.NoError(t, catalog.CreateTable(ctx, TableRecord{Name: "b", Location: "b", MaxConcurrency: 1}))
	require.NoError(t, catalog.RegisterFile(ctx, "a", FileRecord{ObjectPath: "a/1.arrow_file", RowCount: 1}))

	require.NoError(t, catalog.DropTable(ctx, "a"))

	tables, err := catalog.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "b", tables[0].Name)

	_, err = catalog.ListFiles(ctx, "a")
	assert.ErrorIs(t, err, ipcerrors.ErrTableNotFound)

	assert.ErrorIs(t, catalog.DropTable(ctx, "a"), ipcerrors.ErrTableNotFound)
	require.NoError(t, catalog.RunAnalyze(ctx))
}

func TestColumnCodec_NilAndUnknown(t *testing.T) {
	blob, err := encodeColumns(nil)
	require.NoError(t, err)
	assert.Nil(t, blob)

	cols, err := decodeColumns(nil)
	require.NoError(t, err)
	assert.Nil(t, cols)

	blob, err = encodeColumns([]types.ColumnStatistics{{}})
	require.NoError(t, err)
	cols, err = decodeColumns(blob)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Nil(t, cols[0].NullCount)
	assert.Nil(t, cols[0].Min)

	_, err = decodeColumns([]byte("not snappy"))
	assert.Error(t, err)
}
