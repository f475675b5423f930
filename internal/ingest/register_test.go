package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/ipcscan/internal/manifest"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	mem := memory.NewGoAllocator()

	w := NewTableWriter(store, "events", eventSchema, Options{WorkDir: t.TempDir(), RowsPerFile: 5})
	rec := makeRecord(t, mem, 0, 12)
	require.NoError(t, w.Write(ctx, rec))
	rec.Release()
	files, err := w.Close(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)

	catalog, err := manifest.NewCatalog(filepath.Join(t.TempDir(), "manifest.db"), log.NewNopLogger())
	require.NoError(t, err)
	defer catalog.Close()

	def := manifest.TableRecord{Name: "events", Location: "events", MaxConcurrency: 2}
	require.NoError(t, Register(ctx, catalog, def, files))

	registered, err := catalog.ListFiles(ctx, "events")
	require.NoError(t, err)
	require.Len(t, registered, 3)

	stats, err := catalog.TableStatistics(ctx, "events")
	require.NoError(t, err)
	require.NotNil(t, stats.NumRows)
	assert.Equal(t, int64(12), *stats.NumRows)
	require.Len(t, stats.ColumnStatistics, 2)
	assert.Equal(t, int64(4), *stats.ColumnStatistics[1].NullCount)

	// Registering the same files again conflicts
	err = Register(ctx, catalog, def, files[:1])
	assert.Error(t, err)
}
