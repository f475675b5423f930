package ingest

import (
	"context"
	"fmt"

	"github.com/arkilian/ipcscan/internal/manifest"
)

// Register records a table and the files written to it in the manifest.
// The table is created if needed; an existing identical definition is kept.
func Register(ctx context.Context, catalog manifest.Catalog, def manifest.TableRecord, files []*FileInfo) error {
	if err := catalog.CreateTable(ctx, def); err != nil {
		return err
	}
	for _, f := range files {
		err := catalog.RegisterFile(ctx, def.Name, manifest.FileRecord{
			ObjectPath: f.Path,
			RowCount:   f.RowCount,
			SizeBytes:  f.SizeBytes,
			NumBatches: f.NumBatches,
			Columns:    f.Stats.ColumnStatistics,
			CreatedAt:  f.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("ingest: register %q: %w", f.Path, err)
		}
	}
	return nil
}
