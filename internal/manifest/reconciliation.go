package manifest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arkilian/ipcscan/internal/storage"
)

// ReconciliationReport contains the results of a manifest-storage reconciliation.
type ReconciliationReport struct {
	Table string
	// DanglingFiles are registered object paths missing from storage.
	DanglingFiles []string
	// OrphanedObjects are member files under the table location that are not registered.
	OrphanedObjects []string
	// TotalManifestFiles is the number of registered files checked.
	TotalManifestFiles int
	// TotalStorageObjects is the number of member files found under the location.
	TotalStorageObjects int
	RunAt               time.Time
}

// HasIssues returns true if the report contains any dangling or orphaned files.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.DanglingFiles) > 0 || len(r.OrphanedObjects) > 0
}

// Reconcile checks that a table's registered files match the member files
// stored under its location. Only objects carrying the table's file
// extension count as members.
func Reconcile(ctx context.Context, catalog Catalog, store storage.ObjectStorage, tableName string) (*ReconciliationReport, error) {
	table, err := catalog.GetTable(ctx, tableName)
	if err != nil {
		return nil, err
	}
	files, err := catalog.ListFiles(ctx, tableName)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list manifest files: %w", err)
	}

	report := &ReconciliationReport{
		Table:              tableName,
		TotalManifestFiles: len(files),
		RunAt:              time.Now(),
	}

	registered := make(map[string]struct{}, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		registered[f.ObjectPath] = struct{}{}

		exists, err := storage.Exists(ctx, store, f.ObjectPath)
		if err != nil {
			return nil, fmt.Errorf("reconciliation: failed to check object %s: %w", f.ObjectPath, err)
		}
		if !exists {
			report.DanglingFiles = append(report.DanglingFiles, f.ObjectPath)
		}
	}

	objects, err := store.List(ctx, strings.TrimSuffix(table.Location, "/")+"/")
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list storage objects: %w", err)
	}
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Path, table.FileExtension) {
			continue
		}
		report.TotalStorageObjects++
		if _, ok := registered[obj.Path]; !ok {
			report.OrphanedObjects = append(report.OrphanedObjects, obj.Path)
		}
	}

	return report, nil
}
