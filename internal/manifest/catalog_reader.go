package manifest

import (
	"context"

	"github.com/arkilian/ipcscan/pkg/types"
)

// CatalogReader is the read-only view of the manifest used when resolving
// tables for a scan. SQLiteCatalog serves reads from its read-only pool.
type CatalogReader interface {
	// GetTable retrieves a table by name.
	GetTable(ctx context.Context, name string) (*TableRecord, error)

	// ListTables returns every registered table ordered by name.
	ListTables(ctx context.Context) ([]*TableRecord, error)

	// ListFiles returns a table's files ordered by object path.
	ListFiles(ctx context.Context, tableName string) ([]*FileRecord, error)

	// TableStatistics sums the statistics of a table's registered files.
	TableStatistics(ctx context.Context, tableName string) (types.Statistics, error)
}

var (
	_ CatalogReader = (*SQLiteCatalog)(nil)
	_ Catalog       = (*SQLiteCatalog)(nil)
)
