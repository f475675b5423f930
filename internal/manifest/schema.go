// Package manifest provides the catalog that maps logical table names to
// storage locations and records the files written to each table.
package manifest

// CreateTablesTableSQL creates the table registry.
const CreateTablesTableSQL = `
CREATE TABLE IF NOT EXISTS tables (
    name TEXT PRIMARY KEY,
    location TEXT NOT NULL,
    file_extension TEXT NOT NULL,
    max_concurrency INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateFilesTableSQL creates the file registry. column_stats holds the
// snappy-compressed JSON column statistics of the file.
const CreateFilesTableSQL = `
CREATE TABLE IF NOT EXISTS files (
    object_path TEXT PRIMARY KEY,
    table_name TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    num_batches INTEGER NOT NULL,
    column_stats BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (table_name) REFERENCES tables(name) ON DELETE CASCADE
)`

// CreateFilesIndexesSQL creates indexes for per-table file listing.
var CreateFilesIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_files_table ON files(table_name, object_path)`,
}

// AnalyzeSQL runs ANALYZE to keep the SQLite query planner informed about index statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateTablesTableSQL,
		CreateFilesTableSQL,
	}
	statements = append(statements, CreateFilesIndexesSQL...)
	return statements
}
