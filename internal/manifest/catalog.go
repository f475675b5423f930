package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/logging"
	"github.com/arkilian/ipcscan/internal/tablemeta"
	"github.com/arkilian/ipcscan/pkg/types"
)

// Catalog manages table and file metadata in manifest.db.
type Catalog interface {
	CatalogReader

	// CreateTable registers a logical table name.
	CreateTable(ctx context.Context, def TableRecord) error

	// DropTable removes a table and its file records. Stored objects are untouched.
	DropTable(ctx context.Context, name string) error

	// RegisterFile records a file written to a table.
	RegisterFile(ctx context.Context, tableName string, file FileRecord) error

	// Close closes the catalog database connection.
	Close() error
}

// TableRecord represents a registered table.
type TableRecord struct {
	Name           string
	Location       string
	FileExtension  string
	MaxConcurrency int
	CreatedAt      time.Time
}

// FileRecord represents one registered table file.
type FileRecord struct {
	ObjectPath string
	RowCount   int64
	SizeBytes  int64
	NumBatches int
	Columns    []types.ColumnStatistics
	CreatedAt  time.Time
}

// Statistics returns the file's statistics.
func (f *FileRecord) Statistics() types.Statistics {
	return types.Statistics{
		NumRows:          types.Int64Ptr(f.RowCount),
		TotalByteSize:    types.Int64Ptr(f.SizeBytes),
		ColumnStatistics: f.Columns,
		IsExact:          true,
	}
}

// storedColumn is the serialized form of one column's statistics.
type storedColumn struct {
	NullCount *int64                `json:"n,omitempty"`
	Min       *tablemeta.TypedValue `json:"min,omitempty"`
	Max       *tablemeta.TypedValue `json:"max,omitempty"`
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)
	logger log.Logger

	insertFileStmt *sql.Stmt
}

// NewCatalog creates a new SQLite-based catalog.
func NewCatalog(dbPath string, logger log.Logger) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{
		db:     db,
		dbPath: dbPath,
		logger: logging.OrNop(logger),
	}

	// Schema must exist before a read-only connection can open the file
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT INTO files (
			object_path, table_name, row_count, size_bytes, num_batches, column_stats, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to prepare insert statement: %w", err)
	}
	catalog.insertFileStmt = insertStmt

	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// CreateTable registers a table. Re-registering an identical definition is
// a no-op; a conflicting one fails with WRITE_CONFLICT.
func (c *SQLiteCatalog) CreateTable(ctx context.Context, def TableRecord) error {
	if def.Name == "" || def.Location == "" {
		return ipcerrors.NewValidationError(ipcerrors.CodeInvalidSchema, "table name and location are required")
	}
	if def.MaxConcurrency <= 0 {
		return ipcerrors.NewValidationError(ipcerrors.CodeInvalidSchema,
			fmt.Sprintf("table %q: max_concurrency must be > 0", def.Name))
	}
	if def.FileExtension == "" {
		def.FileExtension = ".arrow_file"
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.getTable(ctx, c.db, def.Name)
	if err == nil {
		if existing.Location == def.Location && existing.FileExtension == def.FileExtension &&
			existing.MaxConcurrency == def.MaxConcurrency {
			return nil
		}
		return ipcerrors.NewManifestError(ipcerrors.CodeWriteConflict,
			fmt.Sprintf("table %q already registered at %q", def.Name, existing.Location), nil)
	}
	if ipcerrors.GetCode(err) != ipcerrors.CodeTableNotFound {
		return err
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT INTO tables (name, location, file_extension, max_concurrency, created_at) VALUES (?, ?, ?, ?, ?)",
		def.Name, def.Location, def.FileExtension, def.MaxConcurrency, def.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to insert table: %w", err)
	}

	level.Info(c.logger).Log("msg", "registered table", "table", def.Name, "location", def.Location)
	return nil
}

// GetTable retrieves a table by name.
func (c *SQLiteCatalog) GetTable(ctx context.Context, name string) (*TableRecord, error) {
	return c.getTable(ctx, c.readDB, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *SQLiteCatalog) getTable(ctx context.Context, q queryer, name string) (*TableRecord, error) {
	row := q.QueryRowContext(ctx,
		"SELECT name, location, file_extension, max_concurrency, created_at FROM tables WHERE name = ?",
		name,
	)

	var rec TableRecord
	var createdAtUnix int64
	err := row.Scan(&rec.Name, &rec.Location, &rec.FileExtension, &rec.MaxConcurrency, &createdAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ipcerrors.NewManifestError(ipcerrors.CodeTableNotFound,
				fmt.Sprintf("table %q not found", name), nil)
		}
		return nil, fmt.Errorf("manifest: failed to scan table: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAtUnix, 0)
	return &rec, nil
}

// ListTables returns every registered table ordered by name.
func (c *SQLiteCatalog) ListTables(ctx context.Context) ([]*TableRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT name, location, file_extension, max_concurrency, created_at FROM tables ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list tables: %w", err)
	}
	defer rows.Close()

	var out []*TableRecord
	for rows.Next() {
		var rec TableRecord
		var createdAtUnix int64
		if err := rows.Scan(&rec.Name, &rec.Location, &rec.FileExtension, &rec.MaxConcurrency, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan table: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// DropTable removes a table and its file records.
func (c *SQLiteCatalog) DropTable(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifest: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE table_name = ?", name); err != nil {
		return fmt.Errorf("manifest: failed to delete files: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM tables WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("manifest: failed to delete table: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ipcerrors.NewManifestError(ipcerrors.CodeTableNotFound,
			fmt.Sprintf("table %q not found", name), nil)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifest: failed to commit transaction: %w", err)
	}
	return nil
}

// RegisterFile records a file written to a table.
func (c *SQLiteCatalog) RegisterFile(ctx context.Context, tableName string, file FileRecord) error {
	blob, err := encodeColumns(file.Columns)
	if err != nil {
		return err
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.getTable(ctx, c.db, tableName); err != nil {
		return err
	}

	_, err = c.insertFileStmt.ExecContext(ctx,
		file.ObjectPath, tableName, file.RowCount, file.SizeBytes, file.NumBatches, blob, file.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ipcerrors.NewManifestError(ipcerrors.CodeWriteConflict,
				fmt.Sprintf("file %q already registered", file.ObjectPath), err)
		}
		return fmt.Errorf("manifest: failed to insert file: %w", err)
	}

	c.logFileCountThreshold(ctx, tableName)
	return nil
}

// ListFiles returns a table's files ordered by object path.
func (c *SQLiteCatalog) ListFiles(ctx context.Context, tableName string) ([]*FileRecord, error) {
	if _, err := c.GetTable(ctx, tableName); err != nil {
		return nil, err
	}

	rows, err := c.readDB.QueryContext(ctx, `
		SELECT object_path, row_count, size_bytes, num_batches, column_stats, created_at
		FROM files WHERE table_name = ? ORDER BY object_path`, tableName)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list files: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		var rec FileRecord
		var blob []byte
		var createdAtUnix int64
		if err := rows.Scan(&rec.ObjectPath, &rec.RowCount, &rec.SizeBytes, &rec.NumBatches, &blob, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan file: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		rec.Columns, err = decodeColumns(blob)
		if err != nil {
			level.Warn(c.logger).Log("msg", "dropping unreadable column statistics", "path", rec.ObjectPath, "err", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// TableStatistics sums the statistics of a table's registered files.
func (c *SQLiteCatalog) TableStatistics(ctx context.Context, tableName string) (types.Statistics, error) {
	files, err := c.ListFiles(ctx, tableName)
	if err != nil {
		return types.UnknownStatistics(), err
	}
	parts := make([]types.Statistics, len(files))
	for i, f := range files {
		parts[i] = f.Statistics()
	}
	return types.SumStatistics(parts), nil
}

// RunAnalyze runs ANALYZE to update SQLite query planner statistics.
func (c *SQLiteCatalog) RunAnalyze(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, AnalyzeSQL); err != nil {
		return fmt.Errorf("manifest: failed to run ANALYZE: %w", err)
	}
	return nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertFileStmt != nil {
		c.insertFileStmt.Close()
	}
	// Close read connection first, then write connection
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

// fileCountThresholds defines the per-table file counts at which warnings are emitted.
var fileCountThresholds = []int64{100000, 10000}

// logFileCountThreshold warns when a table's file count crosses a threshold,
// since opening a table reads every file footer. Must be called with c.mu held.
func (c *SQLiteCatalog) logFileCountThreshold(ctx context.Context, tableName string) {
	var count int64
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE table_name = ?", tableName).Scan(&count)
	if err != nil {
		return // best-effort; don't fail the write path
	}
	for _, threshold := range fileCountThresholds {
		if count == threshold {
			level.Warn(c.logger).Log("msg", "table file count crossed threshold; consider fewer, larger files",
				"table", tableName, "files", count)
			return
		}
	}
}

func encodeColumns(cols []types.ColumnStatistics) ([]byte, error) {
	if cols == nil {
		return nil, nil
	}
	stored := make([]storedColumn, len(cols))
	for i, cs := range cols {
		stored[i] = storedColumn{
			NullCount: cs.NullCount,
			Min:       tablemeta.NewTypedValue(cs.Min),
			Max:       tablemeta.NewTypedValue(cs.Max),
		}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to encode column statistics: %w", err)
	}
	return snappy.Encode(nil, data), nil
}

func decodeColumns(blob []byte) ([]types.ColumnStatistics, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	data, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	var stored []storedColumn
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	cols := make([]types.ColumnStatistics, len(stored))
	for i, sc := range stored {
		cols[i] = types.ColumnStatistics{
			NullCount: sc.NullCount,
			Min:       sc.Min.Decode(),
			Max:       sc.Max.Decode(),
		}
	}
	return cols, nil
}
