// Package ingest writes Arrow record batches into table files: Arrow IPC
// file format objects whose footer schema embeds the file's statistics.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/logging"
	"github.com/arkilian/ipcscan/internal/storage"
	"github.com/arkilian/ipcscan/internal/tablemeta"
	"github.com/arkilian/ipcscan/pkg/types"
)

// DefaultFileExtension is the extension of table files.
const DefaultFileExtension = ".arrow_file"

// Compression selects the IPC body compression codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// Options configures file writing.
type Options struct {
	// WorkDir stages files before upload; defaults to os.TempDir()
	WorkDir string

	// RowsPerFile caps the rows of one file; 0 means unbounded
	RowsPerFile int64

	// RowsPerBatch caps the rows of one record batch; 0 keeps input batches
	RowsPerBatch int64

	// Compression of record batch bodies
	Compression Compression

	// FileExtension of written objects; defaults to DefaultFileExtension
	FileExtension string

	Allocator memory.Allocator
	Logger    log.Logger
}

func (o Options) withDefaults() Options {
	if o.WorkDir == "" {
		o.WorkDir = os.TempDir()
	}
	if o.Compression == "" {
		o.Compression = CompressionNone
	}
	if o.FileExtension == "" {
		o.FileExtension = DefaultFileExtension
	}
	if o.Allocator == nil {
		o.Allocator = memory.DefaultAllocator
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// FileInfo contains metadata about a written table file.
type FileInfo struct {
	Path       string
	SizeBytes  int64
	RowCount   int64
	NumBatches int
	Stats      types.Statistics
	CreatedAt  time.Time
}

// FileRef converts the info into the planner's file reference.
func (f FileInfo) FileRef() types.FileRef {
	return types.FileRef{
		Path:       f.Path,
		Size:       f.SizeBytes,
		NumBatches: f.NumBatches,
		Stats:      f.Stats,
	}
}

// WriteFile writes records as one table file at objectPath. Every record
// must match schema's fields; records are written in order, split to
// RowsPerBatch when set.
func WriteFile(ctx context.Context, store storage.ObjectStorage, objectPath string, schema *arrow.Schema, records []arrow.Record, opts Options) (*FileInfo, error) {
	opts = opts.withDefaults()

	if len(records) == 0 {
		return nil, ipcerrors.NewValidationError(ipcerrors.CodeEmptyBatch,
			fmt.Sprintf("cannot write %q without record batches", objectPath))
	}
	for i, rec := range records {
		if diffs := tablemeta.CompareFields(schema.Fields(), rec.Schema().Fields()); len(diffs) > 0 {
			return nil, ipcerrors.NewValidationError(ipcerrors.CodeInvalidSchema,
				fmt.Sprintf("record %d: %v", i, diffs))
		}
	}

	chunks := splitRecords(records, opts.RowsPerBatch)
	defer releaseAll(chunks)

	tracker := tablemeta.NewStatsTracker(schema)
	for _, rec := range chunks {
		tracker.Update(rec)
	}
	stats := tracker.Statistics()

	fileSchema, err := tablemeta.WithStatistics(schema, stats)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("ingest: failed to create work directory: %w", err)
	}
	local, err := os.CreateTemp(opts.WorkDir, "stage-*"+opts.FileExtension)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to create staging file: %w", err)
	}
	localPath := local.Name()
	defer os.Remove(localPath)

	if err := writeIPC(local, fileSchema, chunks, opts); err != nil {
		local.Close()
		return nil, err
	}
	if err := local.Close(); err != nil {
		return nil, fmt.Errorf("ingest: failed to close staging file: %w", err)
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to stat staging file: %w", err)
	}

	if err := store.Upload(ctx, localPath, objectPath); err != nil {
		return nil, ipcerrors.NewStorageError(ipcerrors.CodeUploadFailed,
			fmt.Sprintf("failed to upload %q", objectPath), err)
	}

	stats.TotalByteSize = types.Int64Ptr(fi.Size())
	info := &FileInfo{
		Path:       objectPath,
		SizeBytes:  fi.Size(),
		RowCount:   tracker.RowCount(),
		NumBatches: len(chunks),
		Stats:      stats,
		CreatedAt:  time.Now(),
	}

	level.Debug(opts.Logger).Log("msg", "wrote table file", "path", objectPath,
		"rows", info.RowCount, "batches", info.NumBatches, "bytes", info.SizeBytes)
	return info, nil
}

func writeIPC(f *os.File, schema *arrow.Schema, records []arrow.Record, opts Options) error {
	ipcOpts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(opts.Allocator)}
	switch opts.Compression {
	case CompressionLZ4:
		ipcOpts = append(ipcOpts, ipc.WithLZ4())
	case CompressionZstd:
		ipcOpts = append(ipcOpts, ipc.WithZstd())
	case CompressionNone:
	default:
		return fmt.Errorf("ingest: unknown compression %q", opts.Compression)
	}

	w, err := ipc.NewFileWriter(f, ipcOpts...)
	if err != nil {
		return fmt.Errorf("ingest: failed to create IPC writer: %w", err)
	}

	for _, rec := range records {
		// Rebind columns to the metadata-carrying schema the writer expects
		out := array.NewRecord(schema, rec.Columns(), rec.NumRows())
		err := w.Write(out)
		out.Release()
		if err != nil {
			w.Close()
			return fmt.Errorf("ingest: failed to write record batch: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("ingest: failed to finalize IPC file: %w", err)
	}
	return nil
}

// splitRecords returns retained records of at most maxRows rows each.
func splitRecords(records []arrow.Record, maxRows int64) []arrow.Record {
	var out []arrow.Record
	for _, rec := range records {
		if maxRows <= 0 || rec.NumRows() <= maxRows {
			rec.Retain()
			out = append(out, rec)
			continue
		}
		for start := int64(0); start < rec.NumRows(); start += maxRows {
			end := min(start+maxRows, rec.NumRows())
			out = append(out, rec.NewSlice(start, end))
		}
	}
	return out
}

func releaseAll(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

// NewFileName returns a time-ordered unique file name with ext, so that
// files listed by path sort in write order.
func NewFileName(ext string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "part-" + id.String() + ext
}

// JoinPath joins a table location and a file name into an object path.
func JoinPath(location, name string) string {
	return path.Join(filepath.ToSlash(location), name)
}
