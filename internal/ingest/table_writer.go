package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/storage"
	"github.com/arkilian/ipcscan/internal/tablemeta"
)

// TableWriter appends record batches to a table location, rolling to a new
// file every RowsPerFile rows. Rows are buffered until a file is complete
// because a file's statistics must be known before its schema is written.
type TableWriter struct {
	store    storage.ObjectStorage
	location string
	schema   *arrow.Schema
	opts     Options

	mu          sync.Mutex
	pending     []arrow.Record
	pendingRows int64
	written     []*FileInfo
	closed      bool
}

// NewTableWriter creates a writer for the table stored under location.
func NewTableWriter(store storage.ObjectStorage, location string, schema *arrow.Schema, opts Options) *TableWriter {
	return &TableWriter{
		store:    store,
		location: location,
		schema:   tablemeta.StripStatistics(schema),
		opts:     opts.withDefaults(),
	}
}

// Write buffers rec, flushing complete files as RowsPerFile is reached.
// The writer retains what it needs; the caller keeps ownership of rec.
func (w *TableWriter) Write(ctx context.Context, rec arrow.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("ingest: table writer is closed")
	}
	if diffs := tablemeta.CompareFields(w.schema.Fields(), rec.Schema().Fields()); len(diffs) > 0 {
		return ipcerrors.NewValidationError(ipcerrors.CodeInvalidSchema, diffs.Error())
	}

	limit := w.opts.RowsPerFile
	for offset := int64(0); offset < rec.NumRows(); {
		take := rec.NumRows() - offset
		if limit > 0 && w.pendingRows+take > limit {
			take = limit - w.pendingRows
		}

		var part arrow.Record
		if offset == 0 && take == rec.NumRows() {
			rec.Retain()
			part = rec
		} else {
			part = rec.NewSlice(offset, offset+take)
		}
		w.pending = append(w.pending, part)
		w.pendingRows += take
		offset += take

		if limit > 0 && w.pendingRows >= limit {
			if err := w.flushLocked(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes buffered rows as a file, if there are any.
func (w *TableWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *TableWriter) flushLocked(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	pending := w.pending
	w.pending, w.pendingRows = nil, 0
	defer releaseAll(pending)

	objectPath := JoinPath(w.location, NewFileName(w.opts.FileExtension))
	info, err := WriteFile(ctx, w.store, objectPath, w.schema, pending, w.opts)
	if err != nil {
		return err
	}
	w.written = append(w.written, info)

	level.Info(w.opts.Logger).Log("msg", "flushed table file", "location", w.location,
		"path", info.Path, "rows", info.RowCount)
	return nil
}

// Close flushes remaining rows and returns every file written.
func (w *TableWriter) Close(ctx context.Context) ([]*FileInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.written, nil
	}
	w.closed = true

	if err := w.flushLocked(ctx); err != nil {
		return w.written, err
	}
	return w.written, nil
}

// Abort releases buffered rows without writing them.
func (w *TableWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	releaseAll(w.pending)
	w.pending, w.pendingRows = nil, 0
	w.closed = true
}
