package table

import (
	"context"
	"errors"
	"io/fs"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/storage"
)

// Reader is an open IPC file: the storage handle plus the decoder built on
// its footer. Only the footer is read at open time.
type Reader struct {
	path string
	obj  storage.Object
	ipc  *ipc.FileReader
}

// OpenReader opens path and parses its IPC footer.
func OpenReader(ctx context.Context, store storage.ObjectStorage, path string, mem memory.Allocator) (*Reader, error) {
	obj, err := store.Open(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ipcerrors.PathNotFound(path, err)
		}
		return nil, ipcerrors.IO(path, err)
	}

	if mem == nil {
		mem = memory.DefaultAllocator
	}
	r, err := ipc.NewFileReader(obj, ipc.WithAllocator(mem))
	if err != nil {
		obj.Close()
		return nil, classify(path, err)
	}
	return &Reader{path: path, obj: obj, ipc: r}, nil
}

// Path returns the object path.
func (r *Reader) Path() string { return r.path }

// Size returns the object size in bytes.
func (r *Reader) Size() int64 { return r.obj.Size() }

// Schema returns the schema stored in the footer, metadata included.
func (r *Reader) Schema() *arrow.Schema { return r.ipc.Schema() }

// NumBatches returns the number of record batches in the file.
func (r *Reader) NumBatches() int { return r.ipc.NumRecords() }

// Batch decodes record batch i. The caller owns the returned record.
func (r *Reader) Batch(i int) (arrow.Record, error) {
	rec, err := r.ipc.RecordAt(i)
	if err != nil {
		return nil, classify(r.path, err)
	}
	return rec, nil
}

// Close releases the decoder and the storage handle.
func (r *Reader) Close() error {
	err := r.ipc.Close()
	if cerr := r.obj.Close(); err == nil {
		err = cerr
	}
	return err
}

// classify maps a decoder failure to IO_ERROR when the underlying read
// failed and DECODE_ERROR when the bytes were readable but malformed.
func classify(path string, err error) error {
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &pathErr),
		errors.Is(err, storage.ErrDownloadFailed),
		errors.Is(err, storage.ErrObjectNotFound):
		return ipcerrors.IO(path, err)
	default:
		return ipcerrors.Decode(path, err)
	}
}
