// Package storage provides object storage abstractions for table files.
package storage

import (
	"context"
	"errors"
	"io"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed") // a ranged read failed
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	// Path is the object path relative to the storage root.
	Path string
	// Size is the object size in bytes.
	Size int64
}

// Object is a readable handle to one stored object. It satisfies the
// random-access reader the Arrow IPC file reader needs: footers and record
// blocks are read with ReadAt, and Seek(0, io.SeekEnd) reports the size.
type Object interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer

	// Size returns the object size in bytes.
	Size() int64
}

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload uploads a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Stat returns the object's info, or ErrObjectNotFound.
	Stat(ctx context.Context, objectPath string) (ObjectInfo, error)

	// List returns every object under prefix, sorted by path.
	// A prefix with no objects yields an empty list, not an error.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Open returns a readable handle to an object, or ErrObjectNotFound.
	// The handle must be closed by the caller. Reads through it may be
	// bound to ctx, so ctx must outlive the handle.
	Open(ctx context.Context, objectPath string) (Object, error)
}

// Exists reports whether objectPath names a stored object.
func Exists(ctx context.Context, store ObjectStorage, objectPath string) (bool, error) {
	_, err := store.Stat(ctx, objectPath)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
