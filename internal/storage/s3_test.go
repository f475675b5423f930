package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/ipcscan/internal/storage/s3test"
)

func newS3(t *testing.T) (*S3Storage, *s3test.Server) {
	t.Helper()
	srv := s3test.NewServer(t, "tables")
	return NewS3StorageWithClient(srv.Client(), "tables", DefaultS3Config()), srv
}

func TestS3Storage_UploadStatListDelete(t *testing.T) {
	store, srv := newS3(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a.arrow_file")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0644))
	require.NoError(t, store.Upload(ctx, src, "t/a.arrow_file"))
	srv.Put("t/b.arrow_file", []byte("xy"))
	srv.Put("u/c.arrow_file", []byte("z"))

	body, ok := srv.Object("t/a.arrow_file")
	require.True(t, ok)
	assert.Equal(t, "0123456789", string(body))

	info, err := store.Stat(ctx, "t/a.arrow_file")
	require.NoError(t, err)
	assert.Equal(t, ObjectInfo{Path: "t/a.arrow_file", Size: 10}, info)

	_, err = store.Stat(ctx, "t/missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	objects, err := store.List(ctx, "t/")
	require.NoError(t, err)
	assert.Equal(t, []ObjectInfo{
		{Path: "t/a.arrow_file", Size: 10},
		{Path: "t/b.arrow_file", Size: 2},
	}, objects)

	require.NoError(t, store.Delete(ctx, "t/a.arrow_file"))
	exists, err := Exists(ctx, store, "t/a.arrow_file")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3Object_ReadAtRanges(t *testing.T) {
	store, srv := newS3(t)
	srv.Put("obj", []byte("0123456789"))

	obj, err := store.Open(context.Background(), "obj")
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, int64(10), obj.Size())

	tests := []struct {
		name    string
		off     int64
		n       int
		want    string
		wantErr error
	}{
		{"head", 0, 4, "0123", nil},
		{"middle", 3, 2, "34", nil},
		{"tail", 6, 4, "6789", nil},
		{"past end", 8, 4, "89", io.EOF},
		{"at end", 10, 4, "", io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.n)
			n, err := obj.ReadAt(buf, tt.off)
			assert.Equal(t, tt.want, string(buf[:n]))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	// Reads past the end are clamped to the last byte, and reads at the
	// end never reach the server
	assert.Equal(t, []string{"bytes=0-3", "bytes=3-4", "bytes=6-9", "bytes=8-9"}, srv.Ranges())

	end, err := obj.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(7), end)
	rest, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "789", string(rest))

	_, err = obj.ReadAt(make([]byte, 1), -1)
	assert.Error(t, err)
}

func TestS3Storage_OpenMissing(t *testing.T) {
	store, srv := newS3(t)
	srv.Put("obj", []byte("abc"))

	_, err := store.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	// Deleted between Open and the first ranged read
	obj, err := store.Open(context.Background(), "obj")
	require.NoError(t, err)
	require.NoError(t, store.Delete(context.Background(), "obj"))
	_, err = obj.ReadAt(make([]byte, 2), 0)
	assert.True(t, errors.Is(err, ErrObjectNotFound), "got %v", err)
}

func TestS3Object_RequestsUseOpenContext(t *testing.T) {
	store, srv := newS3(t)
	srv.Put("obj", []byte("0123456789"))

	ctx, cancel := context.WithCancel(context.Background())
	obj, err := store.Open(ctx, "obj")
	require.NoError(t, err)

	_, err = obj.ReadAt(make([]byte, 4), 0)
	require.NoError(t, err)

	cancel()
	_, err = obj.ReadAt(make([]byte, 4), 4)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Contains(t, err.Error(), "context canceled")
}
