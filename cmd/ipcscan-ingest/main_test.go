package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kit/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/ipcscan/internal/manifest"
	"github.com/arkilian/ipcscan/internal/storage"
	"github.com/arkilian/ipcscan/internal/table"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRun_IngestAndRegister(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("IPCSCAN_DATA_DIR", dataDir)
	t.Setenv("IPCSCAN_INGEST_ROWS_PER_FILE", "3")
	t.Setenv("IPCSCAN_LOG_LEVEL", "warn")

	in := t.TempDir()
	a := writeCSV(t, in, "a.csv", "id,label\n1,x\n2,\n3,z\n")
	b := writeCSV(t, in, "b.csv", "id,label\n4,w\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(),
		[]string{"-table", "events", "-schema", "id:int64,label:string?", "-reconcile", a, b},
		strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "wrote 4 rows in 2 files")
	assert.Contains(t, stdout.String(), "reconciled 2 registered files against 2 objects: 0 dangling, 0 orphaned")

	catalog, err := manifest.NewCatalog(filepath.Join(dataDir, "manifest.db"), log.NewNopLogger())
	require.NoError(t, err)
	defer catalog.Close()

	files, err := catalog.ListFiles(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, files, 2)

	store, err := storage.NewLocalStorage(filepath.Join(dataDir, "storage"))
	require.NoError(t, err)
	h, err := table.Resolve(context.Background(), catalog, store, "events")
	require.NoError(t, err)
	require.NotNil(t, h.Statistics().NumRows)
	assert.Equal(t, int64(4), *h.Statistics().NumRows)
	assert.Equal(t, "label", h.Schema().Field(1).Name)
	assert.True(t, h.Schema().Field(1).Nullable)

	// Registration refreshes the manifest's planner statistics
	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "manifest.db"))
	require.NoError(t, err)
	defer db.Close()
	var analyzed int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_stat1").Scan(&analyzed))
	assert.Positive(t, analyzed)
}

func TestRun_InferredFromStdin(t *testing.T) {
	t.Setenv("IPCSCAN_DATA_DIR", t.TempDir())
	t.Setenv("IPCSCAN_LOG_LEVEL", "warn")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(),
		[]string{"-table", "nums", "-no-register", "-"},
		strings.NewReader("n,f\n1,1.5\n2,2.5\n"), &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "wrote 2 rows in 1 files")
}

func TestRun_Errors(t *testing.T) {
	t.Setenv("IPCSCAN_DATA_DIR", t.TempDir())
	in := t.TempDir()
	empty := writeCSV(t, in, "empty.csv", "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing table", []string{"x.csv"}, "-table is required"},
		{"missing inputs", []string{"-table", "t"}, "at least one CSV input"},
		{"bad delimiter", []string{"-table", "t", "-delimiter", ";;", "x.csv"}, "single character"},
		{"bad schema", []string{"-table", "t", "-schema", "id:nope", "x.csv"}, "invalid -schema"},
		{"reconcile without register", []string{"-table", "t", "-no-register", "-reconcile", "x.csv"}, "requires registration"},
		{"no rows", []string{"-table", "t", empty}, "no rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), tt.args, strings.NewReader(""), &stdout, &stderr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
