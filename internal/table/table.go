// Package table discovers the Arrow IPC files that make up a table and owns
// the decode-slot budget shared by every scan over it.
package table

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	ipcerrors "github.com/arkilian/ipcscan/internal/errors"
	"github.com/arkilian/ipcscan/internal/logging"
	"github.com/arkilian/ipcscan/internal/manifest"
	"github.com/arkilian/ipcscan/internal/observability"
	"github.com/arkilian/ipcscan/internal/storage"
	"github.com/arkilian/ipcscan/internal/tablemeta"
	"github.com/arkilian/ipcscan/pkg/types"
)

// DefaultFileExtension selects table member files when no option overrides it.
const DefaultFileExtension = ".arrow_file"

// Handle is an opened table. It is immutable after Open apart from the
// decode-slot semaphore.
type Handle struct {
	path           string
	store          storage.ObjectStorage
	schema         *arrow.Schema
	files          []types.FileRef
	stats          types.Statistics
	maxConcurrency int
	ext            string

	slots   *semaphore.Weighted
	inUse   atomic.Int64
	logger  log.Logger
	metrics *observability.ScanMetrics
}

// Option configures Open.
type Option func(*Handle)

// WithFileExtension sets the extension member files must carry.
func WithFileExtension(ext string) Option {
	return func(h *Handle) {
		if ext != "" {
			h.ext = ext
		}
	}
}

// WithLogger sets the logger used for discovery messages.
func WithLogger(logger log.Logger) Option {
	return func(h *Handle) { h.logger = logging.OrNop(logger) }
}

// WithMetrics records footer reads and slot usage.
func WithMetrics(m *observability.ScanMetrics) Option {
	return func(h *Handle) { h.metrics = m }
}

// Open lists the files under tablePath, reads their footers and validates
// that they share one schema. A path naming a single object opens a
// one-file table.
func Open(ctx context.Context, store storage.ObjectStorage, tablePath string, maxConcurrency int, opts ...Option) (*Handle, error) {
	if maxConcurrency <= 0 {
		return nil, ipcerrors.InvalidPlan(fmt.Sprintf("max_concurrency must be > 0, got %d", maxConcurrency))
	}

	h := &Handle{
		path:           tablePath,
		store:          store,
		maxConcurrency: maxConcurrency,
		ext:            DefaultFileExtension,
		logger:         log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	start := time.Now()
	objects, err := h.discover(ctx)
	if err != nil {
		return nil, err
	}

	footers, err := h.readFooters(ctx, objects)
	if err != nil {
		return nil, err
	}

	reference := footers[0].schema
	for _, f := range footers[1:] {
		if mismatches := tablemeta.CompareFields(reference.Fields(), f.schema.Fields()); len(mismatches) > 0 {
			return nil, ipcerrors.SchemaMismatch(f.ref.Path, mismatches.Error())
		}
	}
	h.schema = arrow.NewSchema(reference.Fields(), nil)

	h.files = make([]types.FileRef, len(footers))
	perFile := make([]types.Statistics, len(footers))
	statsKnown := true
	for i, f := range footers {
		h.files[i] = f.ref
		perFile[i] = f.ref.Stats
		if f.ref.Stats.NumRows == nil {
			statsKnown = false
		}
	}
	if statsKnown {
		h.stats = types.SumStatistics(perFile)
	} else {
		h.stats = types.UnknownStatistics()
	}

	h.slots = semaphore.NewWeighted(int64(maxConcurrency))

	var totalSize int64
	for _, f := range h.files {
		totalSize += f.Size
	}
	level.Info(h.logger).Log(
		"msg", "opened table",
		"path", tablePath,
		"files", len(h.files),
		"size", humanize.IBytes(uint64(totalSize)),
		"max_concurrency", maxConcurrency,
		"stats_known", statsKnown,
		"duration", time.Since(start),
	)
	return h, nil
}

// discover returns the member objects of the table in path order.
func (h *Handle) discover(ctx context.Context) ([]storage.ObjectInfo, error) {
	info, err := h.store.Stat(ctx, h.path)
	if err == nil {
		return []storage.ObjectInfo{info}, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ipcerrors.IO(h.path, err)
	}

	prefix := strings.TrimSuffix(h.path, "/") + "/"
	listed, err := h.store.List(ctx, prefix)
	if err != nil {
		return nil, ipcerrors.IO(h.path, err)
	}

	var objects []storage.ObjectInfo
	for _, obj := range listed {
		if !h.isMember(obj.Path) {
			level.Debug(h.logger).Log("msg", "skipping non-member object", "path", obj.Path)
			continue
		}
		objects = append(objects, obj)
	}
	if len(objects) == 0 {
		return nil, ipcerrors.PathNotFound(h.path, nil).WithDetails(map[string]interface{}{
			"path":      h.path,
			"extension": h.ext,
		})
	}
	return objects, nil
}

func (h *Handle) isMember(objectPath string) bool {
	base := path.Base(objectPath)
	if strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
		return false
	}
	return strings.HasSuffix(base, h.ext)
}

type footer struct {
	ref    types.FileRef
	schema *arrow.Schema
}

// readFooters opens every file concurrently, bounded by the table's
// max concurrency, and keeps only what the footer describes.
func (h *Handle) readFooters(ctx context.Context, objects []storage.ObjectInfo) ([]footer, error) {
	footers := make([]footer, len(objects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.maxConcurrency)
	for i, obj := range objects {
		g.Go(func() error {
			r, err := OpenReader(gctx, h.store, obj.Path, nil)
			if err != nil {
				return err
			}
			defer r.Close()
			h.metrics.FooterRead()

			schema := r.Schema()
			stats, ok := tablemeta.ReadStatistics(schema)
			if ok {
				stats.TotalByteSize = types.Int64Ptr(r.Size())
			} else {
				level.Debug(h.logger).Log("msg", "file has no embedded statistics", "path", obj.Path)
			}

			footers[i] = footer{
				ref: types.FileRef{
					Path:       obj.Path,
					Size:       r.Size(),
					NumBatches: r.NumBatches(),
					Stats:      stats,
				},
				schema: schema,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return footers, nil
}

// Resolve opens a table registered in the manifest under name.
func Resolve(ctx context.Context, catalog manifest.CatalogReader, store storage.ObjectStorage, name string, opts ...Option) (*Handle, error) {
	rec, err := catalog.GetTable(ctx, name)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithFileExtension(rec.FileExtension)}, opts...)
	return Open(ctx, store, rec.Location, rec.MaxConcurrency, opts...)
}

// Path returns the path the table was opened from.
func (h *Handle) Path() string { return h.path }

// Schema returns the shared schema of the table's files, without metadata.
func (h *Handle) Schema() *arrow.Schema { return h.schema }

// Statistics returns the summed file statistics, or unknown statistics
// when any file lacks them.
func (h *Handle) Statistics() types.Statistics { return h.stats }

// Files returns the member files in path order.
func (h *Handle) Files() []types.FileRef {
	out := make([]types.FileRef, len(h.files))
	copy(out, h.files)
	return out
}

func (h *Handle) MaxConcurrency() int { return h.maxConcurrency }

func (h *Handle) Store() storage.ObjectStorage { return h.store }

func (h *Handle) FileExtension() string { return h.ext }

func (h *Handle) Logger() log.Logger { return h.logger }

// Metrics returns the metrics sink, which may be nil.
func (h *Handle) Metrics() *observability.ScanMetrics { return h.metrics }

// AcquireSlot blocks until a decode slot is free or ctx is done. Waiters
// are served in arrival order.
func (h *Handle) AcquireSlot(ctx context.Context) error {
	start := time.Now()
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	h.inUse.Add(1)
	h.metrics.ObserveSlotWait(time.Since(start))
	h.metrics.SlotAcquired()
	return nil
}

// ReleaseSlot returns a slot taken by AcquireSlot.
func (h *Handle) ReleaseSlot() {
	h.inUse.Add(-1)
	h.metrics.SlotReleased()
	h.slots.Release(1)
}

// SlotsInUse reports how many decode slots are currently held.
func (h *Handle) SlotsInUse() int { return int(h.inUse.Load()) }

func (h *Handle) String() string {
	return fmt.Sprintf("table %s: %d files, max_concurrency=%d", h.path, len(h.files), h.maxConcurrency)
}
