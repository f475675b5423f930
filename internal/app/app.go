// Package app wires the shared resources of the ipcscan binaries: configuration,
// logging, object storage, the manifest catalog and scan metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkilian/ipcscan/internal/config"
	"github.com/arkilian/ipcscan/internal/logging"
	"github.com/arkilian/ipcscan/internal/manifest"
	"github.com/arkilian/ipcscan/internal/observability"
	"github.com/arkilian/ipcscan/internal/storage"
)

// App holds the resources shared by a binary for its lifetime.
type App struct {
	cfg      *config.Config
	logger   log.Logger
	storage  storage.ObjectStorage
	registry *prometheus.Registry
	metrics  *observability.ScanMetrics

	mu      sync.Mutex
	catalog *manifest.SQLiteCatalog
	closers []io.Closer
}

// LoadConfig builds the configuration: defaults, then configPath (YAML or
// JSON) when set, then IPCSCAN_ environment variables. A .env file in the
// working directory is loaded first if present.
func LoadConfig(configPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New validates cfg, creates local directories and opens storage. Output
// of the logger goes to logOut.
func New(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	logger, err := logging.New(cfg.Log.Format, cfg.Log.Level, logOut)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = observability.NewScanMetrics(a.registry)

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize local storage: %w", err)
		}
		level.Debug(a.logger).Log("msg", "storage initialized", "type", "local", "path", a.cfg.Storage.Path)
	case "s3":
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, a.cfg.S3())
		if err != nil {
			return fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		level.Debug(a.logger).Log("msg", "storage initialized", "type", "s3", "bucket", a.cfg.Storage.S3.Bucket)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	return nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() log.Logger { return a.logger }

// Storage returns the object store tables live in.
func (a *App) Storage() storage.ObjectStorage { return a.storage }

// Registry returns the registry scan metrics are registered with.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Metrics returns the scan metrics.
func (a *App) Metrics() *observability.ScanMetrics { return a.metrics }

// Catalog opens the manifest catalog on first use.
func (a *App) Catalog() (*manifest.SQLiteCatalog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.catalog != nil {
		return a.catalog, nil
	}
	c, err := manifest.NewCatalog(a.cfg.Catalog.Path, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest catalog: %w", err)
	}
	a.catalog = c
	a.closers = append(a.closers, c)
	return c, nil
}

// Close closes every opened resource in reverse order of opening.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.catalog = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
