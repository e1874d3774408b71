package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/kodebase/internal/artifactservice"
	"github.com/starford/kodebase/internal/index"
	"github.com/starford/kodebase/internal/lifecycle"
	"github.com/starford/kodebase/internal/storage"
)

// Engine bundles the artifact service with the resources it keeps open.
type Engine struct {
	Service *artifactservice.Service
	Store   *storage.Store
	// DB is nil when the engine was opened without the index.
	DB *index.DB
}

// EngineOption configures OpenEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	index bool
	pub   artifactservice.Publisher
}

// WithIndex opens the SQLite index and syncs it with the artifacts root.
func WithIndex() EngineOption {
	return func(o *engineOptions) { o.index = true }
}

// WithPublisher forwards change notifications to p.
func WithPublisher(p artifactservice.Publisher) EngineOption {
	return func(o *engineOptions) { o.pub = p }
}

// OpenEngine opens the artifacts root described by cfg.
func OpenEngine(cfg *Config, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(cfg.Artifacts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	fs, err := storage.NewFS(cfg.Artifacts.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	store := storage.NewStore(fs)

	e := &Engine{Store: store}
	if o.index {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		if err := index.Sync(db, fs, logger); err != nil {
			logger.Warn("initial sync failed", slog.String("error", err.Error()))
		}
		e.DB = db
	}

	svcOpts := []artifactservice.Option{
		artifactservice.WithLogger(logger),
		artifactservice.WithLocker(lifecycle.NewLocker(cfg.Cascade.LockPath(fs.Root()), cfg.Cascade.LockWait)),
		artifactservice.WithDefaultActor(cfg.Cascade.DefaultActor),
		artifactservice.WithTelemetry(cfg.Telemetry.Enabled),
	}
	if o.pub != nil {
		svcOpts = append(svcOpts, artifactservice.WithPublisher(o.pub))
	}
	// A nil *index.DB must not become a non-nil interface.
	var idx index.ArtifactIndex
	if e.DB != nil {
		idx = e.DB
	}
	e.Service = artifactservice.New(store, idx, svcOpts...)
	return e, nil
}

// Close releases the index.
func (e *Engine) Close() error {
	if e.DB == nil {
		return nil
	}
	return e.DB.Close()
}
