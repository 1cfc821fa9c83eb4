// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-metadata-crawler/internal/api"
	"github.com/JakeFAU/video-metadata-crawler/internal/checkpoint"
	"github.com/JakeFAU/video-metadata-crawler/internal/clock/system"
	"github.com/JakeFAU/video-metadata-crawler/internal/config"
	"github.com/JakeFAU/video-metadata-crawler/internal/crawler"
	"github.com/JakeFAU/video-metadata-crawler/internal/id/uuid"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress"
	"github.com/JakeFAU/video-metadata-crawler/internal/progress/sinks"
	"github.com/JakeFAU/video-metadata-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/video-metadata-crawler/internal/session"
	"github.com/JakeFAU/video-metadata-crawler/internal/storage/gcs"
	"github.com/JakeFAU/video-metadata-crawler/internal/storage/local"
	"github.com/JakeFAU/video-metadata-crawler/internal/storage/memory"
)

const closeTimeout = 10 * time.Second

// App holds all the shared, long-lived services for the application.
// It is built once per command invocation and closed when the command returns.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	ids       crawler.IDGenerator
	sessions  crawler.SessionFactory
	store     *checkpoint.Store
	publisher crawler.Publisher
	registry  *prometheus.Registry
	status    *sinks.StatusSink
	hub       *progress.Hub

	closers    []func() error
	stopServer context.CancelFunc
	serverDone chan struct{}
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config { return a.cfg }

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetClock returns the wall clock used for timestamps.
func (a *App) GetClock() crawler.Clock { return a.clock }

// GetIDs returns the run ID generator.
func (a *App) GetIDs() crawler.IDGenerator { return a.ids }

// GetSessions returns the browser session factory.
func (a *App) GetSessions() crawler.SessionFactory { return a.sessions }

// GetStore returns the checkpoint store for result documents.
func (a *App) GetStore() *checkpoint.Store { return a.store }

// GetPublisher returns the completion publisher, or nil when publishing is
// disabled.
func (a *App) GetPublisher() crawler.Publisher { return a.publisher }

// GetEvents returns the progress hub.
func (a *App) GetEvents() progress.Emitter { return a.hub }

// GetStatus returns the live run status board.
func (a *App) GetStatus() *sinks.StatusSink { return a.status }

// GetRegistry returns the Prometheus registry backing /metrics.
func (a *App) GetRegistry() *prometheus.Registry { return a.registry }

// New creates and initializes an App from cfg. It fails fast if any configured
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Debug("initializing application services")

	// 1. Mirror storage for final documents.
	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	storeOpts := []checkpoint.Option{checkpoint.WithClock(a.clock), checkpoint.WithLogger(logger)}
	if blobs != nil {
		storeOpts = append(storeOpts, checkpoint.WithMirror(blobs, cfg.Storage.Prefix))
	}
	a.store = checkpoint.New(storeOpts...)

	// 2. Completion notifications.
	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsub.Open(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, TopicName: cfg.PubSub.TopicName})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		logger.Info("publishing run summaries", zap.String("topic", cfg.PubSub.TopicName))
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	// 3. Progress fan-out.
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	a.status = sinks.NewStatusSink()
	a.hub = progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
		a.status,
	)

	// 4. Browser sessions. Nothing launches until a worker asks.
	a.sessions = session.NewFactory(cfg.SessionFactoryConfig(), nil, logger)

	// 5. Optional status server.
	if cfg.Server.Addr != "" {
		a.startServer(ctx)
	}

	logger.Debug("application services initialized")
	return a, nil
}

func (a *App) openBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	sc := a.cfg.Storage
	switch sc.Provider {
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: sc.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		a.logger.Info("mirroring results to local storage", zap.String("base_dir", sc.Local.BaseDir))
		return store, nil
	case config.ProviderMemory:
		return memory.NewBlobStore(), nil
	case config.ProviderGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: sc.GCS.Bucket, Endpoint: sc.GCS.Endpoint})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.logger.Info("mirroring results to GCS", zap.String("bucket", sc.GCS.Bucket))
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", sc.Provider)
	}
}

func (a *App) startServer(ctx context.Context) {
	srv := api.NewServer(api.Options{
		Board:      a.status,
		Gatherer:   a.registry,
		Registerer: a.registry,
		Logger:     a.logger,
	})
	serverCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopServer = cancel
	a.serverDone = make(chan struct{})
	go func() {
		defer close(a.serverDone)
		if err := srv.Serve(serverCtx, a.cfg.Server.Addr); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
}

// Close flushes progress events and releases every backend. It is safe to
// call on a partially initialized App.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("error flushing progress events", zap.Error(err))
		}
	}
	if a.stopServer != nil {
		a.stopServer()
		select {
		case <-a.serverDone:
		case <-ctx.Done():
			a.logger.Warn("status server did not stop in time")
		}
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.stopServer = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
}
