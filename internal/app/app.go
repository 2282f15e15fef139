// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/api"
	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/clock/system"
	"github.com/JakeFAU/clip-harvester/internal/config"
	"github.com/JakeFAU/clip-harvester/internal/harvest"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
	"github.com/JakeFAU/clip-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/clip-harvester/internal/storage/gcs"
	"github.com/JakeFAU/clip-harvester/internal/storage/local"
	"github.com/JakeFAU/clip-harvester/internal/storage/memory"
	"github.com/JakeFAU/clip-harvester/internal/storage/postgres"
	"github.com/JakeFAU/clip-harvester/internal/store"
	"github.com/JakeFAU/clip-harvester/internal/transport"
)

// Runner drives harvest runs.
type Runner interface {
	Run(ctx context.Context, phases ...harvest.Phase) (harvest.Report, error)
	Start(ctx context.Context, phases ...harvest.Phase) error
	Status() harvest.Report
}

// migrator is implemented by backends that own a schema.
type migrator interface {
	Migrate(ctx context.Context) error
}

// App holds the shared, long-lived services. It is built once at startup
// and closed by a Cobra hook after the command finishes.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	backend   store.Backend
	store     *store.Store
	session   *transport.Session
	harvester *harvest.Harvester
	closers   []func()
}

// Config returns the configuration the services were built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Harvester returns the harvest runner.
func (a *App) Harvester() Runner {
	return a.harvester
}

// Directory returns the lookups served over HTTP.
func (a *App) Directory() api.Directory {
	return a.store
}

// New creates the services described by cfg. It fails fast when a provider
// cannot be initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("initializing application services", zap.String("db_backend", cfg.DB.Backend))

	if a.backend, err = a.newBackend(ctx); err != nil {
		return nil, err
	}
	clock := system.New()
	a.store = store.New(a.backend,
		store.WithLogger(logger),
		store.WithClassCacheLimit(cfg.Store.ClassCacheLimit),
		store.WithClock(clock),
	)

	limiter := transport.NewLimiter(transport.LimiterConfig{
		RequestsPerSecond: cfg.CLIP.RequestsPerSecond,
		Burst:             cfg.CLIP.Burst,
	})
	a.session, err = transport.New(transport.Config{
		BaseURL:   cfg.CLIP.BaseURL,
		Username:  cfg.CLIP.Username,
		Password:  cfg.CLIP.Password,
		UserAgent: cfg.CLIP.UserAgent,
		Timeout:   cfg.CLIP.Timeout(),
	}, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transport: %w", err)
	}

	deps := harvest.Deps{Store: a.store, Transport: a.session, Clock: clock}
	if deps.Archive, err = a.newArchive(ctx); err != nil {
		return nil, err
	}
	topic := ""
	if deps.Publisher, err = a.newPublisher(ctx); err != nil {
		return nil, err
	}
	if deps.Publisher != nil {
		topic = cfg.PubSub.TopicName
	}

	a.harvester = harvest.New(deps, harvest.Config{
		BaseURL:          cfg.CLIP.BaseURL,
		Workers:          cfg.Harvest.Workers,
		ItemTimeout:      cfg.Harvest.ItemTimeout(),
		ProgressInterval: cfg.Harvest.ProgressInterval(),
		MaxRetries:       cfg.Harvest.MaxRetries,
		ArchivePrefix:    cfg.Archive.Prefix,
		Topic:            topic,
	}, logger)

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) newBackend(ctx context.Context) (store.Backend, error) {
	switch a.cfg.DB.Backend {
	case config.BackendPostgres:
		a.logger.Info("connecting to postgres")
		backend, err := postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MaxConnLifetime: time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, backend.Close)
		return backend, nil
	case config.BackendMemory:
		a.logger.Warn("using in-memory backend, records are discarded on exit")
		return memory.NewBackend(), nil
	default:
		return nil, fmt.Errorf("unknown db backend: %s", a.cfg.DB.Backend)
	}
}

func (a *App) newArchive(ctx context.Context) (clip.Archive, error) {
	switch a.cfg.Archive.Provider {
	case config.ArchiveNone:
		return nil, nil
	case config.ArchiveLocal:
		a.logger.Info("archiving failed documents locally", zap.String("base_dir", a.cfg.Archive.BaseDir))
		archive, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		return archive, nil
	case config.ArchiveGCS:
		a.logger.Info("archiving failed documents to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("error closing gcs client", zap.Error(err))
			}
		})
		archive, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		return archive, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
}

func (a *App) newPublisher(ctx context.Context) (clip.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no pubsub project configured, phase events are only logged")
		return nil, nil
	}
	a.logger.Info("connecting to pubsub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
	}
	publisher := pubsub.New(client)
	a.closers = append(a.closers, func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			a.logger.Warn("error closing pubsub client", zap.Error(err))
		}
	})
	return publisher, nil
}

// Migrate applies the schema when the backend owns one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.backend.(migrator)
	if !ok {
		a.logger.Info("backend has no schema to migrate")
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated")
	return nil
}

// Prepare readies the services for harvesting: it migrates when db.migrate is
// set, warms the entity caches and logs in when credentials are configured.
func (a *App) Prepare(ctx context.Context) error {
	if a.cfg.DB.Migrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}
	if err := a.store.LoadCaches(ctx); err != nil {
		return fmt.Errorf("load caches: %w", err)
	}
	if a.cfg.CLIP.Username == "" {
		a.logger.Warn("no clip credentials configured, only public pages will be reachable")
		return nil
	}
	return a.session.Login(ctx)
}

// Close shuts the services down in reverse order of creation.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
}
