// Package app builds every component from configuration so the CLI and the
// daemon share one wiring.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/collection"
	"github.com/example/shelf-sync/internal/config"
	"github.com/example/shelf-sync/internal/localcache"
	"github.com/example/shelf-sync/internal/metadata"
	"github.com/example/shelf-sync/internal/notify"
	"github.com/example/shelf-sync/internal/reconcile"
	"github.com/example/shelf-sync/internal/remote"
	"github.com/example/shelf-sync/internal/scheduler"
	"github.com/example/shelf-sync/internal/ws"
)

// MemoryCachePath selects the ephemeral local cache.
const MemoryCachePath = "memory"

// App holds the wired components.
type App struct {
	Config    config.Config
	Logger    zerolog.Logger
	DeviceID  string
	Resources *config.Resources

	Cache     localcache.Cache
	Store     *collection.Store
	Outbox    *collection.Outbox
	Ops       *collection.Ops
	Provider  metadata.Provider
	Remote    remote.Store
	Engine    *reconcile.Engine
	Scheduler *scheduler.Scheduler
	Notifier  *notify.RedisNotifier
	Events    *ws.ConnectionRegistry
}

// New connects external resources, opens the local cache and restores the
// collection from it.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, DeviceID: cfg.DeviceID}
	if a.DeviceID == "" {
		a.DeviceID = uuid.NewString()
	}

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init resources: %w", err)
	}
	a.Resources = resources

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	cache, err := openCache(cfg.CachePath, a.Logger)
	if err != nil {
		return err
	}
	a.Cache = cache

	a.Provider = newProvider(cfg, a.Logger)

	rs, err := a.newRemote(ctx)
	if err != nil {
		return err
	}
	a.Remote = remote.Instrument(rs, cfg.RemoteBackend)

	a.Store = collection.NewStore()
	a.Outbox = collection.NewOutbox()
	a.Ops = collection.NewOps(a.Store, a.Cache, a.Outbox, a.Logger.With().Str("component", "collection").Logger())

	a.Events = ws.NewConnectionRegistry()
	opts := []reconcile.Option{
		reconcile.WithLookupLimit(cfg.LookupConcurrency),
		reconcile.WithObserver(a.Events),
	}
	if cfg.NotifyEnabled && a.Resources.Redis != nil {
		a.Notifier = notify.NewRedisNotifier(a.Resources.Redis, a.DeviceID, a.Logger.With().Str("component", "notify").Logger())
		opts = append(opts, reconcile.WithPublisher(a.Notifier))
	}
	a.Engine = reconcile.NewEngine(a.Store, a.Outbox, a.Cache, a.Remote, a.Provider,
		a.Logger.With().Str("component", "reconcile").Logger(), opts...)

	if err := a.Engine.Load(ctx); err != nil {
		return fmt.Errorf("restore collection: %w", err)
	}

	a.Scheduler = scheduler.New(a.Engine, a.Outbox, a.Logger.With().Str("component", "scheduler").Logger(),
		scheduler.WithStaleAfter(cfg.StaleAfter),
		scheduler.WithPullInterval(cfg.PullInterval),
	)
	return nil
}

// Listen starts background consumers that feed the scheduler. It is a no-op
// when change notifications are disabled.
func (a *App) Listen(ctx context.Context) {
	if a.Notifier == nil {
		return
	}
	a.Notifier.Listen(ctx, func() string { return a.Engine.Settings().RemoteID }, a.Scheduler.RemoteChanged)
}

// Close releases the cache and external connections.
func (a *App) Close() error {
	var err error
	if a.Cache != nil {
		err = a.Cache.Close()
	}
	if a.Resources != nil {
		a.Resources.Close()
	}
	return err
}

func openCache(path string, logger zerolog.Logger) (localcache.Cache, error) {
	if path == MemoryCachePath {
		return localcache.NewMemory(), nil
	}
	cache, err := localcache.OpenBadger(path, logger.With().Str("component", "localcache").Logger())
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	return cache, nil
}

func newProvider(cfg config.Config, logger zerolog.Logger) metadata.Provider {
	clientCfg := metadata.ClientConfig{
		BaseURL: cfg.MetadataURL,
		APIKey:  cfg.MetadataAPIKey,
		RPS:     cfg.MetadataRPS,
		Burst:   int(cfg.MetadataRPS) + 1,
	}
	logger = logger.With().Str("component", "metadata").Logger()

	var p metadata.Provider
	switch cfg.MetadataProvider {
	case config.ProviderOpenLibrary:
		p = metadata.NewOpenLibrary(clientCfg, logger)
	default:
		p = metadata.NewGoogleBooks(clientCfg, logger)
	}
	if cfg.MetadataCacheSize > 0 {
		p = metadata.NewCached(p, cfg.MetadataCacheSize)
	}
	return p
}

func (a *App) newRemote(ctx context.Context) (remote.Store, error) {
	cfg := a.Config
	switch cfg.RemoteBackend {
	case config.BackendRedis:
		return remote.NewRedisStore(a.Resources.Redis), nil
	case config.BackendObject:
		return remote.NewObjectStore(a.Resources.Object, cfg.ObjectBucket), nil
	case config.BackendPostgres:
		store := remote.NewPostgresStore(a.Resources.Postgres)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare remote schema: %w", err)
		}
		return store, nil
	default:
		return remote.NewHTTPStore(cfg.RemoteURL, a.Logger.With().Str("component", "remote").Logger()), nil
	}
}
