// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/crisiswatch/crisis-collector/internal/clock/system"
	"github.com/crisiswatch/crisis-collector/internal/collector"
	"github.com/crisiswatch/crisis-collector/internal/collector/web"
	"github.com/crisiswatch/crisis-collector/internal/config"
	"github.com/crisiswatch/crisis-collector/internal/crisis"
	collyfetcher "github.com/crisiswatch/crisis-collector/internal/fetcher/colly"
	"github.com/crisiswatch/crisis-collector/internal/fetcher/detector"
	"github.com/crisiswatch/crisis-collector/internal/fetcher/headless"
	"github.com/crisiswatch/crisis-collector/internal/id/uuid"
	"github.com/crisiswatch/crisis-collector/internal/logging"
	"github.com/crisiswatch/crisis-collector/internal/policy/ratelimit"
	"github.com/crisiswatch/crisis-collector/internal/storage/memory"
	"github.com/crisiswatch/crisis-collector/internal/storage/postgres"
)

// App holds the shared services built once at startup: the logger, the event
// store and the collection manager with its registered collectors.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      crisis.EventStore
	closeStore func()
	manager    *collector.Manager
}

// GetConfig returns the validated configuration the App was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStore exposes the configured event store.
func (a *App) GetStore() crisis.EventStore {
	return a.store
}

// GetManager returns the collection manager.
func (a *App) GetManager() *collector.Manager {
	return a.manager
}

// NewApp builds every service from cfg. Postgres is used when db.dsn is set,
// otherwise events are kept in memory.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger = logging.OrNop(logger)
	logger.Info("initializing application services")

	store, closeStore, err := newStore(ctx, cfg.DB, logger)
	if err != nil {
		return nil, err
	}

	webCollector := web.New(web.Config{
		Sources:  cfg.Sources,
		Filter:   crisis.NewRelevanceFilter(cfg.Keywords, cfg.Hashtags),
		IDs:      uuid.New(),
		Clock:    system.New(),
		Static:   staticSessions(cfg),
		Rendered: renderedSessions(cfg),
		Limiter:  ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RateLimitRPS, Burst: 1}),
		Promoter: promoter(cfg),
	}, logger)

	manager := collector.New(collector.Config{
		Interval:         cfg.Interval(),
		FallbackInterval: cfg.FallbackInterval(),
		Store:            store,
	}, logger, webCollector)

	logger.Info("application services initialized",
		zap.Int("sources", len(cfg.Sources)),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Strings("collectors", manager.Collectors()))

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		closeStore: closeStore,
		manager:    manager,
	}, nil
}

func newStore(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (crisis.EventStore, func(), error) {
	if cfg.DSN == "" {
		logger.Info("using in-memory event store; events are lost on exit")
		return memory.NewEventStore(), func() {}, nil
	}
	store, err := postgres.NewEventStore(ctx, postgres.EventStoreConfig{
		DSN:      cfg.DSN,
		Table:    cfg.Table,
		MaxConns: cfg.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	logger.Info("using postgres event store", zap.String("table", cfg.Table))
	return store, store.Close, nil
}

func staticSessions(cfg config.Config) web.SessionFactory {
	return func() (crisis.Session, error) {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}), nil
	}
}

func promoter(cfg config.Config) web.Promoter {
	if !cfg.Headless.Enabled || !cfg.Headless.Promote {
		return nil
	}
	return detector.NewHeuristic(0)
}

func renderedSessions(cfg config.Config) web.SessionFactory {
	if !cfg.Headless.Enabled {
		return nil
	}
	return func() (crisis.Session, error) {
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		return f, nil
	}
}

// Close stops collection, releases collector sessions and the store, then
// flushes the logger.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	err := a.manager.Cleanup(ctx)
	if waitErr := a.manager.Wait(ctx); waitErr != nil {
		err = errors.Join(err, waitErr)
	}
	a.closeStore()
	// Sync fails on stdout/stderr on some platforms; nothing useful can be done about it.
	_ = a.logger.Sync()
	return err
}
