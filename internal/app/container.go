// Package app wires the engine's components from configuration. Every boundary (HTTP, MCP, CLI)
// builds one Container and talks to the prediction service through it.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/audit"
	"github.com/resistance-prediction-engine/internal/baseline"
	"github.com/resistance-prediction-engine/internal/database"
	"github.com/resistance-prediction-engine/internal/domain"
	"github.com/resistance-prediction-engine/internal/events"
	"github.com/resistance-prediction-engine/internal/service"
	"github.com/resistance-prediction-engine/pkg/external"
)

// Container holds the long-lived components of one engine process.
type Container struct {
	cfg        *domain.Config
	logger     *logrus.Logger
	dispatcher *events.Dispatcher
	db         *database.DB
	baseline   baseline.Provider
	cached     *baseline.CachedProvider
	playbook   service.PlaybookService
	client     *external.PlaybookClient
	cache      *external.PlaybookCache
	store      audit.Store
	recorder   *audit.Recorder
	service    *service.PredictionService
}

// Option is a functional option for Container.
type Option func(*Container) error

// WithAuditStore sets a custom audit store instead of the configured one.
func WithAuditStore(store audit.Store) Option {
	return func(c *Container) error {
		c.store = store
		return nil
	}
}

// WithBaselineProvider replaces the configured population baseline chain.
func WithBaselineProvider(p baseline.Provider) Option {
	return func(c *Container) error {
		c.baseline = p
		return nil
	}
}

// WithPlaybookService replaces the HTTP playbook client.
func WithPlaybookService(p service.PlaybookService) Option {
	return func(c *Container) error {
		c.playbook = p
		return nil
	}
}

// NewContainer builds every component the configuration enables. Optional backends that fail to
// come up (Redis) are logged and skipped; required ones (configured Postgres, audit store) fail the
// whole container.
func NewContainer(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts ...Option) (*Container, error) {
	c := &Container{
		cfg:        cfg,
		logger:     logger,
		dispatcher: events.NewDispatcher(logger),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := c.initBaseline(); err != nil {
		c.Close()
		return nil, err
	}
	c.initPlaybook()
	if err := c.initAudit(); err != nil {
		c.Close()
		return nil, err
	}

	serviceOpts := []service.Option{service.WithDispatcher(c.dispatcher)}
	if c.playbook != nil {
		serviceOpts = append(serviceOpts, service.WithPlaybook(c.playbook))
	}
	c.service = service.NewPredictionService(cfg.Model, c.baseline, logger, serviceOpts...)

	logger.WithFields(logrus.Fields{
		"database": c.db != nil,
		"playbook": c.playbook != nil,
		"redis":    c.cache != nil,
		"audit":    c.store != nil,
		"model":    cfg.Model.Version,
	}).Info("Engine container initialized")

	return c, nil
}

func (c *Container) initDatabase(ctx context.Context) error {
	if !c.cfg.Database.Enabled() {
		return nil
	}

	dbCfg := database.ConfigFrom(c.cfg.Database)
	db, err := database.NewConnection(ctx, dbCfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.db = db

	path := c.cfg.Database.MigrationsPath
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		c.logger.WithField("path", path).Warn("Migrations directory not found, skipping migrations")
		return nil
	}

	runner, err := database.NewMigrationRunner(dbCfg.URL(), path, c.logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migration runner: %w", err)
	}
	defer runner.Close()

	if err := runner.Up(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := db.VerifySchema(ctx); err != nil {
		db.Close()
		return err
	}
	return nil
}

// initBaseline builds static, or Postgres with static fallback, behind an LRU cache.
func (c *Container) initBaseline() error {
	if c.baseline != nil {
		return nil
	}

	var provider baseline.Provider = baseline.NewStaticProvider()
	if c.db != nil {
		provider = baseline.NewFallbackProvider(baseline.NewPostgresProvider(c.db.Pool, c.logger), provider, c.logger)
	}

	if size := c.cfg.Baseline.CacheSize; size > 0 {
		cached, err := baseline.NewCachedProvider(provider, size, c.cfg.Baseline.CacheTTL, c.logger)
		if err != nil {
			return fmt.Errorf("failed to create baseline cache: %w", err)
		}
		c.cached = cached
		provider = cached
	}

	c.baseline = provider
	return nil
}

func (c *Container) initPlaybook() {
	if c.playbook != nil || c.cfg.Playbook.BaseURL == "" {
		return
	}

	if c.cfg.Cache.RedisURL != "" {
		cache, err := external.NewPlaybookCache(c.cfg.Cache)
		if err != nil {
			c.logger.WithError(err).Warn("Redis cache unavailable, playbook responses will not be cached")
		} else {
			c.cache = cache
		}
	}

	c.client = external.NewPlaybookClient(external.PlaybookConfigFrom(c.cfg.Playbook), c.cache, c.logger)
	c.playbook = c.client
}

func (c *Container) initAudit() error {
	if c.store == nil && c.cfg.Audit.Enabled {
		switch c.cfg.Audit.Driver {
		case "postgres":
			store, err := audit.NewPostgresStoreFromURL(database.ConfigFrom(c.cfg.Database).URL())
			if err != nil {
				return fmt.Errorf("failed to create postgres audit store: %w", err)
			}
			c.store = store
		default:
			store, err := audit.NewSQLiteStore(c.cfg.Audit.Path)
			if err != nil {
				return fmt.Errorf("failed to create sqlite audit store: %w", err)
			}
			c.store = store
		}
	}

	if c.store != nil {
		c.recorder = audit.NewRecorder(c.store, c.logger)
		c.recorder.Attach(c.dispatcher)
	}
	return nil
}

// Service returns the prediction service.
func (c *Container) Service() *service.PredictionService { return c.service }

// Dispatcher returns the event dispatcher predictions are emitted on.
func (c *Container) Dispatcher() *events.Dispatcher { return c.dispatcher }

// AuditStore returns the audit store, or nil when auditing is disabled.
func (c *Container) AuditStore() audit.Store { return c.store }

// Config returns the configuration the container was built from.
func (c *Container) Config() *domain.Config { return c.cfg }

// Logger returns the process logger.
func (c *Container) Logger() *logrus.Logger { return c.logger }

// Health reports the state of every enabled backend. "ok" means healthy.
func (c *Container) Health(ctx context.Context) map[string]string {
	status := map[string]string{"engine": "ok"}

	if c.db != nil {
		status["database"] = healthString(c.db.Health(ctx))
	}
	if c.cache != nil {
		status["redis"] = healthString(c.cache.Health(ctx))
	}
	if c.client != nil {
		status["playbook"] = c.client.State().String()
	}
	if c.cached != nil {
		stats := c.cached.Stats()
		status["baseline_cache"] = fmt.Sprintf("hits=%d misses=%d errors=%d", stats.Hits, stats.Misses, stats.Errors)
	}
	if c.store != nil {
		_, err := c.store.Count(ctx)
		status["audit"] = healthString(err)
	}
	return status
}

func healthString(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

// Close releases stores, caches and pools.
func (c *Container) Close() {
	if c.recorder != nil {
		c.recorder.Detach()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close audit store")
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close Redis cache")
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}
