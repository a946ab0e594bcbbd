// Package storekit provides GORM repositories with relation-aware writes,
// domain events released after commit and cached reads.
package storekit

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ammar0144/storekit/pkg/cache"
	"github.com/ammar0144/storekit/pkg/db"
	"github.com/ammar0144/storekit/pkg/events"
	"github.com/ammar0144/storekit/pkg/repository"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entity interface that all repository entities must implement
type Entity = repository.Entity

// Attributes maps columns or relation names to values
type Attributes = repository.Attributes

// Relation describes a synchronizable relation
type Relation = repository.Relation

// Repository is the repository for entities of type T
type Repository[T any] = repository.Repository[T]

// Config is the process configuration
type Config struct {
	Database *db.Config    `json:"database" yaml:"database"`
	Cache    *cache.Config `json:"cache" yaml:"cache"`
	// Repositories holds per-repository settings keyed by repository id
	Repositories map[string]repository.Config `json:"repositories" yaml:"repositories"`
}

// DefaultConfig returns MySQL and Redis defaults with caching disabled
func DefaultConfig() *Config {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Enabled = false
	return &Config{
		Database:     db.DefaultConfig(),
		Cache:        cacheCfg,
		Repositories: map[string]repository.Config{},
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database config is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Cache != nil {
		if err := c.Cache.Validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	for id, rc := range c.Repositories {
		rc.ID = id
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("repository %s: %w", id, err)
		}
	}
	return nil
}

// Repository returns the settings for id, falling back to the defaults
func (c *Config) Repository(id string) repository.Config {
	rc, ok := c.Repositories[id]
	if !ok {
		rc = repository.DefaultConfig()
	}
	rc.ID = id
	return rc
}

// LoadConfig reads a YAML file over DefaultConfig
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return ParseConfig(f)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Kit wires the database, cache store, event bus, transaction coordinator
// and cache invalidation listener of one process
type Kit struct {
	Manager      *db.Manager
	Cache        cache.Store
	Bus          *events.Bus
	Coordinator  *db.Coordinator
	Invalidation *repository.InvalidationListener

	config *Config
	logger *zap.Logger
}

// Open connects to the database and cache described by cfg. A nil logger
// disables logging.
func Open(cfg *Config, logger *zap.Logger) (*Kit, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, err
	}
	return openWith(manager, cfg, logger)
}

// OpenWithManager wires a kit around an existing database manager
func OpenWithManager(manager *db.Manager, cfg *Config, logger *zap.Logger) (*Kit, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.Database = manager.Config()
	}
	return openWith(manager, cfg, logger)
}

func openWith(manager *db.Manager, cfg *Config, logger *zap.Logger) (*Kit, error) {
	k := &Kit{Manager: manager, config: cfg, logger: logger}

	if cfg.Cache != nil && cfg.Cache.Enabled {
		store, err := cache.New(cfg.Cache, cache.WithLogger(logger.Named("cache")))
		if err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("cache: %w", err)
		}
		k.Cache = store
	}

	k.Bus = events.NewBus(logger.Named("events"))
	k.Invalidation = repository.NewInvalidationListener(logger.Named("invalidation"))
	if err := k.Invalidation.Subscribe(k.Bus); err != nil {
		_ = k.Close()
		return nil, err
	}
	k.Coordinator = manager.NewCoordinator(k.Bus, db.WithLogger(logger.Named("tx")))
	return k, nil
}

// Config returns the kit configuration
func (k *Kit) Config() *Config {
	return k.config
}

// Close releases the cache client and the database pool
func (k *Kit) Close() error {
	var errs []error
	if closer, ok := k.Cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if k.Manager != nil {
		errs = append(errs, k.Manager.Close())
	}
	return errors.Join(errs...)
}

// NewRepository creates a repository for T using the settings configured
// under id. An empty id uses the table name and default settings.
func NewRepository[T any](k *Kit, id string, opts ...repository.Option) (*repository.Repository[T], error) {
	cfg := repository.DefaultConfig()
	if id != "" {
		cfg = k.config.Repository(id)
	}
	opts = append([]repository.Option{repository.WithLogger(k.logger.Named("repository"))}, opts...)
	return repository.New[T](k.Coordinator, k.Cache, cfg, opts...)
}
