package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ammar0144/storekit/pkg/cache"
	"github.com/ammar0144/storekit/pkg/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Transactor is the transaction coordinator a repository runs on.
// *db.Coordinator implements it.
type Transactor interface {
	DB(ctx context.Context) *gorm.DB
	Within(ctx context.Context, fn func(ctx context.Context) error) error
	AfterCommit(ctx context.Context, ev events.Event) error
	InTransaction(ctx context.Context) bool
}

// Option configures a Repository
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the repository logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Repository provides querying, caching and relation-aware persistence for
// entities of type T. It holds no per-query state and is safe for concurrent
// use; filters live on the Query values it hands out.
type Repository[T any] struct {
	tx     Transactor
	store  cache.Store
	config Config
	meta   *modelMeta
	logger *zap.Logger
}

// New creates a repository for T. T must implement Entity (on its pointer
// or value) and have a single primary key. A nil store disables caching.
func New[T any](tx Transactor, store cache.Store, config Config, opts ...Option) (*Repository[T], error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transactor cannot be nil", ErrConfiguration)
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	model := any(new(T))
	entity, ok := model.(Entity)
	if !ok {
		return nil, fmt.Errorf("%w: %T does not implement Entity", ErrConfiguration, *new(T))
	}
	if entity.TableName() == "" {
		return nil, fmt.Errorf("%w: %T has an empty table name", ErrConfiguration, *new(T))
	}

	sch, err := parseSchema(tx.DB(context.Background()), model)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	meta, err := newModelMeta(sch, model)
	if err != nil {
		return nil, err
	}
	var declared []Relation
	if ra, ok := model.(RelationAware); ok {
		declared = ra.Relations()
	}
	if err := meta.resolveRelations(declared); err != nil {
		return nil, err
	}

	if config.ID == "" {
		config.ID = sch.Table
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	r := &Repository[T]{
		tx:     tx,
		store:  store,
		config: config,
		meta:   meta,
		logger: o.logger.With(zap.String("repository", config.ID)),
	}
	return r, nil
}

// RepositoryID returns the identifier used in event names and cache scopes
func (r *Repository[T]) RepositoryID() string {
	return r.config.ID
}

// Config returns a copy of the repository configuration
func (r *Repository[T]) Config() Config {
	return r.config
}

// Table returns the entity's table name
func (r *Repository[T]) Table() string {
	return r.meta.schema.Table
}

// IsCacheClearEnabled reports whether mutation events flush this
// repository's cache
func (r *Repository[T]) IsCacheClearEnabled() bool {
	return r.config.Cache.ClearEnabled
}

// ClearsOn reports whether mutation m flushes this repository's cache
func (r *Repository[T]) ClearsOn(m Mutation) bool {
	return r.config.Cache.clearsOn(m)
}

// ForgetCache drops every cached read of this repository
func (r *Repository[T]) ForgetCache(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Flush(ctx, r.config.ID); err != nil && !cache.IsCacheDisabled(err) {
		return err
	}
	r.logger.Debug("cache flushed")
	return nil
}

// cacheable reports whether reads may go through the cache. Reads inside a
// transaction never are.
func (r *Repository[T]) cacheable(ctx context.Context) bool {
	return r.store != nil && r.config.Cache.Enabled && !r.tx.InTransaction(ctx)
}

// remember serves dest from the cache, or runs fetch and caches its result
// when it found something. The boolean reports whether dest holds a value.
func (r *Repository[T]) remember(ctx context.Context, op string, fingerprint []byte, dest any, fetch func() (found bool, err error)) (bool, error) {
	if !r.cacheable(ctx) {
		return fetch()
	}

	key := cache.HashKey(op, fingerprint)
	err := r.store.Get(ctx, r.config.ID, key, dest)
	if err == nil {
		r.logger.Debug("cache hit", zap.String("op", op))
		return true, nil
	}
	if !cache.IsKeyNotFound(err) && !cache.IsCacheDisabled(err) {
		r.logger.Warn("cache read failed", zap.String("op", op), zap.Error(err))
	}

	found, err := fetch()
	if err != nil || !found {
		return found, err
	}
	if err := r.store.Put(ctx, r.config.ID, key, reflect.ValueOf(dest).Elem().Interface(), r.config.Cache.Lifetime); err != nil && !cache.IsCacheDisabled(err) {
		r.logger.Warn("cache write failed", zap.String("op", op), zap.Error(err))
	}
	return true, nil
}

// fire queues an entity event for delivery after commit
func (r *Repository[T]) fire(ctx context.Context, kind events.Kind, entity *T) error {
	return r.tx.AfterCommit(ctx, events.EntityEvent(r.config.ID, kind, r, entity))
}

// notFound builds the FindOrFail error
func (r *Repository[T]) notFound(id any) error {
	return fmt.Errorf("%w: %s %v: %w", ErrNotFound, r.meta.schema.Table, id, gorm.ErrRecordNotFound)
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
