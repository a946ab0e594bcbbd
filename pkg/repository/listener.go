package repository

import (
	"context"
	"sync/atomic"

	"github.com/ammar0144/storekit/pkg/events"
	"go.uber.org/zap"
)

// CacheClearer is implemented by repositories whose cached reads can be
// flushed in response to mutation events
type CacheClearer interface {
	RepositoryID() string
	IsCacheClearEnabled() bool
	ClearsOn(m Mutation) bool
	ForgetCache(ctx context.Context) error
}

var kindMutations = map[events.Kind]Mutation{
	events.Created: MutationCreate,
	events.Updated: MutationUpdate,
	events.Deleted: MutationDelete,
}

// InvalidationListener flushes a repository's cache when one of its
// create, update or delete events is dispatched
type InvalidationListener struct {
	enabled atomic.Bool
	logger  *zap.Logger
}

// NewInvalidationListener returns an enabled listener
func NewInvalidationListener(logger *zap.Logger) *InvalidationListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &InvalidationListener{logger: logger}
	l.enabled.Store(true)
	return l
}

// Enable turns invalidation on for every repository
func (l *InvalidationListener) Enable() { l.enabled.Store(true) }

// Disable turns invalidation off for every repository
func (l *InvalidationListener) Disable() { l.enabled.Store(false) }

func (l *InvalidationListener) Enabled() bool { return l.enabled.Load() }

// Subscribe registers the listener for created, updated and deleted events
// of every repository
func (l *InvalidationListener) Subscribe(d events.Dispatcher) error {
	for _, kind := range []events.Kind{events.Created, events.Updated, events.Deleted} {
		if err := d.Listen(events.Pattern(kind), l.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle flushes the cache of the event's repository when the listener is
// enabled and the repository clears on the event's mutation kind
func (l *InvalidationListener) Handle(ctx context.Context, ev events.Event) error {
	mutation, ok := kindMutations[ev.Kind]
	if !ok || !l.Enabled() {
		return nil
	}
	clearer, ok := ev.Repository().(CacheClearer)
	if !ok {
		return nil
	}
	if !clearer.IsCacheClearEnabled() || !clearer.ClearsOn(mutation) {
		return nil
	}

	if err := clearer.ForgetCache(ctx); err != nil {
		l.logger.Warn("cache invalidation failed",
			zap.String("repository", clearer.RepositoryID()),
			zap.String("event", ev.Name),
			zap.Error(err),
		)
		return err
	}
	l.logger.Debug("cache invalidated",
		zap.String("repository", clearer.RepositoryID()),
		zap.String("event", ev.Name),
	)
	return nil
}
