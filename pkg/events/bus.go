package events

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"
)

// ErrInvalidPattern is returned when a listener pattern cannot be compiled
var ErrInvalidPattern = errors.New("invalid event pattern")

// Handler reacts to a dispatched event
type Handler func(ctx context.Context, event Event) error

// Dispatcher is the event bus contract consumed by the transaction
// coordinator and the cache invalidation listener
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
	Listen(pattern string, handler Handler) error
}

type listener struct {
	pattern string
	handler Handler
}

// Bus is a synchronous in-process Dispatcher. Patterns use shell glob
// syntax, so "*.entity.created" matches every repository's created events.
type Bus struct {
	mu        sync.RWMutex
	listeners []listener
	logger    *zap.Logger
}

// NewBus creates an empty bus. A nil logger disables logging.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Listen registers handler for every event whose name matches pattern
func (b *Bus) Listen(pattern string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidPattern, pattern)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener{pattern: pattern, handler: handler})
	return nil
}

// Dispatch calls matching handlers in registration order. Every handler
// runs; their errors are joined.
func (b *Bus) Dispatch(ctx context.Context, event Event) error {
	b.mu.RLock()
	matched := make([]listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if ok, _ := path.Match(l.pattern, event.Name); ok {
			matched = append(matched, l)
		}
	}
	b.mu.RUnlock()

	b.logger.Debug("dispatching event",
		zap.String("event", event.Name),
		zap.Int("listeners", len(matched)),
	)

	var errs []error
	for _, l := range matched {
		if err := l.handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("listener %q: %w", l.pattern, err))
		}
	}
	return errors.Join(errs...)
}

// Len reports the number of registered listeners
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
