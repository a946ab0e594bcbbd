package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ammar0144/storekit/pkg/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type scopeKey struct{}

// scope is one transaction level. Nested scopes share the root's *gorm.DB
// and are backed by a savepoint.
type scope struct {
	id        string
	tx        *gorm.DB
	parent    *scope
	savepoint string

	mu          sync.Mutex
	pending     []events.Event
	afterCommit []func(context.Context)
	done        bool
}

func (s *scope) queue(ev events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.pending = append(s.pending, ev)
	return true
}

// release hands the queued work to the parent scope, or returns it when s is
// the outermost scope
func (s *scope) release() ([]events.Event, []func(context.Context)) {
	s.mu.Lock()
	evs, hooks := s.pending, s.afterCommit
	s.pending, s.afterCommit = nil, nil
	s.done = true
	s.mu.Unlock()

	if s.parent == nil {
		return evs, hooks
	}

	s.parent.mu.Lock()
	s.parent.pending = append(s.parent.pending, evs...)
	s.parent.afterCommit = append(s.parent.afterCommit, hooks...)
	s.parent.mu.Unlock()
	return nil, nil
}

func (s *scope) discard() {
	s.mu.Lock()
	s.pending, s.afterCommit = nil, nil
	s.done = true
	s.mu.Unlock()
}

// TxOption customizes a single Coordinator.Transaction call
type TxOption func(*txOptions)

type txOptions struct {
	attempts     int
	beforeCommit []func(context.Context) error
	afterCommit  []func(context.Context)
}

// WithAttempts sets the retry budget for transient failures. Values below one
// mean a single attempt. Ignored for nested transactions.
func WithAttempts(n int) TxOption {
	return func(o *txOptions) { o.attempts = n }
}

// WithBeforeCommit runs fn inside the transaction after the closure succeeded.
// An error rolls the transaction back.
func WithBeforeCommit(fn func(ctx context.Context) error) TxOption {
	return func(o *txOptions) { o.beforeCommit = append(o.beforeCommit, fn) }
}

// WithAfterCommit runs fn once the outermost transaction has committed
func WithAfterCommit(fn func(ctx context.Context)) TxOption {
	return func(o *txOptions) { o.afterCommit = append(o.afterCommit, fn) }
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger
func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry sets the default retry budget and the pause between attempts
func WithRetry(attempts int, backoff time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.attempts = attempts
		c.backoff = backoff
	}
}

// Coordinator runs units of work in transactions carried by the context and
// releases domain events only after the outermost commit
type Coordinator struct {
	db         *gorm.DB
	dispatcher events.Dispatcher
	logger     *zap.Logger
	attempts   int
	backoff    time.Duration
}

// NewCoordinator creates a coordinator over db. Events queued with
// AfterCommit are delivered to dispatcher; a nil dispatcher drops them.
func NewCoordinator(db *gorm.DB, dispatcher events.Dispatcher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		db:         db,
		dispatcher: dispatcher,
		logger:     zap.NewNop(),
		attempts:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewCoordinator builds a coordinator using the manager's transaction settings
func (m *Manager) NewCoordinator(dispatcher events.Dispatcher, opts ...CoordinatorOption) *Coordinator {
	base := []CoordinatorOption{WithRetry(m.config.Transaction.MaxAttempts, m.config.Transaction.RetryBackoff)}
	return NewCoordinator(m.db, dispatcher, append(base, opts...)...)
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// InTransaction reports whether ctx carries an open transaction
func (c *Coordinator) InTransaction(ctx context.Context) bool {
	s := scopeFrom(ctx)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}

// DB returns the transaction handle carried by ctx, or the root handle
func (c *Coordinator) DB(ctx context.Context) *gorm.DB {
	if s := scopeFrom(ctx); s != nil && c.InTransaction(ctx) {
		return s.tx.WithContext(ctx)
	}
	return c.db.WithContext(ctx)
}

// Within joins the transaction in ctx or opens a new one
func (c *Coordinator) Within(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.InTransaction(ctx) {
		return fn(ctx)
	}
	return c.Transaction(ctx, fn)
}

// Transaction runs fn in a transaction. When ctx already carries one, fn runs
// under a savepoint and its events join the enclosing scope on success.
// Transient failures of the outermost transaction are retried.
func (c *Coordinator) Transaction(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	o := txOptions{attempts: c.attempts}
	for _, opt := range opts {
		opt(&o)
	}

	if parent := scopeFrom(ctx); parent != nil && c.InTransaction(ctx) {
		return c.nested(ctx, parent, fn, o)
	}

	attempts := o.attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var s *scope
		s, err = c.run(ctx, fn, o)
		if err == nil {
			return c.flush(ctx, s)
		}
		if !IsTransient(err) || attempt == attempts {
			return err
		}

		c.logger.Warn("retrying transaction after transient failure",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if waitErr := c.wait(ctx); waitErr != nil {
			return errors.Join(err, waitErr)
		}
	}
	return err
}

func (c *Coordinator) run(ctx context.Context, fn func(ctx context.Context) error, o txOptions) (*scope, error) {
	s := &scope{id: uuid.NewString()}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s.tx = tx
		txCtx := context.WithValue(ctx, scopeKey{}, s)
		c.logger.Debug("transaction started", zap.String("tx", s.id))

		if err := fn(txCtx); err != nil {
			return err
		}
		for _, hook := range o.beforeCommit {
			if err := hook(txCtx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.discard()
		c.logger.Debug("transaction rolled back", zap.String("tx", s.id), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.afterCommit = append(s.afterCommit, o.afterCommit...)
	s.mu.Unlock()
	return s, nil
}

func (c *Coordinator) nested(ctx context.Context, parent *scope, fn func(ctx context.Context) error, o txOptions) error {
	s := &scope{id: uuid.NewString(), parent: parent}
	err := parent.tx.Transaction(func(tx *gorm.DB) error {
		s.tx = tx
		txCtx := context.WithValue(ctx, scopeKey{}, s)
		if err := fn(txCtx); err != nil {
			return err
		}
		for _, hook := range o.beforeCommit {
			if err := hook(txCtx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.discard()
		return err
	}

	s.mu.Lock()
	s.afterCommit = append(s.afterCommit, o.afterCommit...)
	s.mu.Unlock()
	s.release()
	return nil
}

func (c *Coordinator) wait(ctx context.Context) error {
	if c.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// flush dispatches the events of a committed outermost scope
func (c *Coordinator) flush(ctx context.Context, s *scope) error {
	evs, hooks := s.release()
	c.logger.Debug("transaction committed",
		zap.String("tx", s.id),
		zap.Int("events", len(evs)),
	)

	var errs []error
	for _, ev := range evs {
		if err := c.dispatch(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	for _, hook := range hooks {
		hook(ctx)
	}
	return errors.Join(errs...)
}

func (c *Coordinator) dispatch(ctx context.Context, ev events.Event) error {
	if c.dispatcher == nil {
		return nil
	}
	if err := c.dispatcher.Dispatch(ctx, ev); err != nil {
		return fmt.Errorf("dispatch %s: %w", ev.Name, err)
	}
	return nil
}

// AfterCommit queues ev on the transaction in ctx. Without an open
// transaction the event is dispatched immediately.
func (c *Coordinator) AfterCommit(ctx context.Context, ev events.Event) error {
	if s := scopeFrom(ctx); s != nil && s.queue(ev) {
		return nil
	}
	return c.dispatch(ctx, ev)
}

// Begin opens a transaction for manual control. When ctx already carries one
// a savepoint is created instead.
func (c *Coordinator) Begin(ctx context.Context) (context.Context, error) {
	s := &scope{id: uuid.NewString()}

	if parent := scopeFrom(ctx); parent != nil && c.InTransaction(ctx) {
		s.parent = parent
		s.tx = parent.tx
		s.savepoint = "sp_" + s.id[:8]
		if err := s.tx.SavePoint(s.savepoint).Error; err != nil {
			return ctx, err
		}
		return context.WithValue(ctx, scopeKey{}, s), nil
	}

	tx := c.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return ctx, tx.Error
	}
	s.tx = tx
	c.logger.Debug("transaction started", zap.String("tx", s.id))
	return context.WithValue(ctx, scopeKey{}, s), nil
}

// Commit commits the transaction opened by Begin. For a savepoint the queued
// events move to the enclosing scope.
func (c *Coordinator) Commit(ctx context.Context) error {
	s := scopeFrom(ctx)
	if s == nil || !c.InTransaction(ctx) {
		return ErrNoTransaction
	}
	if s.parent != nil {
		s.release()
		return nil
	}
	if err := s.tx.Commit().Error; err != nil {
		s.discard()
		return err
	}
	return c.flush(ctx, s)
}

// Rollback aborts the transaction opened by Begin and discards its events
func (c *Coordinator) Rollback(ctx context.Context) error {
	s := scopeFrom(ctx)
	if s == nil || !c.InTransaction(ctx) {
		return ErrNoTransaction
	}
	defer s.discard()
	if s.parent != nil {
		return s.tx.RollbackTo(s.savepoint).Error
	}
	c.logger.Debug("transaction rolled back", zap.String("tx", s.id))
	return s.tx.Rollback().Error
}
