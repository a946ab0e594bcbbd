package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store is a scoped key/value cache. Each repository owns one scope so its
// entries can be flushed together.
type Store interface {
	// Get decodes the entry into dest or returns ErrKeyNotFound
	Get(ctx context.Context, scope, key string, dest any) error
	// Put stores value for ttl; a non-positive ttl uses the configured default
	Put(ctx context.Context, scope, key string, value any, ttl time.Duration) error
	Forget(ctx context.Context, scope, key string) error
	// Flush removes every entry of scope
	Flush(ctx context.Context, scope string) error
}

// Instrumented is implemented by stores that keep metrics
type Instrumented interface {
	GetMetrics() MetricsSnapshot
	ResetMetrics()
}

// Option configures a store
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the store logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates the store selected by config.Driver
func New(config *Config, opts ...Option) (Store, error) {
	if config == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}
	switch config.driver() {
	case DriverMemory:
		return NewMemoryStore(config, opts...)
	case DriverRedis:
		return NewRedisStore(config, opts...)
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", config.Driver)
	}
}
