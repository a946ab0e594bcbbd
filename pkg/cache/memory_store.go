package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"
	"go.uber.org/zap"
)

// MemoryStore is an in-process Store on top of sturdyc. sturdyc applies one
// TTL to the whole client, so per-entry lifetimes are tracked alongside.
type MemoryStore struct {
	config    *Config
	client    *sturdyc.Client[[]byte]
	deadlines *xsync.MapOf[string, time.Time]
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewMemoryStore creates a new in-process cache store
func NewMemoryStore(config *Config, opts ...Option) (*MemoryStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	o := buildOptions(opts)
	store := &MemoryStore{
		config:    config,
		deadlines: xsync.NewMapOf[string, time.Time](),
		metrics:   NewMetrics(),
		logger:    o.logger,
		now:       time.Now,
	}
	if !config.Enabled {
		return store, nil
	}

	maxTTL := config.Memory.MaxTTL
	if maxTTL < config.DefaultTTL {
		maxTTL = config.DefaultTTL
	}
	store.client = sturdyc.New[[]byte](
		config.Memory.Capacity,
		config.Memory.NumShards,
		maxTTL,
		config.Memory.EvictionPercentage,
	)
	return store, nil
}

func (s *MemoryStore) checkClient() error {
	if !s.config.Enabled || s.client == nil {
		return ErrCacheDisabled
	}
	return nil
}

// Get retrieves and decodes a value from cache
func (s *MemoryStore) Get(_ context.Context, scope, key string, dest any) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if !validKey(scope, key) {
		return ErrInvalidKey
	}

	fullKey := Key(s.config.Prefix, scope, key)
	start := time.Now()
	data, ok := s.client.Get(fullKey)
	if ok {
		if deadline, tracked := s.deadlines.Load(fullKey); !tracked || !s.now().Before(deadline) {
			s.client.Delete(fullKey)
			s.deadlines.Delete(fullKey)
			ok = false
		}
	}
	s.metrics.RecordGet(time.Since(start))

	if !ok {
		s.metrics.RecordCacheMiss()
		return ErrKeyNotFound
	}
	if err := decode(data, dest); err != nil {
		s.metrics.RecordCacheError()
		return err
	}
	s.metrics.RecordCacheHit()
	return nil
}

// Put encodes and stores a value with TTL
func (s *MemoryStore) Put(_ context.Context, scope, key string, value any, ttl time.Duration) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if !validKey(scope, key) {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	data, _, err := encode(value, 0)
	if err != nil {
		s.metrics.RecordCacheError()
		return err
	}

	fullKey := Key(s.config.Prefix, scope, key)
	start := time.Now()
	s.deadlines.Store(fullKey, s.now().Add(ttl))
	s.client.Set(fullKey, data)
	s.metrics.RecordSet(time.Since(start))
	return nil
}

// Forget removes a key from cache
func (s *MemoryStore) Forget(_ context.Context, scope, key string) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if !validKey(scope, key) {
		return ErrInvalidKey
	}

	fullKey := Key(s.config.Prefix, scope, key)
	start := time.Now()
	s.client.Delete(fullKey)
	s.deadlines.Delete(fullKey)
	s.metrics.RecordDelete(time.Since(start))
	return nil
}

// Flush removes every key of scope
func (s *MemoryStore) Flush(_ context.Context, scope string) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if scope == "" {
		return ErrInvalidKey
	}

	prefix := ScopePrefix(s.config.Prefix, scope)
	removed := 0
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
			removed++
		}
	}
	// Deadlines may outlive entries sturdyc already evicted
	s.deadlines.Range(func(key string, _ time.Time) bool {
		if strings.HasPrefix(key, prefix) {
			s.deadlines.Delete(key)
		}
		return true
	})

	s.metrics.RecordFlush(removed)
	if s.config.Logging.LogInvalidations {
		s.logger.Debug("cache scope flushed", zap.String("scope", scope), zap.Int("keys", removed))
	}
	return nil
}

// Size returns the number of entries held by the client
func (s *MemoryStore) Size() int {
	if s.client == nil {
		return 0
	}
	return s.client.Size()
}

// GetMetrics returns current cache performance metrics
func (s *MemoryStore) GetMetrics() MetricsSnapshot {
	return s.metrics.GetSnapshot()
}

// ResetMetrics resets all performance metrics counters
func (s *MemoryStore) ResetMetrics() {
	s.metrics.Reset()
}
