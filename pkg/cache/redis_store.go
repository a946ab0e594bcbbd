package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is a Store backed by Redis or Redis Cluster
type RedisStore struct {
	config  *Config
	client  redis.UniversalClient
	metrics *Metrics
	logger  *zap.Logger
}

// NewRedisStore creates a new Redis cache store
func NewRedisStore(config *Config, opts ...Option) (*RedisStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	o := buildOptions(opts)
	store := &RedisStore{
		config:  config,
		metrics: NewMetrics(),
		logger:  o.logger,
	}

	store.initializeClient()
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client redis.UniversalClient, config *Config, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	return &RedisStore{
		config:  config,
		client:  client,
		metrics: NewMetrics(),
		logger:  o.logger,
	}
}

// initializeClient sets up the Redis client based on configuration
func (s *RedisStore) initializeClient() {
	if !s.config.Enabled {
		return // Skip initialization if cache is disabled
	}

	if s.config.IsClusterMode() {
		s.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           s.config.Cluster.Addresses,
			Username:        s.config.Cluster.Username,
			Password:        s.config.Cluster.Password,
			PoolSize:        s.config.PoolSize,
			MinIdleConns:    s.config.MinIdleConns,
			ConnMaxLifetime: s.config.MaxConnAge,
			PoolTimeout:     s.config.PoolTimeout,
			ConnMaxIdleTime: s.config.IdleTimeout,
			ReadTimeout:     s.config.ReadTimeout,
			WriteTimeout:    s.config.WriteTimeout,
			DialTimeout:     s.config.DialTimeout,
		})
		return
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:            s.config.GetAddr(),
		Password:        s.config.Password,
		DB:              s.config.Database,
		PoolSize:        s.config.PoolSize,
		MinIdleConns:    s.config.MinIdleConns,
		ConnMaxLifetime: s.config.MaxConnAge,
		PoolTimeout:     s.config.PoolTimeout,
		ConnMaxIdleTime: s.config.IdleTimeout,
		ReadTimeout:     s.config.ReadTimeout,
		WriteTimeout:    s.config.WriteTimeout,
		DialTimeout:     s.config.DialTimeout,
	})
}

// Config returns the store's configuration
func (s *RedisStore) Config() *Config {
	return s.config
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Ping tests the Redis connection
// Returns nil if cache is disabled (not an error condition)
func (s *RedisStore) Ping(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	if s.client == nil {
		return ErrClientNotInitialized
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// checkClient validates that cache is enabled and client is initialized
func (s *RedisStore) checkClient() error {
	if !s.config.Enabled {
		return ErrCacheDisabled
	}
	if s.client == nil {
		return ErrClientNotInitialized
	}
	return nil
}

// Get retrieves and decodes a value from cache
func (s *RedisStore) Get(ctx context.Context, scope, key string, dest any) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if !validKey(scope, key) {
		return ErrInvalidKey
	}

	fullKey := Key(s.config.Prefix, scope, key)
	start := time.Now()
	data, err := s.client.Get(ctx, fullKey).Bytes()
	s.metrics.RecordGet(time.Since(start))

	if errors.Is(err, redis.Nil) {
		s.metrics.RecordCacheMiss()
		if s.config.Logging.LogCacheMisses {
			s.logger.Debug("cache miss", zap.String("key", fullKey))
		}
		return ErrKeyNotFound
	}
	if err != nil {
		s.metrics.RecordCacheError()
		return fmt.Errorf("redis get error: %w", err)
	}

	if err := decode(data, dest); err != nil {
		s.metrics.RecordCacheError()
		return err
	}

	s.metrics.RecordCacheHit()
	if s.config.Logging.LogCacheHits {
		s.logger.Debug("cache hit", zap.String("key", fullKey))
	}
	return nil
}

// Put encodes and stores a value with TTL
func (s *RedisStore) Put(ctx context.Context, scope, key string, value any, ttl time.Duration) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if !validKey(scope, key) {
		return ErrInvalidKey
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	threshold := 0
	if s.config.Compression.Enabled {
		threshold = s.config.Compression.Threshold
	}
	data, saved, err := encode(value, threshold)
	if err != nil {
		s.metrics.RecordCacheError()
		return err
	}
	if saved > 0 {
		s.metrics.RecordCompression(saved)
	}

	start := time.Now()
	err = s.client.Set(ctx, Key(s.config.Prefix, scope, key), data, ttl).Err()
	s.metrics.RecordSet(time.Since(start))
	if err != nil {
		s.metrics.RecordCacheError()
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Forget removes a key from cache
func (s *RedisStore) Forget(ctx context.Context, scope, key string) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if !validKey(scope, key) {
		return ErrInvalidKey
	}

	start := time.Now()
	err := s.client.Del(ctx, Key(s.config.Prefix, scope, key)).Err()
	s.metrics.RecordDelete(time.Since(start))
	return err
}

// Flush removes every key of scope using SCAN instead of KEYS
// SCAN is non-blocking and production-safe, unlike KEYS which blocks the Redis server
func (s *RedisStore) Flush(ctx context.Context, scope string) error {
	if err := s.checkClient(); err != nil {
		return err
	}
	if scope == "" {
		return ErrInvalidKey
	}

	pattern := ScopePrefix(s.config.Prefix, scope) + "*"
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		total, err := flushNodes(ctx, cluster.ForEachMaster, func(ctx context.Context, node *redis.Client) (int, error) {
			return s.scanDelete(ctx, node, pattern)
		})
		s.recordFlush(scope, total)
		return err
	}

	n, err := s.scanDelete(ctx, s.client, pattern)
	s.recordFlush(scope, n)
	return err
}

type nodeVisitor func(ctx context.Context, fn func(ctx context.Context, node *redis.Client) error) error

// flushNodes sums the keys deleted on every node. ForEachMaster calls fn
// from one goroutine per master, so the total is updated atomically.
func flushNodes(ctx context.Context, each nodeVisitor, del func(ctx context.Context, node *redis.Client) (int, error)) (int, error) {
	var total atomic.Int64
	err := each(ctx, func(ctx context.Context, node *redis.Client) error {
		n, err := del(ctx, node)
		total.Add(int64(n))
		return err
	})
	return int(total.Load()), err
}

func (s *RedisStore) scanDelete(ctx context.Context, client redis.Cmdable, pattern string) (int, error) {
	var cursor uint64
	deleted := 0
	const scanBatchSize = 100 // Process keys in batches

	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}

		// Delete keys in batches to avoid large atomic operations
		if len(batch) > 0 {
			if err := client.Del(ctx, batch...).Err(); err != nil {
				return deleted, fmt.Errorf("failed to delete batch: %w", err)
			}
			deleted += len(batch)
		}

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (s *RedisStore) recordFlush(scope string, n int) {
	s.metrics.RecordFlush(n)
	if s.config.Logging.LogInvalidations {
		s.logger.Debug("cache scope flushed", zap.String("scope", scope), zap.Int("keys", n))
	}
}

// GetStats returns Redis server memory and stats sections
func (s *RedisStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if err := s.checkClient(); err != nil {
		return nil, err
	}

	info := s.client.Info(ctx, "memory", "stats")
	if info.Err() != nil {
		return nil, fmt.Errorf("failed to get redis info: %w", info.Err())
	}

	return map[string]interface{}{"redis_info": info.Val()}, nil
}

// GetMetrics returns current cache performance metrics
func (s *RedisStore) GetMetrics() MetricsSnapshot {
	return s.metrics.GetSnapshot()
}

// ResetMetrics resets all performance metrics counters
func (s *RedisStore) ResetMetrics() {
	s.metrics.Reset()
}
