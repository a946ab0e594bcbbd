package cache

import (
	"fmt"
	"time"
)

// Driver selects the cache backend
type Driver string

const (
	DriverRedis  Driver = "redis"
	DriverMemory Driver = "memory"
)

// Config holds cache store configuration
type Config struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Driver     Driver        `json:"driver" yaml:"driver"` // redis, memory
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`
	Prefix     string        `json:"prefix" yaml:"prefix"`

	// Redis Connection
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`

	// Connection Pool
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age"`
	PoolTimeout  time.Duration `json:"pool_timeout" yaml:"pool_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// Performance
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// Clustering (for Redis Cluster)
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	// In-process store
	Memory MemoryConfig `json:"memory" yaml:"memory"`

	// Value compression (redis only)
	Compression CompressionConfig `json:"compression" yaml:"compression"`

	EnableMetrics bool          `json:"enable_metrics" yaml:"enable_metrics"`
	Logging       LoggingConfig `json:"logging" yaml:"logging"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// MemoryConfig sizes the in-process store
type MemoryConfig struct {
	Capacity           int `json:"capacity" yaml:"capacity"`
	NumShards          int `json:"num_shards" yaml:"num_shards"`
	EvictionPercentage int `json:"eviction_percentage" yaml:"eviction_percentage"`
	// MaxTTL bounds every entry; shorter lifetimes are tracked per key
	MaxTTL time.Duration `json:"max_ttl" yaml:"max_ttl"`
}

// CompressionConfig controls gzip compression of large values
type CompressionConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	Threshold int  `json:"threshold" yaml:"threshold"` // bytes
}

// LoggingConfig controls cache logging behavior
type LoggingConfig struct {
	LogCacheHits     bool `json:"log_cache_hits" yaml:"log_cache_hits"`
	LogCacheMisses   bool `json:"log_cache_misses" yaml:"log_cache_misses"`
	LogInvalidations bool `json:"log_invalidations" yaml:"log_invalidations"`
}

// DefaultConfig returns a cache configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		Driver:       DriverRedis,
		DefaultTTL:   time.Hour,
		Prefix:       "storekit",
		Host:         "localhost",
		Port:         6379,
		Database:     0,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxConnAge:   time.Hour,
		PoolTimeout:  time.Second * 4,
		IdleTimeout:  time.Minute * 5,
		ReadTimeout:  time.Second * 3,
		WriteTimeout: time.Second * 3,
		DialTimeout:  time.Second * 5,
		Memory: MemoryConfig{
			Capacity:           10000,
			NumShards:          10,
			EvictionPercentage: 10,
			MaxTTL:             24 * time.Hour,
		},
		Compression: CompressionConfig{
			Enabled:   true,
			Threshold: 1024 * 100, // Compress values larger than 100KB
		},
		EnableMetrics: true,
		Logging: LoggingConfig{
			LogCacheMisses:   false,
			LogInvalidations: true,
		},
	}
}

// Validate checks if the cache configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // Skip validation if cache is disabled
	}

	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive when cache is enabled")
	}
	if c.Prefix == "" {
		return fmt.Errorf("prefix is required when cache is enabled")
	}

	switch c.driver() {
	case DriverRedis:
		if c.IsClusterMode() {
			break
		}
		if c.Host == "" {
			return fmt.Errorf("redis host is required when cache is enabled")
		}
		if c.Port <= 0 {
			return fmt.Errorf("redis port must be positive")
		}
		if c.PoolSize < 1 {
			return fmt.Errorf("pool_size must be at least 1")
		}
	case DriverMemory:
		if c.Memory.Capacity < 1 {
			return fmt.Errorf("memory.capacity must be at least 1")
		}
		if c.Memory.NumShards < 1 || c.Memory.NumShards > c.Memory.Capacity {
			return fmt.Errorf("memory.num_shards must be between 1 and capacity")
		}
		if c.Memory.EvictionPercentage < 0 || c.Memory.EvictionPercentage > 100 {
			return fmt.Errorf("memory.eviction_percentage must be between 0 and 100")
		}
	default:
		return fmt.Errorf("unsupported cache driver %q", c.Driver)
	}

	return nil
}

func (c *Config) driver() Driver {
	if c.Driver == "" {
		return DriverRedis
	}
	return c.Driver
}

// Shared reports whether entries are visible to other processes
func (c *Config) Shared() bool {
	return c.driver() == DriverRedis
}

// GetAddr returns the Redis connection address
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled && len(c.Cluster.Addresses) > 0
}
