package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set STOREKIT_REDIS_ADDR=host:port to run against a live server
func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("STOREKIT_REDIS_ADDR")
	if addr == "" {
		t.Skip("STOREKIT_REDIS_ADDR not set")
	}

	var err error
	host, port, ok := strings.Cut(addr, ":")
	require.True(t, ok, "STOREKIT_REDIS_ADDR must be host:port")

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Prefix = "storekit_test"
	cfg.Compression.Threshold = 64

	store, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Ping(context.Background()))
	return store
}

func TestRedisStoreRoundTripAndFlush(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Flush(ctx, "posts"))

	large := strings.Repeat("x", 512)
	require.NoError(t, store.Put(ctx, "posts", "a", large, 0))
	require.NoError(t, store.Put(ctx, "posts", "b", 2, 0))
	require.NoError(t, store.Put(ctx, "users", "a", 3, 0))

	var s string
	require.NoError(t, store.Get(ctx, "posts", "a", &s))
	assert.Equal(t, large, s)
	assert.Positive(t, store.GetMetrics().CompressionBytesSaved)

	require.NoError(t, store.Flush(ctx, "posts"))

	var n int
	assert.ErrorIs(t, store.Get(ctx, "posts", "b", &n), ErrKeyNotFound)
	require.NoError(t, store.Get(ctx, "users", "a", &n))
	assert.Equal(t, 3, n)

	require.NoError(t, store.Forget(ctx, "users", "a"))
	assert.ErrorIs(t, store.Get(ctx, "users", "a", &n), ErrKeyNotFound)
}

func TestRedisStoreDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	store, err := NewRedisStore(cfg)
	require.NoError(t, err)

	assert.NoError(t, store.Ping(context.Background()))
	assert.True(t, IsCacheDisabled(store.Put(context.Background(), "posts", "a", 1, 0)))
}

func TestFlushNodesSumsConcurrentMasters(t *testing.T) {
	const masters = 32
	concurrent := func(ctx context.Context, fn func(ctx context.Context, node *redis.Client) error) error {
		var wg sync.WaitGroup
		errs := make(chan error, masters)
		for i := 0; i < masters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fn(ctx, nil); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		return <-errs
	}

	total, err := flushNodes(context.Background(), concurrent, func(context.Context, *redis.Client) (int, error) {
		return 100, nil
	})
	require.NoError(t, err)
	assert.Equal(t, masters*100, total)

	failed := errors.New("node down")
	total, err = flushNodes(context.Background(), concurrent, func(context.Context, *redis.Client) (int, error) {
		return 1, failed
	})
	assert.ErrorIs(t, err, failed)
	assert.Equal(t, masters, total)
}

// Set STOREKIT_REDIS_CLUSTER_ADDRS=host:port,host:port to run against a cluster
func TestRedisStoreClusterFlush(t *testing.T) {
	addrs := os.Getenv("STOREKIT_REDIS_CLUSTER_ADDRS")
	if addrs == "" {
		t.Skip("STOREKIT_REDIS_CLUSTER_ADDRS not set")
	}

	cfg := DefaultConfig()
	cfg.Prefix = "storekit_test"
	cfg.Cluster = ClusterConfig{Enabled: true, Addresses: strings.Split(addrs, ",")}
	store, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Flush(ctx, "posts"))
	before := store.GetMetrics().EvictedKeys

	const keys = 200
	for i := 0; i < keys; i++ {
		require.NoError(t, store.Put(ctx, "posts", fmt.Sprintf("k%d", i), i, 0))
	}
	require.NoError(t, store.Flush(ctx, "posts"))
	assert.Equal(t, uint64(keys), store.GetMetrics().EvictedKeys-before)

	var n int
	assert.ErrorIs(t, store.Get(ctx, "posts", "k0", &n), ErrKeyNotFound)
}
