package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedPost struct {
	ID    uint
	Title string
	Tags  []string
}

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Driver = DriverMemory
	store, err := NewMemoryStore(cfg)
	require.NoError(t, err)
	return store
}

func TestMemoryStorePutGet(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	in := []cachedPost{{ID: 1, Title: "hello", Tags: []string{"go"}}}
	require.NoError(t, store.Put(ctx, "posts", "all", in, 0))

	var out []cachedPost
	require.NoError(t, store.Get(ctx, "posts", "all", &out))
	assert.Equal(t, in, out)

	err := store.Get(ctx, "posts", "missing", &out)
	assert.True(t, IsKeyNotFound(err))

	snap := store.GetMetrics()
	assert.EqualValues(t, 1, snap.CacheHits)
	assert.EqualValues(t, 1, snap.CacheMisses)
}

func TestMemoryStoreHonoursPerEntryTTL(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "posts", "short", 1, time.Second))
	require.NoError(t, store.Put(ctx, "posts", "long", 2, time.Hour))

	now = now.Add(2 * time.Second)

	var v int
	assert.ErrorIs(t, store.Get(ctx, "posts", "short", &v), ErrKeyNotFound)
	require.NoError(t, store.Get(ctx, "posts", "long", &v))
	assert.Equal(t, 2, v)
}

func TestMemoryStoreFlushIsScoped(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "posts", "a", 1, 0))
	require.NoError(t, store.Put(ctx, "posts", "b", 2, 0))
	require.NoError(t, store.Put(ctx, "posts_archive", "a", 3, 0))
	require.NoError(t, store.Put(ctx, "users", "a", 4, 0))

	require.NoError(t, store.Flush(ctx, "posts"))

	var v int
	assert.ErrorIs(t, store.Get(ctx, "posts", "a", &v), ErrKeyNotFound)
	assert.ErrorIs(t, store.Get(ctx, "posts", "b", &v), ErrKeyNotFound)
	require.NoError(t, store.Get(ctx, "posts_archive", "a", &v))
	assert.Equal(t, 3, v)
	require.NoError(t, store.Get(ctx, "users", "a", &v))
	assert.Equal(t, 4, v)

	snap := store.GetMetrics()
	assert.EqualValues(t, 1, snap.FlushCount)
	assert.EqualValues(t, 2, snap.EvictedKeys)
}

func TestMemoryStoreForget(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "posts", "a", "x", 0))
	require.NoError(t, store.Forget(ctx, "posts", "a"))

	var v string
	assert.ErrorIs(t, store.Get(ctx, "posts", "a", &v), ErrKeyNotFound)
	assert.ErrorIs(t, store.Put(ctx, "", "a", "x", 0), ErrInvalidKey)
}

func TestMemoryStoreDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = DriverMemory
	cfg.Enabled = false
	store, err := NewMemoryStore(cfg)
	require.NoError(t, err)

	var v int
	assert.True(t, IsCacheDisabled(store.Get(context.Background(), "posts", "a", &v)))
	assert.True(t, IsCacheDisabled(store.Flush(context.Background(), "posts")))
}

func TestEncodeCompressesLargeValues(t *testing.T) {
	value := strings.Repeat("storekit ", 1000)

	data, saved, err := encode(value, 128)
	require.NoError(t, err)
	assert.Equal(t, formatGzip, data[0])
	assert.Positive(t, saved)

	var out string
	require.NoError(t, decode(data, &out))
	assert.Equal(t, value, out)

	data, saved, err = encode("tiny", 128)
	require.NoError(t, err)
	assert.Equal(t, formatPlain, data[0])
	assert.Zero(t, saved)

	assert.ErrorIs(t, decode([]byte{9, 1}, &out), ErrSerializationFailed)
}

func TestHashKey(t *testing.T) {
	a := HashKey("all", []byte(`{"where":[]}`))
	b := HashKey("all", []byte(`{"where":[]}`))
	c := HashKey("all", []byte(`{"where":[1]}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "all:"))
	assert.Equal(t, "storekit:posts:all:1", Key("storekit", "posts", "all:1"))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Driver = "memcached"
	assert.Error(t, cfg.Validate())

	cfg.Driver = DriverMemory
	cfg.Memory.NumShards = cfg.Memory.Capacity + 1
	assert.Error(t, cfg.Validate())

	cfg.Enabled = false
	assert.NoError(t, cfg.Validate())
}
