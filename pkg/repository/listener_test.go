package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ammar0144/storekit/pkg/criteria"
	"github.com/ammar0144/storekit/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedConfig(clearOn ...Mutation) Config {
	cfg := DefaultConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Lifetime = time.Minute
	if clearOn != nil {
		cfg.Cache.ClearOn = clearOn
	}
	return cfg
}

// renameDirect changes a title without going through the repository, so no
// event fires
func (e *testEnv) renameDirect(t *testing.T, id uint, title string) {
	t.Helper()
	require.NoError(t, e.coord.DB(context.Background()).Model(&post{}).
		Where("id = ?", id).Update("title", title).Error)
}

func TestCachedReadsServeUntilInvalidated(t *testing.T) {
	env := newTestEnv(t, cachedConfig())
	env.seed(t)
	ctx := context.Background()

	p, err := env.posts.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "intro to go", p.Title)
	assert.Equal(t, 1, env.store.Size())

	env.renameDirect(t, 1, "changed behind the cache")
	p, err = env.posts.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "intro to go", p.Title)

	_, err = env.posts.Create(ctx, Attributes{"title": "new"}, false)
	require.NoError(t, err)
	assert.Zero(t, env.store.Size())

	p, err = env.posts.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "changed behind the cache", p.Title)
}

func TestCacheKeysIncludeCriteria(t *testing.T) {
	env := newTestEnv(t, cachedConfig())
	env.seed(t)
	ctx := context.Background()

	hot, err := env.posts.Where("views", criteria.GreaterThan, 15).FindAll(ctx)
	require.NoError(t, err)
	all, err := env.posts.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, hot, 2)
	assert.Len(t, all, 3)
	assert.Equal(t, 2, env.store.Size())

	missing, err := env.posts.Find(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 2, env.store.Size())
}

func TestQueryFingerprintFollowsCriteria(t *testing.T) {
	env := newTestEnv(t, cachedConfig())

	hot := env.posts.Where("views", criteria.GreaterThan, 15)
	want, err := hot.Criteria().Fingerprint()
	require.NoError(t, err)
	got, err := hot.fingerprint()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	same, err := env.posts.Where("views", criteria.GreaterThan, 15).fingerprint()
	require.NoError(t, err)
	assert.Equal(t, got, same)

	other, err := env.posts.Where("views", criteria.GreaterThan, 16).fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, got, other)

	withArgs, err := hot.fingerprint(1)
	require.NoError(t, err)
	assert.NotEqual(t, got, withArgs)
	otherArgs, err := hot.fingerprint(2)
	require.NoError(t, err)
	assert.NotEqual(t, withArgs, otherArgs)

	_, err = env.posts.Where("views", criteria.Equal, make(chan int)).fingerprint()
	assert.ErrorIs(t, err, ErrInvalidCriteria)
}

func TestNoCachingInsideTransaction(t *testing.T) {
	env := newTestEnv(t, cachedConfig())
	env.seed(t)
	ctx := context.Background()

	err := env.coord.Transaction(ctx, func(ctx context.Context) error {
		_, err := env.posts.FindAll(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, env.store.Size())
}

func TestClearOnLimitsInvalidation(t *testing.T) {
	env := newTestEnv(t, cachedConfig(MutationDelete))
	env.seed(t)
	ctx := context.Background()

	_, err := env.posts.FindAll(ctx)
	require.NoError(t, err)

	_, err = env.posts.Update(ctx, 1, Attributes{"title": "edited"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.Size())

	_, err = env.posts.Delete(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, env.store.Size())
}

func TestListenerToggleAndClearEnabled(t *testing.T) {
	env := newTestEnv(t, cachedConfig())
	env.seed(t)
	ctx := context.Background()

	_, err := env.posts.FindAll(ctx)
	require.NoError(t, err)

	env.listener.Disable()
	_, err = env.posts.Create(ctx, Attributes{"title": "quiet"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.Size())

	env.listener.Enable()
	cfg := cachedConfig()
	cfg.Cache.ClearEnabled = false
	noClear, err := New[post](env.coord, env.store, cfg)
	require.NoError(t, err)
	_, err = noClear.Create(ctx, Attributes{"title": "also quiet"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.Size())
}

func TestListenerIgnoresForeignPayloads(t *testing.T) {
	l := NewInvalidationListener(nil)
	ev := events.EntityEvent("things", events.Created, "not a repository", nil)
	assert.NoError(t, l.Handle(context.Background(), ev))

	restored := events.EntityEvent("things", events.Restored, nil, nil)
	assert.NoError(t, l.Handle(context.Background(), restored))
}
