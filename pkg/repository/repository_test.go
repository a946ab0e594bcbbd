package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ammar0144/storekit/pkg/cache"
	"github.com/ammar0144/storekit/pkg/criteria"
	"github.com/ammar0144/storekit/pkg/db"
	"github.com/ammar0144/storekit/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type author struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func (author) TableName() string                 { return "authors" }
func (a author) GetPrimaryKeyValue() interface{} { return a.ID }

type tag struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func (tag) TableName() string                 { return "tags" }
func (t tag) GetPrimaryKeyValue() interface{} { return t.ID }

type comment struct {
	ID     uint `gorm:"primaryKey"`
	PostID *uint
	Body   string
}

func (comment) TableName() string                 { return "comments" }
func (c comment) GetPrimaryKeyValue() interface{} { return c.ID }

type post struct {
	ID        uint `gorm:"primaryKey"`
	Title     string
	Views     int
	Secret    string
	AuthorID  *uint
	Author    *author
	Tags      []tag `gorm:"many2many:post_tags"`
	Comments  []comment
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (post) TableName() string                 { return "posts" }
func (p post) GetPrimaryKeyValue() interface{} { return p.ID }

func (post) FillableAttributes() []string {
	return []string{"title", "views", "author_id"}
}

func (post) Relations() []Relation {
	return []Relation{
		{Name: "author"},
		{Name: "tags"},
		{Name: "comments"},
		{Name: "extra_tags", Field: "Tags", Strategy: Attach},
	}
}

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) handle(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, ev.Name)
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = nil
}

type testEnv struct {
	coord    *db.Coordinator
	store    *cache.MemoryStore
	listener *InvalidationListener
	rec      *recorder
	posts    *Repository[post]
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	dbCfg := db.DefaultConfig()
	dbCfg.Driver = db.DriverSQLite
	dbCfg.Database = filepath.Join(t.TempDir(), "repo.db")
	dbCfg.MaxOpenConns = 1
	dbCfg.MaxIdleConns = 1
	dbCfg.Logging.Level = "silent"

	m, err := db.NewManager(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.DB().AutoMigrate(&author{}, &tag{}, &post{}, &comment{}))

	bus := events.NewBus(nil)
	rec := &recorder{}
	require.NoError(t, bus.Listen("*", rec.handle))
	listener := NewInvalidationListener(nil)
	require.NoError(t, listener.Subscribe(bus))

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Driver = cache.DriverMemory
	store, err := cache.NewMemoryStore(cacheCfg)
	require.NoError(t, err)

	coord := m.NewCoordinator(bus)
	posts, err := New[post](coord, store, cfg)
	require.NoError(t, err)

	return &testEnv{coord: coord, store: store, listener: listener, rec: rec, posts: posts}
}

func (e *testEnv) seed(t *testing.T) (ann, bob author, golang, rust tag) {
	t.Helper()
	ctx := context.Background()
	gdb := e.coord.DB(ctx)

	ann, bob = author{Name: "ann"}, author{Name: "bob"}
	require.NoError(t, gdb.Create(&ann).Error)
	require.NoError(t, gdb.Create(&bob).Error)
	golang, rust = tag{Name: "go"}, tag{Name: "rust"}
	require.NoError(t, gdb.Create(&golang).Error)
	require.NoError(t, gdb.Create(&rust).Error)

	rows := []post{
		{Title: "intro to go", Views: 10, AuthorID: &ann.ID},
		{Title: "borrow checker", Views: 30, AuthorID: &bob.ID},
		{Title: "go generics", Views: 20, AuthorID: &ann.ID},
	}
	require.NoError(t, gdb.Create(&rows).Error)
	require.NoError(t, gdb.Model(&rows[0]).Association("Tags").Append(&golang))
	require.NoError(t, gdb.Model(&rows[2]).Association("Tags").Append(&golang, &rust))
	return ann, bob, golang, rust
}

func titles(rows []post) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Title)
	}
	return out
}

type untagged struct {
	ID uint
}

type unnamed struct {
	ID uint
}

func (unnamed) TableName() string                 { return "" }
func (u unnamed) GetPrimaryKeyValue() interface{} { return u.ID }

type badRelation struct {
	ID uint
}

func (badRelation) TableName() string                 { return "bad_relations" }
func (b badRelation) GetPrimaryKeyValue() interface{} { return b.ID }
func (badRelation) Relations() []Relation             { return []Relation{{Name: "missing"}} }

func TestNewRejectsUnusableEntities(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())

	_, err := New[untagged](env.coord, nil, DefaultConfig())
	assert.True(t, IsConfiguration(err))

	_, err = New[unnamed](env.coord, nil, DefaultConfig())
	assert.True(t, IsConfiguration(err))

	_, err = New[badRelation](env.coord, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrUnknownRelation)

	cfg := DefaultConfig()
	cfg.ID = "posts with spaces"
	_, err = New[post](env.coord, nil, cfg)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = New[post](nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewDefaultsIDToTable(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	assert.Equal(t, "posts", env.posts.RepositoryID())
	assert.Equal(t, "posts", env.posts.Table())
}

func TestFind(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.seed(t)
	ctx := context.Background()

	p, err := env.posts.Find(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "intro to go", p.Title)

	p, err = env.posts.Find(ctx, 99)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = env.posts.FindOrFail(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	p, err = env.posts.FindBy(ctx, "title", "go generics")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 20, p.Views)

	fresh, err := env.posts.FindOrNew(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, fresh.ID)
}

func TestQueryCriteriaResetAfterTerminal(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.seed(t)
	ctx := context.Background()

	q := env.posts.Where("views", criteria.GreaterThan, 15)
	rows, err := q.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.True(t, q.Criteria().IsEmpty())

	rows, err = q.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRepositoryShortcuts(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	ann, _, _, rust := env.seed(t)
	ctx := context.Background()

	rows, err := env.posts.FindWhere(ctx, criteria.Eq("author_id", ann.ID), criteria.Where("views", criteria.LessThan, 15))
	require.NoError(t, err)
	assert.Equal(t, []string{"intro to go"}, titles(rows))

	rows, err = env.posts.FindWhereIn(ctx, "id", []uint{1, 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = env.posts.FindWhereNotIn(ctx, "id", []uint{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"go generics"}, titles(rows))

	rows, err = env.posts.FindWhereHas(ctx, "tags", criteria.Eq("name", rust.Name))
	require.NoError(t, err)
	assert.Equal(t, []string{"go generics"}, titles(rows))

	p, err := env.posts.FirstWhere(ctx, criteria.Where("title", criteria.Like, "%go%"))
	require.NoError(t, err)
	assert.Equal(t, "intro to go", p.Title)

	p, err = env.posts.FirstLatest(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, "borrow checker", p.Title)

	p, err = env.posts.FirstOldest(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, "intro to go", p.Title)
}

func TestEagerLoad(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.seed(t)
	ctx := context.Background()

	p, err := env.posts.With("author", "tags").Find(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, p.Author)
	assert.Equal(t, "ann", p.Author.Name)
	assert.Len(t, p.Tags, 2)

	_, err = env.posts.With("nope").Find(ctx, 3)
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestFullSearch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Searchable = map[string]criteria.Operator{"title": criteria.Like}
	env := newTestEnv(t, cfg)
	env.seed(t)
	ctx := context.Background()

	rows, err := env.posts.FullSearch(ctx, "go")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"intro to go", "go generics"}, titles(rows))

	rows, err = env.posts.Query().Search("30", "views").FindAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"borrow checker"}, titles(rows))
}

func TestAggregates(t *testing.T) {
	env := newTestEnv(t, DefaultConfig())
	env.seed(t)
	ctx := context.Background()

	n, err := env.posts.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ok, err := env.posts.Where("views", criteria.GreaterThan, 100).Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	sum, err := env.posts.Query().Sum(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, 60.0, sum)

	avg, err := env.posts.Query().Avg(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, 20.0, avg)

	lo, err := env.posts.Query().Min(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, 10.0, lo)

	hi, err := env.posts.Where("views", criteria.LessThan, 25).Max(ctx, "views")
	require.NoError(t, err)
	assert.Equal(t, 20.0, hi)

	empty, err := env.posts.Where("views", criteria.GreaterThan, 100).Sum(ctx, "views")
	require.NoError(t, err)
	assert.Zero(t, empty)

	_, err = env.posts.Query().Sum(ctx, "views; drop table posts")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestExtractRelations(t *testing.T) {
	attrs := Attributes{"title": "x", "tags": []uint{1}, "author": 2}

	relations, rest := ExtractRelations(&post{}, attrs)
	assert.Equal(t, map[string]any{"tags": []uint{1}, "author": 2}, relations)
	assert.Equal(t, Attributes{"title": "x"}, rest)
	assert.Len(t, attrs, 3)

	relations, rest = ExtractRelations(&author{}, attrs)
	assert.Empty(t, relations)
	assert.Equal(t, attrs, rest)
}
