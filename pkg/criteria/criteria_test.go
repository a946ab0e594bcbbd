package criteria

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type author struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

type tag struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

type comment struct {
	ID        uint `gorm:"primaryKey"`
	PostID    uint
	Body      string
	DeletedAt gorm.DeletedAt
}

type post struct {
	ID        uint `gorm:"primaryKey"`
	Title     string
	Views     int
	AuthorID  *uint
	Author    *author
	Tags      []tag `gorm:"many2many:post_tags"`
	Comments  []comment
	DeletedAt gorm.DeletedAt
}

func setup(t *testing.T) (*gorm.DB, *schema.Schema) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "criteria.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&author{}, &tag{}, &post{}, &comment{}))

	ann, bob := author{Name: "ann"}, author{Name: "bob"}
	require.NoError(t, db.Create(&ann).Error)
	require.NoError(t, db.Create(&bob).Error)
	golang, rust := tag{Name: "go"}, tag{Name: "rust"}
	require.NoError(t, db.Create(&golang).Error)
	require.NoError(t, db.Create(&rust).Error)

	posts := []post{
		{Title: "intro to go", Views: 10, AuthorID: &ann.ID, Tags: []tag{golang}},
		{Title: "borrow checker", Views: 30, AuthorID: &bob.ID, Tags: []tag{rust}},
		{Title: "go generics", Views: 20, AuthorID: &ann.ID, Tags: []tag{golang, rust}},
		{Title: "orphan", Views: 5},
	}
	require.NoError(t, db.Create(&posts).Error)

	require.NoError(t, db.Create(&comment{PostID: posts[0].ID, Body: "great"}).Error)
	gone := comment{PostID: posts[1].ID, Body: "great too"}
	require.NoError(t, db.Create(&gone).Error)
	require.NoError(t, db.Delete(&gone).Error)

	trashed := post{Title: "trashed go", Views: 1}
	require.NoError(t, db.Create(&trashed).Error)
	require.NoError(t, db.Delete(&trashed).Error)

	stmt := &gorm.Statement{DB: db}
	require.NoError(t, stmt.Parse(&post{}))
	return db, stmt.Schema
}

func titles(t *testing.T, db *gorm.DB, sch *schema.Schema, c *Criteria) []string {
	t.Helper()
	q, err := c.Apply(db.Model(&post{}), sch)
	require.NoError(t, err)

	var rows []post
	require.NoError(t, q.Order("posts.id").Find(&rows).Error)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Title)
	}
	return out
}

func TestApplyWhere(t *testing.T) {
	db, sch := setup(t)

	got := titles(t, db, sch, New().Where("views", GreaterThanOrEqual, 20))
	assert.Equal(t, []string{"borrow checker", "go generics"}, got)

	got = titles(t, db, sch, New().Where("title", Like, "%go%").Where("views", LessThan, 15))
	assert.Equal(t, []string{"intro to go"}, got)

	got = titles(t, db, sch, New().Where("author_id", IsNull, nil))
	assert.Equal(t, []string{"orphan"}, got)

	got = titles(t, db, sch, New().Where("views", Between, []int{6, 25}))
	assert.Equal(t, []string{"intro to go", "go generics"}, got)
}

func TestApplyOperatorSpellings(t *testing.T) {
	db, sch := setup(t)

	tests := []struct {
		op    Operator
		value any
		want  []string
	}{
		{"is null", nil, []string{"orphan"}},
		{"IS not NULL", nil, []string{"intro to go", "borrow checker", "go generics"}},
		{"between", []int{6, 25}, []string{"intro to go", "go generics"}},
		{"not between", []int{6, 25}, []string{"borrow checker", "orphan"}},
		{"==", 30, []string{"borrow checker"}},
		{"<>", 30, []string{"intro to go", "go generics", "orphan"}},
		{"in", []int{5, 30}, []string{"borrow checker", "orphan"}},
		{"not  in", []int{5, 30}, []string{"intro to go", "go generics"}},
		{"like", "%go%", []string{"intro to go", "go generics"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			field := "views"
			switch tt.op {
			case "is null", "IS not NULL":
				field = "author_id"
			case "like":
				field = "title"
			}
			assert.Equal(t, tt.want, titles(t, db, sch, New().Where(field, tt.op, tt.value)))
		})
	}

	_, err := New().Where("views", "~", 1).Apply(db.Model(&post{}), sch)
	assert.ErrorIs(t, err, ErrInvalidCriteria)
}

func TestSearchAcceptsOperatorSpellings(t *testing.T) {
	db, sch := setup(t)

	got := titles(t, db, sch, New().SearchFor("generics", []SearchField{{Field: "title", Operator: "like"}}))
	assert.Equal(t, []string{"go generics"}, got)
}

func TestApplyWhereInEmptySets(t *testing.T) {
	db, sch := setup(t)

	assert.Empty(t, titles(t, db, sch, New().WhereIn("id", []uint{})))
	assert.Len(t, titles(t, db, sch, New().WhereNotIn("id", []uint{})), 4)
	assert.Equal(t, []string{"intro to go", "orphan"}, titles(t, db, sch, New().WhereIn("views", []int{10, 5})))
	assert.Len(t, titles(t, db, sch, New().WhereNotIn("views", []int{10})), 3)
}

func TestApplyWhereHas(t *testing.T) {
	db, sch := setup(t)

	got := titles(t, db, sch, New().WhereHas("author", Eq("name", "ann")))
	assert.Equal(t, []string{"intro to go", "go generics"}, got, "belongs to")

	got = titles(t, db, sch, New().WhereHas("Tags", Eq("name", "rust")))
	assert.Equal(t, []string{"borrow checker", "go generics"}, got, "many to many")

	got = titles(t, db, sch, New().WhereHas("comments"))
	assert.Equal(t, []string{"intro to go"}, got, "soft-deleted related rows do not count")

	_, err := New().WhereHas("editor").Apply(db.Model(&post{}), sch)
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestApplySearchAndOrder(t *testing.T) {
	db, sch := setup(t)

	c := New().SearchFor("go", []SearchField{{Field: "title", Operator: Like}}).OrderBy("views", true)
	q, err := c.Apply(db.Model(&post{}), sch)
	require.NoError(t, err)

	var rows []post
	require.NoError(t, q.Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "go generics", rows[0].Title)
	assert.Equal(t, "intro to go", rows[1].Title)

	got := titles(t, db, sch, New().SearchFor("30", []SearchField{{Field: "title", Operator: Like}, {Field: "views"}}))
	assert.Equal(t, []string{"borrow checker"}, got)
}

func TestApplyTrashedAndLimit(t *testing.T) {
	db, sch := setup(t)

	assert.Len(t, titles(t, db, sch, New().SetTrashed(IncludeTrashed)), 5)
	assert.Equal(t, []string{"trashed go"}, titles(t, db, sch, New().SetTrashed(OnlyTrashed)))
	assert.Len(t, titles(t, db, sch, New().Take(2)), 2)
}

func TestApplyEagerLoad(t *testing.T) {
	db, sch := setup(t)

	q, err := New().Load("author", "tags").Where("title", Equal, "go generics").Apply(db.Model(&post{}), sch)
	require.NoError(t, err)

	var p post
	require.NoError(t, q.First(&p).Error)
	require.NotNil(t, p.Author)
	assert.Equal(t, "ann", p.Author.Name)
	assert.Len(t, p.Tags, 2)
}

func TestApplyRejectsInvalidIdentifiers(t *testing.T) {
	db, sch := setup(t)

	_, err := New().Where("title; DROP TABLE posts", Equal, 1).Apply(db.Model(&post{}), sch)
	assert.ErrorIs(t, err, ErrInvalidField)

	_, err = New().OrderBy("views desc", false).Apply(db.Model(&post{}), sch)
	assert.ErrorIs(t, err, ErrInvalidField)

	_, err = New().Where("title", Operator("~"), 1).Apply(db.Model(&post{}), sch)
	assert.ErrorIs(t, err, ErrInvalidCriteria)
}

func TestCriteriaStateHelpers(t *testing.T) {
	c := New().Where("title", Equal, "a").WhereHas("tags", Eq("name", "go")).Load("author")
	clone := c.Clone()
	clone.Has[0].Conditions[0].Value = "rust"
	assert.Equal(t, "go", c.Has[0].Conditions[0].Value)

	fp1, err := c.Fingerprint()
	require.NoError(t, err)
	fp2, err := clone.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)

	c.Reset()
	assert.True(t, c.IsEmpty())
	assert.False(t, clone.IsEmpty())
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("not  like")
	require.NoError(t, err)
	assert.Equal(t, NotLike, op)

	op, err = ParseOperator("<>")
	require.NoError(t, err)
	assert.Equal(t, NotEqual, op)

	_, err = ParseOperator("~=")
	assert.ErrorIs(t, err, ErrInvalidCriteria)
}
