package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ammar0144/storekit/pkg/criteria"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Query accumulates criteria for one operation against a repository. The
// criteria are cleared after every terminal call, so a Query never carries
// filters from one execution into the next. A Query is not safe for
// concurrent use.
type Query[T any] struct {
	repo     *Repository[T]
	criteria *criteria.Criteria
}

// Query starts an empty query
func (r *Repository[T]) Query() *Query[T] {
	return &Query[T]{repo: r, criteria: criteria.New()}
}

// Where starts a query with a predicate
func (r *Repository[T]) Where(field string, operator criteria.Operator, value any) *Query[T] {
	return r.Query().Where(field, operator, value)
}

// WhereIn starts a query matching field against values
func (r *Repository[T]) WhereIn(field string, values any) *Query[T] {
	return r.Query().WhereIn(field, values)
}

// WhereHas starts a query with a relation existence filter
func (r *Repository[T]) WhereHas(relation string, conds ...criteria.Condition) *Query[T] {
	return r.Query().WhereHas(relation, conds...)
}

// With starts a query that eager loads relations
func (r *Repository[T]) With(relations ...string) *Query[T] {
	return r.Query().With(relations...)
}

// WithTrashed starts a query that includes soft-deleted rows
func (r *Repository[T]) WithTrashed() *Query[T] {
	return r.Query().WithTrashed()
}

// OnlyTrashed starts a query limited to soft-deleted rows
func (r *Repository[T]) OnlyTrashed() *Query[T] {
	return r.Query().OnlyTrashed()
}

func (q *Query[T]) Where(field string, operator criteria.Operator, value any) *Query[T] {
	q.criteria.Where(field, operator, value)
	return q
}

func (q *Query[T]) WhereIn(field string, values any) *Query[T] {
	q.criteria.WhereIn(field, values)
	return q
}

func (q *Query[T]) WhereNotIn(field string, values any) *Query[T] {
	q.criteria.WhereNotIn(field, values)
	return q
}

// WhereHas keeps rows with at least one related row matching conds
func (q *Query[T]) WhereHas(relation string, conds ...criteria.Condition) *Query[T] {
	q.criteria.WhereHas(relation, conds...)
	return q
}

// With eager loads relations. Dotted paths load nested relations.
func (q *Query[T]) With(relations ...string) *Query[T] {
	q.criteria.Load(relations...)
	return q
}

func (q *Query[T]) OrderBy(column string, desc bool) *Query[T] {
	q.criteria.OrderBy(column, desc)
	return q
}

// Latest orders newest first by column, the creation timestamp, or the
// primary key
func (q *Query[T]) Latest(column ...string) *Query[T] {
	return q.OrderBy(q.timeline(column), true)
}

// Oldest orders oldest first by column, the creation timestamp, or the
// primary key
func (q *Query[T]) Oldest(column ...string) *Query[T] {
	return q.OrderBy(q.timeline(column), false)
}

func (q *Query[T]) timeline(column []string) string {
	if len(column) > 0 && column[0] != "" {
		return column[0]
	}
	if q.repo.meta.createdAt != nil {
		return q.repo.meta.createdAt.DBName
	}
	return q.repo.meta.primary.DBName
}

// Search matches term against fields, or against the repository's
// searchable fields when none are given. Fields outside the searchable set
// are compared with LIKE.
func (q *Query[T]) Search(term string, fields ...string) *Query[T] {
	searchable := q.repo.config.Searchable
	if len(fields) == 0 {
		for field := range searchable {
			fields = append(fields, field)
		}
		sort.Strings(fields)
	}

	labeled := make([]criteria.SearchField, 0, len(fields))
	for _, field := range fields {
		op, ok := searchable[field]
		if !ok {
			op = criteria.Like
		}
		labeled = append(labeled, criteria.SearchField{Field: field, Operator: op})
	}
	q.criteria.SearchFor(term, labeled)
	return q
}

func (q *Query[T]) WithTrashed() *Query[T] {
	q.criteria.SetTrashed(criteria.IncludeTrashed)
	return q
}

func (q *Query[T]) OnlyTrashed() *Query[T] {
	q.criteria.SetTrashed(criteria.OnlyTrashed)
	return q
}

func (q *Query[T]) Limit(n int) *Query[T] {
	q.criteria.Take(n)
	return q
}

// Criteria returns a copy of the accumulated criteria
func (q *Query[T]) Criteria() *criteria.Criteria {
	return q.criteria.Clone()
}

func (q *Query[T]) reset() {
	q.criteria.Reset()
}

// scoped returns a statement for T with every clause applied
func (q *Query[T]) scoped(ctx context.Context) (*gorm.DB, error) {
	return q.criteria.Apply(q.repo.tx.DB(ctx).Model(new(T)), q.repo.meta.schema)
}

// filtered applies only the row filters
func (q *Query[T]) filtered(ctx context.Context) (*gorm.DB, error) {
	return q.criteria.ApplyFilters(q.repo.tx.DB(ctx).Model(new(T)), q.repo.meta.schema)
}

// fingerprint extends the criteria fingerprint with the arguments of the
// terminal operation
func (q *Query[T]) fingerprint(args ...any) ([]byte, error) {
	fp, err := q.criteria.Fingerprint()
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return fp, nil
	}
	extra, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint: %v", ErrInvalidCriteria, err)
	}
	return append(append(fp, '|'), extra...), nil
}

// first loads the first row matching the criteria plus extra conditions
func (q *Query[T]) first(ctx context.Context, op string, args []any, conds ...any) (*T, error) {
	defer q.reset()
	fp, err := q.fingerprint(args...)
	if err != nil {
		return nil, err
	}

	var out T
	found, err := q.repo.remember(ctx, op, fp, &out, func() (bool, error) {
		db, err := q.scoped(ctx)
		if err != nil {
			return false, err
		}
		err = db.First(&out, conds...).Error
		if isRecordNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// Find returns the row with primary key id, or nil when none matches
func (q *Query[T]) Find(ctx context.Context, id any) (*T, error) {
	return q.first(ctx, "find", []any{id}, q.repo.meta.pkEq(id))
}

// FindOrFail is Find returning ErrNotFound for a missing row
func (q *Query[T]) FindOrFail(ctx context.Context, id any) (*T, error) {
	e, err := q.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, q.repo.notFound(id)
	}
	return e, nil
}

// FindBy returns the first row whose field equals value
func (q *Query[T]) FindBy(ctx context.Context, field string, value any) (*T, error) {
	q.criteria.Where(field, criteria.Equal, value)
	return q.first(ctx, "find_by", nil)
}

// First returns the first matching row in primary key order after any
// explicit ordering, or nil
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	return q.first(ctx, "first", nil)
}

// FindAll returns every matching row
func (q *Query[T]) FindAll(ctx context.Context) ([]T, error) {
	defer q.reset()
	fp, err := q.fingerprint()
	if err != nil {
		return nil, err
	}

	var out []T
	_, err = q.repo.remember(ctx, "all", fp, &out, func() (bool, error) {
		db, err := q.scoped(ctx)
		if err != nil {
			return false, err
		}
		return true, db.Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fetch loads matching rows bypassing the cache. Used by mutations.
func (q *Query[T]) fetch(ctx context.Context) ([]T, error) {
	db, err := q.scoped(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := db.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of matching rows
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	defer q.reset()
	fp, err := q.fingerprint()
	if err != nil {
		return 0, err
	}

	var n int64
	_, err = q.repo.remember(ctx, "count", fp, &n, func() (bool, error) {
		db, err := q.filtered(ctx)
		if err != nil {
			return false, err
		}
		return true, db.Count(&n).Error
	})
	return n, err
}

// Exists reports whether any row matches
func (q *Query[T]) Exists(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	return n > 0, err
}

func (q *Query[T]) Sum(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "SUM", column)
}

func (q *Query[T]) Avg(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "AVG", column)
}

func (q *Query[T]) Min(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "MIN", column)
}

func (q *Query[T]) Max(ctx context.Context, column string) (float64, error) {
	return q.aggregate(ctx, "MAX", column)
}

// aggregate computes fn over column. An empty match yields zero.
func (q *Query[T]) aggregate(ctx context.Context, fn, column string) (float64, error) {
	defer q.reset()
	if !criteria.ValidField(column) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidField, column)
	}
	fp, err := q.fingerprint(fn, column)
	if err != nil {
		return 0, err
	}

	col := clause.Column{Table: clause.CurrentTable, Name: column}
	if table, name, ok := strings.Cut(column, "."); ok {
		col = clause.Column{Table: table, Name: name}
	}

	var result float64
	_, err = q.repo.remember(ctx, strings.ToLower(fn), fp, &result, func() (bool, error) {
		db, err := q.filtered(ctx)
		if err != nil {
			return false, err
		}
		var v sql.NullFloat64
		if err := db.Select(fn+"(?)", col).Row().Scan(&v); err != nil {
			return false, err
		}
		result = v.Float64
		return true, nil
	})
	return result, err
}

// Find returns the row with primary key id, or nil
func (r *Repository[T]) Find(ctx context.Context, id any) (*T, error) {
	return r.Query().Find(ctx, id)
}

// FindOrFail returns the row with primary key id or ErrNotFound
func (r *Repository[T]) FindOrFail(ctx context.Context, id any) (*T, error) {
	return r.Query().FindOrFail(ctx, id)
}

// FindBy returns the first row whose field equals value, or nil
func (r *Repository[T]) FindBy(ctx context.Context, field string, value any) (*T, error) {
	return r.Query().FindBy(ctx, field, value)
}

// FindAll returns every row
func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.Query().FindAll(ctx)
}

// Count returns the number of rows
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	return r.Query().Count(ctx)
}

// FindWhere returns the rows matching every condition
func (r *Repository[T]) FindWhere(ctx context.Context, conds ...criteria.Condition) ([]T, error) {
	q := r.Query()
	for _, c := range conds {
		q.Where(c.Field, c.Operator, c.Value)
	}
	return q.FindAll(ctx)
}

func (r *Repository[T]) FindWhereIn(ctx context.Context, field string, values any) ([]T, error) {
	return r.Query().WhereIn(field, values).FindAll(ctx)
}

func (r *Repository[T]) FindWhereNotIn(ctx context.Context, field string, values any) ([]T, error) {
	return r.Query().WhereNotIn(field, values).FindAll(ctx)
}

// FindWhereHas returns the rows having a related row that matches conds
func (r *Repository[T]) FindWhereHas(ctx context.Context, relation string, conds ...criteria.Condition) ([]T, error) {
	return r.Query().WhereHas(relation, conds...).FindAll(ctx)
}

// FirstWhere returns the first row matching every condition, or nil
func (r *Repository[T]) FirstWhere(ctx context.Context, conds ...criteria.Condition) (*T, error) {
	q := r.Query()
	for _, c := range conds {
		q.Where(c.Field, c.Operator, c.Value)
	}
	return q.First(ctx)
}

// FirstLatest returns the newest row, or nil
func (r *Repository[T]) FirstLatest(ctx context.Context, column ...string) (*T, error) {
	return r.Query().Latest(column...).First(ctx)
}

// FirstOldest returns the oldest row, or nil
func (r *Repository[T]) FirstOldest(ctx context.Context, column ...string) (*T, error) {
	return r.Query().Oldest(column...).First(ctx)
}

// FullSearch matches term against the configured searchable fields
func (r *Repository[T]) FullSearch(ctx context.Context, term string) ([]T, error) {
	return r.Query().Search(term).FindAll(ctx)
}
