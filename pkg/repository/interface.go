package repository

import (
	"context"

	"github.com/ammar0144/storekit/pkg/criteria"
)

// Contract is the generic repository interface implemented by Repository
type Contract[T any] interface {
	// Queries (served from cache when enabled)
	Query() *Query[T]
	Where(field string, operator criteria.Operator, value any) *Query[T]
	WhereIn(field string, values any) *Query[T]
	WhereHas(relation string, conds ...criteria.Condition) *Query[T]
	With(relations ...string) *Query[T]
	WithTrashed() *Query[T]
	OnlyTrashed() *Query[T]

	Find(ctx context.Context, id any) (*T, error)
	FindOrFail(ctx context.Context, id any) (*T, error)
	FindBy(ctx context.Context, field string, value any) (*T, error)
	FindAll(ctx context.Context) ([]T, error)
	Count(ctx context.Context) (int64, error)
	FindWhere(ctx context.Context, conds ...criteria.Condition) ([]T, error)
	FindWhereIn(ctx context.Context, field string, values any) ([]T, error)
	FindWhereNotIn(ctx context.Context, field string, values any) ([]T, error)
	FindWhereHas(ctx context.Context, relation string, conds ...criteria.Condition) ([]T, error)
	FirstWhere(ctx context.Context, conds ...criteria.Condition) (*T, error)
	FirstLatest(ctx context.Context, column ...string) (*T, error)
	FirstOldest(ctx context.Context, column ...string) (*T, error)
	FullSearch(ctx context.Context, term string) ([]T, error)
	FindOrNew(ctx context.Context, id any) (*T, error)

	// Commands (events released after commit)
	Create(ctx context.Context, attrs Attributes, syncRelations bool) (*T, error)
	CreateMany(ctx context.Context, list []Attributes, syncRelations bool) ([]*T, error)
	Update(ctx context.Context, idOrEntity any, attrs Attributes, syncRelations bool) (*T, error)
	UpdateOrCreate(ctx context.Context, where []any, attrs Attributes, syncRelations, merge bool) (*T, error)
	Store(ctx context.Context, id any, attrs Attributes, syncRelations bool) (*T, error)
	Delete(ctx context.Context, idOrEntity any, relations ...string) (*T, error)
	DeletesBy(ctx context.Context, column string, values any) (DeleteOutcome, error)
	Insert(ctx context.Context, rows []Attributes) (bool, error)
	Restore(ctx context.Context, idOrEntity any) (*T, error)

	// Cache management
	CacheClearer
}

var _ Contract[struct{}] = (*Repository[struct{}])(nil)
