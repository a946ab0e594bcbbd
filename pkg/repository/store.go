package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ammar0144/storekit/pkg/criteria"
	"github.com/ammar0144/storekit/pkg/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeleteOutcome summarizes a multi-row delete
type DeleteOutcome int

const (
	// DeleteNoMatch means no row matched the criteria
	DeleteNoMatch DeleteOutcome = iota
	// DeleteSucceeded means every matched row was deleted
	DeleteSucceeded
	// DeleteFailed means at least one matched row was not deleted
	DeleteFailed
)

func (o DeleteOutcome) String() string {
	switch o {
	case DeleteNoMatch:
		return "no_match"
	case DeleteSucceeded:
		return "succeeded"
	case DeleteFailed:
		return "failed"
	default:
		return fmt.Sprintf("DeleteOutcome(%d)", int(o))
	}
}

// split separates relation payloads when relations are synchronized
func (r *Repository[T]) split(attrs Attributes, syncRelations bool) (map[string]any, Attributes) {
	if !syncRelations {
		return nil, attrs
	}
	return ExtractRelations(new(T), attrs)
}

func (r *Repository[T]) fill(ctx context.Context, e *T, attrs Attributes) ([]string, error) {
	dirty, skipped, err := r.meta.fill(ctx, reflect.ValueOf(e), attrs)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		r.logger.Debug("ignored attributes", zap.Strings("keys", skipped))
	}
	return dirty, nil
}

// resolve returns idOrEntity itself when it is a T, or loads the row with
// that primary key. A missing row yields nil.
func (r *Repository[T]) resolve(ctx context.Context, idOrEntity any, withTrashed bool) (*T, error) {
	switch v := idOrEntity.(type) {
	case *T:
		return v, nil
	case T:
		return &v, nil
	}

	db := r.tx.DB(ctx)
	if withTrashed {
		db = db.Unscoped()
	}
	var out T
	err := db.Where(r.meta.pkEq(idOrEntity)).First(&out).Error
	if isRecordNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Create fills a new entity from attrs and persists it. With
// syncRelations, declared relation keys are written through their
// associations. A created event is always scheduled.
func (r *Repository[T]) Create(ctx context.Context, attrs Attributes, syncRelations bool) (*T, error) {
	var out *T
	err := r.tx.Within(ctx, func(ctx context.Context) error {
		e, err := r.create(ctx, attrs, syncRelations)
		out = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository[T]) create(ctx context.Context, attrs Attributes, syncRelations bool) (*T, error) {
	relations, attrs := r.split(attrs, syncRelations)

	e := new(T)
	if _, err := r.fill(ctx, e, attrs); err != nil {
		return nil, err
	}
	db := r.tx.DB(ctx)
	if err := db.Omit(clause.Associations).Create(e).Error; err != nil {
		return nil, err
	}
	if len(relations) > 0 {
		if err := r.syncRelations(ctx, db, e, relations, syncWrite); err != nil {
			return nil, err
		}
	}
	if err := r.fire(ctx, events.Created, e); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateMany creates one entity per attribute set in a single transaction
func (r *Repository[T]) CreateMany(ctx context.Context, list []Attributes, syncRelations bool) ([]*T, error) {
	out := make([]*T, 0, len(list))
	err := r.tx.Within(ctx, func(ctx context.Context) error {
		for _, attrs := range list {
			e, err := r.create(ctx, attrs, syncRelations)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update fills the entity (or the row with that primary key) from attrs and
// writes the changed columns. It returns nil when the row does not exist or
// the write affected nothing. An updated event is scheduled only when a
// column changed or relations were synchronized.
func (r *Repository[T]) Update(ctx context.Context, idOrEntity any, attrs Attributes, syncRelations bool) (*T, error) {
	var out *T
	err := r.tx.Within(ctx, func(ctx context.Context) error {
		e, err := r.resolve(ctx, idOrEntity, false)
		if err != nil || e == nil {
			return err
		}
		relations, rest := r.split(attrs, syncRelations)
		saved, changed, err := r.save(ctx, e, rest, relations, syncRelations)
		if err != nil || !saved {
			return err
		}
		if changed {
			if err := r.fire(ctx, events.Updated, e); err != nil {
				return err
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// save writes the dirty columns of e and synchronizes relations. Clean
// entities are not written and count as saved.
func (r *Repository[T]) save(ctx context.Context, e *T, attrs Attributes, relations map[string]any, syncRelations bool) (saved, changed bool, err error) {
	dirty, err := r.fill(ctx, e, attrs)
	if err != nil {
		return false, false, err
	}

	db := r.tx.DB(ctx)
	saved = true
	if len(dirty) > 0 {
		res := db.Model(e).Select(r.meta.updateColumns(dirty)).Updates(e)
		if res.Error != nil {
			return false, false, res.Error
		}
		saved = res.RowsAffected > 0
	}
	if syncRelations && len(relations) > 0 {
		if err := r.syncRelations(ctx, db, e, relations, syncWrite); err != nil {
			return false, false, err
		}
	}
	return saved, len(dirty) > 0 || syncRelations, nil
}

// UpdateSet fills every matched row with attrs. It returns false when no
// row matched or any save affected nothing. Each saved row schedules an
// updated event.
func (q *Query[T]) UpdateSet(ctx context.Context, attrs Attributes, syncRelations bool) (bool, error) {
	defer q.reset()
	r := q.repo

	var ok bool
	err := r.tx.Within(ctx, func(ctx context.Context) error {
		rows, err := q.fetch(ctx)
		if err != nil || len(rows) == 0 {
			return err
		}

		relations, rest := r.split(attrs, syncRelations)
		ok = true
		for i := range rows {
			saved, _, err := r.save(ctx, &rows[i], rest, relations, syncRelations)
			if err != nil {
				return err
			}
			if !saved {
				ok = false
				continue
			}
			if err := r.fire(ctx, events.Updated, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// UpdateOrCreate updates every row matching where with attrs, or creates
// one when nothing matches. where is a flat list of column, operator, value
// triples. With merge, the first triple's column and value are added to
// attrs unless attrs already set that column. The result is the last
// updated row or the created one. An empty where is rejected rather than
// matching every row.
func (r *Repository[T]) UpdateOrCreate(ctx context.Context, where []any, attrs Attributes, syncRelations, merge bool) (*T, error) {
	conds, err := parseTriples(where)
	if err != nil {
		return nil, err
	}
	if merge && len(conds) > 0 {
		merged := Attributes{conds[0].Field: conds[0].Value}
		for k, v := range attrs {
			merged[k] = v
		}
		attrs = merged
	}

	var out *T
	err = r.tx.Within(ctx, func(ctx context.Context) error {
		q := r.Query()
		for _, c := range conds {
			q.Where(c.Field, c.Operator, c.Value)
		}
		rows, err := q.fetch(ctx)
		q.reset()
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			out, err = r.create(ctx, attrs, syncRelations)
			return err
		}

		relations, rest := r.split(attrs, syncRelations)
		for i := range rows {
			saved, changed, err := r.save(ctx, &rows[i], rest, relations, syncRelations)
			if err != nil {
				return err
			}
			out = nil
			if !saved {
				continue
			}
			if changed {
				if err := r.fire(ctx, events.Updated, &rows[i]); err != nil {
					return err
				}
			}
			out = &rows[i]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseTriples(where []any) ([]criteria.Condition, error) {
	if len(where) == 0 {
		return nil, fmt.Errorf("%w: where must not be empty", ErrInvalidCriteria)
	}
	if len(where)%3 != 0 {
		return nil, fmt.Errorf("%w: where needs column, operator, value triples, got %d values", ErrInvalidCriteria, len(where))
	}
	conds := make([]criteria.Condition, 0, len(where)/3)
	for i := 0; i < len(where); i += 3 {
		field, ok := where[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: column at %d is %T, not string", ErrInvalidCriteria, i, where[i])
		}
		var op criteria.Operator
		switch v := where[i+1].(type) {
		case criteria.Operator:
			op = v
		case string:
			parsed, err := criteria.ParseOperator(v)
			if err != nil {
				return nil, err
			}
			op = parsed
		default:
			return nil, fmt.Errorf("%w: operator at %d is %T", ErrInvalidCriteria, i+1, where[i+1])
		}
		conds = append(conds, criteria.Where(field, op, where[i+2]))
	}
	return conds, nil
}

// Delete removes the entity (or the row with that primary key), soft
// deleting when the model supports it. Named relations are cleared first.
// It returns nil when the row is missing or nothing was deleted.
func (r *Repository[T]) Delete(ctx context.Context, idOrEntity any, relations ...string) (*T, error) {
	var out *T
	err := r.tx.Within(ctx, func(ctx context.Context) error {
		e, err := r.resolve(ctx, idOrEntity, false)
		if err != nil || e == nil {
			return err
		}
		if len(relations) > 0 {
			detach := make(map[string]any, len(relations))
			for _, name := range relations {
				detach[name] = nil
			}
			if err := r.syncRelations(ctx, r.tx.DB(ctx), e, detach, syncDelete); err != nil {
				return err
			}
		}
		deleted, err := r.destroy(ctx, e)
		if deleted {
			out = e
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository[T]) destroy(ctx context.Context, e *T) (bool, error) {
	res := r.tx.DB(ctx).Delete(e)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, r.fire(ctx, events.Deleted, e)
}

// Deletes removes every matched row, each scheduling a deleted event
func (q *Query[T]) Deletes(ctx context.Context) (DeleteOutcome, error) {
	defer q.reset()
	r := q.repo

	outcome := DeleteNoMatch
	err := r.tx.Within(ctx, func(ctx context.Context) error {
		rows, err := q.fetch(ctx)
		if err != nil || len(rows) == 0 {
			return err
		}
		outcome = DeleteSucceeded
		for i := range rows {
			deleted, err := r.destroy(ctx, &rows[i])
			if err != nil {
				return err
			}
			if !deleted {
				outcome = DeleteFailed
			}
		}
		return nil
	})
	if err != nil {
		return DeleteNoMatch, err
	}
	return outcome, nil
}

// DeletesBy removes the rows whose column is one of values
func (r *Repository[T]) DeletesBy(ctx context.Context, column string, values any) (DeleteOutcome, error) {
	return r.WhereIn(column, values).Deletes(ctx)
}

// Insert writes rows straight into the table without hydrating entities.
// A single created event is scheduled with an empty entity as its subject.
func (r *Repository[T]) Insert(ctx context.Context, rows []Attributes) (bool, error) {
	if len(rows) == 0 {
		return true, nil
	}
	values := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		values[i] = row
	}

	err := r.tx.Within(ctx, func(ctx context.Context) error {
		if err := r.tx.DB(ctx).Table(r.meta.schema.Table).Create(values).Error; err != nil {
			return err
		}
		return r.fire(ctx, events.Created, new(T))
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Restore clears the soft-delete column of the entity (or the row with that
// primary key) and fires restored, whether or not the row was trashed.
// Models without soft deletes and missing rows yield nil.
func (r *Repository[T]) Restore(ctx context.Context, idOrEntity any) (*T, error) {
	if r.meta.softDelete == nil {
		return nil, nil
	}

	var out *T
	err := r.tx.Within(ctx, func(ctx context.Context) error {
		e, err := r.resolve(ctx, idOrEntity, true)
		if err != nil || e == nil {
			return err
		}
		rv := reflect.ValueOf(e)
		trashed := r.meta.trashed(ctx, rv)

		res := r.tx.DB(ctx).Unscoped().Model(e).Update(r.meta.softDelete.DBName, nil)
		if res.Error != nil {
			return res.Error
		}
		// Some drivers report zero rows when nothing changed; only a trashed
		// row that was not touched means it vanished meanwhile
		if trashed && res.RowsAffected == 0 {
			return nil
		}
		if err := r.meta.softDelete.Set(ctx, rv, gorm.DeletedAt{}); err != nil {
			return err
		}
		out = e
		return r.fire(ctx, events.Restored, e)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Store creates when id is nil or zero and updates otherwise
func (r *Repository[T]) Store(ctx context.Context, id any, attrs Attributes, syncRelations bool) (*T, error) {
	if id == nil || reflect.ValueOf(id).IsZero() {
		return r.Create(ctx, attrs, syncRelations)
	}
	return r.Update(ctx, id, attrs, syncRelations)
}

// FindOrNew returns the row with primary key id or a new unsaved entity
func (r *Repository[T]) FindOrNew(ctx context.Context, id any) (*T, error) {
	e, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return new(T), nil
	}
	return e, nil
}
