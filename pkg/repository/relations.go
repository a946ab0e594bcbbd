package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type syncMode int

const (
	syncWrite syncMode = iota
	syncDelete
)

// ExtractRelations splits attrs into the payloads of the relations entity
// declares and the remaining column attributes. Entities that do not
// implement RelationAware have no relations.
func ExtractRelations(entity any, attrs Attributes) (map[string]any, Attributes) {
	declared := map[string]bool{}
	if ra, ok := entity.(RelationAware); ok {
		for _, r := range ra.Relations() {
			declared[r.Name] = true
		}
	}

	relations := make(map[string]any)
	rest := make(Attributes, len(attrs))
	for key, value := range attrs {
		if declared[key] {
			relations[key] = value
			continue
		}
		rest[key] = value
	}
	return relations, rest
}

// syncRelations writes relation payloads for entity. In syncDelete mode
// every named relation is cleared and the payloads are ignored.
func (r *Repository[T]) syncRelations(ctx context.Context, tx *gorm.DB, entity *T, relations map[string]any, mode syncMode) error {
	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, ok := r.meta.relations[name]
		if !ok {
			return fmt.Errorf("%w: %s has no declared relation %q", ErrUnknownRelation, r.meta.schema.Name, name)
		}
		assoc := tx.Model(entity).Association(spec.rel.Name)
		if assoc.Error != nil {
			return assoc.Error
		}

		if mode == syncDelete {
			if err := assoc.Clear(); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
			continue
		}

		if err := r.syncRelation(ctx, tx, assoc, spec, relations[name]); err != nil {
			return fmt.Errorf("sync %s: %w", name, err)
		}
	}
	return nil
}

func (r *Repository[T]) syncRelation(ctx context.Context, tx *gorm.DB, assoc *gorm.Association, spec *relationSpec, payload any) error {
	if spec.Cardinality == One {
		if payload == nil || spec.Strategy == Detach {
			return assoc.Clear()
		}
		obj, err := resolveRelated(ctx, tx, spec.related, payload)
		if err != nil {
			return err
		}
		return assoc.Replace(obj)
	}

	items := payloadItems(payload)
	objs := make([]any, 0, len(items))
	for _, item := range items {
		obj, err := resolveRelated(ctx, tx, spec.related, item)
		if err != nil {
			return err
		}
		objs = append(objs, obj)
	}

	switch spec.Strategy {
	case Attach:
		if len(objs) == 0 {
			return nil
		}
		return assoc.Append(objs...)
	case Detach:
		if len(objs) == 0 {
			return nil
		}
		return assoc.Delete(objs...)
	default:
		if len(objs) == 0 {
			return assoc.Clear()
		}
		return assoc.Replace(objs...)
	}
}

// payloadItems flattens a collection payload. A scalar is a one-element
// collection and nil is empty.
func payloadItems(payload any) []any {
	if payload == nil {
		return nil
	}
	if _, ok := payload.(map[string]any); ok {
		return []any{payload}
	}
	rv := reflect.ValueOf(payload)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{payload}
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{payload}
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items
}

// resolveRelated turns a payload item into a persisted related row. Items
// may be a primary key, an attribute map or an instance of the related type.
func resolveRelated(ctx context.Context, tx *gorm.DB, meta *modelMeta, item any) (any, error) {
	modelType := meta.schema.ModelType

	if attrs, ok := item.(map[string]any); ok {
		return upsertRelated(ctx, tx, meta, attrs)
	}

	if item == nil {
		return nil, fmt.Errorf("%w: nil %s in relation payload", ErrInvalidCriteria, meta.schema.Name)
	}
	rv := reflect.ValueOf(item)
	switch {
	case rv.Kind() == reflect.Ptr && rv.Type().Elem() == modelType:
		return persistRelated(ctx, tx, meta, item)
	case rv.Type() == modelType:
		ptr := reflect.New(modelType)
		ptr.Elem().Set(rv)
		return persistRelated(ctx, tx, meta, ptr.Interface())
	}

	obj := reflect.New(modelType).Interface()
	if err := tx.Where(meta.pkEq(item)).First(obj).Error; err != nil {
		return nil, err
	}
	return obj, nil
}

func persistRelated(ctx context.Context, tx *gorm.DB, meta *modelMeta, obj any) (any, error) {
	if _, zero := meta.primaryValue(ctx, reflect.ValueOf(obj)); !zero {
		return obj, nil
	}
	if err := tx.Omit(clause.Associations).Create(obj).Error; err != nil {
		return nil, err
	}
	return obj, nil
}

// upsertRelated updates the row identified by the map's primary key, or
// creates a new one when the key is absent
func upsertRelated(ctx context.Context, tx *gorm.DB, meta *modelMeta, attrs map[string]any) (any, error) {
	obj := reflect.New(meta.schema.ModelType).Interface()
	rv := reflect.ValueOf(obj)

	id, ok := attrs[meta.primary.DBName]
	if !ok {
		id, ok = attrs[meta.primary.Name]
	}
	if !ok || id == nil {
		if _, _, err := meta.fill(ctx, rv, attrs); err != nil {
			return nil, err
		}
		if err := tx.Omit(clause.Associations).Create(obj).Error; err != nil {
			return nil, err
		}
		return obj, nil
	}

	if err := tx.Where(meta.pkEq(id)).First(obj).Error; err != nil {
		return nil, err
	}
	dirty, _, err := meta.fill(ctx, rv, attrs)
	if err != nil {
		return nil, err
	}
	if len(dirty) > 0 {
		if err := tx.Model(obj).Select(meta.updateColumns(dirty)).Updates(obj).Error; err != nil {
			return nil, err
		}
	}
	return obj, nil
}
