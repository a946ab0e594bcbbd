package repository

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/ammar0144/storekit/pkg/criteria"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// modelMeta is the parsed shape of an entity type
type modelMeta struct {
	schema     *schema.Schema
	primary    *schema.Field
	softDelete *schema.Field
	createdAt  *schema.Field
	fillable   map[string]bool
	relations  map[string]*relationSpec
}

type relationSpec struct {
	Relation
	rel     *schema.Relationship
	related *modelMeta
}

// parseSchema parses model the same way GORM does for statements
func parseSchema(db *gorm.DB, model any) (*schema.Schema, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return nil, err
	}
	return stmt.Schema, nil
}

func newModelMeta(sch *schema.Schema, model any) (*modelMeta, error) {
	m := &modelMeta{
		schema:     sch,
		primary:    sch.PrioritizedPrimaryField,
		softDelete: criteria.SoftDeleteField(sch),
		fillable:   make(map[string]bool),
	}
	if m.primary == nil {
		return nil, fmt.Errorf("%w: %s has no single primary key", ErrConfiguration, sch.Name)
	}
	for _, f := range sch.Fields {
		if f.DBName != "" && f.AutoCreateTime > 0 {
			m.createdAt = f
			break
		}
	}

	if fl, ok := model.(Fillable); ok {
		for _, name := range fl.FillableAttributes() {
			f := sch.LookUpField(name)
			if f == nil || f.DBName == "" {
				return nil, fmt.Errorf("%w: %s has no fillable column %q", ErrConfiguration, sch.Name, name)
			}
			m.fillable[f.DBName] = true
		}
		return m, nil
	}

	for _, f := range sch.Fields {
		if f.DBName == "" || f.PrimaryKey || f.AutoCreateTime > 0 || f.AutoUpdateTime > 0 || f == m.softDelete {
			continue
		}
		m.fillable[f.DBName] = true
	}
	return m, nil
}

// resolveRelations binds the declared relations to GORM relationships
func (m *modelMeta) resolveRelations(declared []Relation) error {
	m.relations = make(map[string]*relationSpec, len(declared))
	for _, r := range declared {
		if r.Name == "" {
			return fmt.Errorf("%w: relation without name on %s", ErrConfiguration, m.schema.Name)
		}
		field := r.Field
		if field == "" {
			field = r.Name
		}
		rel, err := criteria.ResolveRelation(m.schema, field)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}

		if r.Cardinality == "" {
			switch rel.Type {
			case schema.HasOne, schema.BelongsTo:
				r.Cardinality = One
			default:
				r.Cardinality = Many
			}
		}
		if r.Strategy == "" {
			if r.Cardinality == One {
				r.Strategy = Assign
			} else {
				r.Strategy = Sync
			}
		}

		related, err := newModelMeta(rel.FieldSchema, reflect.New(rel.FieldSchema.ModelType).Interface())
		if err != nil {
			return err
		}
		m.relations[r.Name] = &relationSpec{Relation: r, rel: rel, related: related}
	}
	return nil
}

// pkEq matches the primary key of the current table
func (m *modelMeta) pkEq(id any) clause.Eq {
	return clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: m.primary.DBName},
		Value:  id,
	}
}

func (m *modelMeta) primaryValue(ctx context.Context, rv reflect.Value) (any, bool) {
	return m.primary.ValueOf(ctx, rv)
}

// trashed reports whether the entity's soft-delete column is set
func (m *modelMeta) trashed(ctx context.Context, rv reflect.Value) bool {
	if m.softDelete == nil {
		return false
	}
	v, zero := m.softDelete.ValueOf(ctx, rv)
	if zero {
		return false
	}
	deleted, ok := v.(gorm.DeletedAt)
	return !ok || deleted.Valid
}

// fill assigns the fillable attributes to rv and returns the columns whose
// value changed. Unknown and guarded keys are skipped.
func (m *modelMeta) fill(ctx context.Context, rv reflect.Value, attrs Attributes) (dirty, skipped []string, err error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		f := m.schema.LookUpField(key)
		if f == nil || !m.fillable[f.DBName] {
			skipped = append(skipped, key)
			continue
		}
		before, _ := f.ValueOf(ctx, rv)
		if err := f.Set(ctx, rv, attrs[key]); err != nil {
			return nil, nil, fmt.Errorf("set %s.%s: %w", m.schema.Table, f.DBName, err)
		}
		after, _ := f.ValueOf(ctx, rv)
		if !reflect.DeepEqual(before, after) && !slices.Contains(dirty, f.DBName) {
			dirty = append(dirty, f.DBName)
		}
	}
	return dirty, skipped, nil
}

// updateColumns returns the dirty columns plus auto-update timestamps, which
// GORM only writes when selected
func (m *modelMeta) updateColumns(dirty []string) []string {
	cols := slices.Clone(dirty)
	for _, f := range m.schema.Fields {
		if f.DBName != "" && f.AutoUpdateTime > 0 && !slices.Contains(cols, f.DBName) {
			cols = append(cols, f.DBName)
		}
	}
	return cols
}
