package criteria

import (
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

var deletedAtType = reflect.TypeOf(gorm.DeletedAt{})

// SoftDeleteField returns the gorm.DeletedAt field of sch, if any
func SoftDeleteField(sch *schema.Schema) *schema.Field {
	for _, f := range sch.Fields {
		if f.FieldType == deletedAtType && f.DBName != "" {
			return f
		}
	}
	return nil
}

// ResolveRelation finds the relationship named name. Matching is exact on
// the Go field name first, then case-insensitive with underscores ignored.
func ResolveRelation(sch *schema.Schema, name string) (*schema.Relationship, error) {
	if rel, ok := sch.Relationships.Relations[name]; ok {
		return rel, nil
	}
	want := normalize(name)
	for fieldName, rel := range sch.Relationships.Relations {
		if normalize(fieldName) == want {
			return rel, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no relation %q", ErrUnknownRelation, sch.Name, name)
}

func normalize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// Apply adds the criteria to db, which must target the table of sch
func (c *Criteria) Apply(db *gorm.DB, sch *schema.Schema) (*gorm.DB, error) {
	if err := c.applyTrashed(&db, sch); err != nil {
		return nil, err
	}

	for _, cond := range c.Conditions {
		cond, err := cond.normalize()
		if err != nil {
			return nil, err
		}
		sql, args := cond.build(sch.Table)
		db = db.Where(sql, args...)
	}

	for _, h := range c.Has {
		sql, sub, err := hasSubquery(db, sch, h)
		if err != nil {
			return nil, err
		}
		db = db.Where(sql, sub)
	}

	if c.Search != nil && c.Search.Term != "" && len(c.Search.Fields) > 0 {
		group, err := searchGroup(db, sch, c.Search)
		if err != nil {
			return nil, err
		}
		db = db.Where(group)
	}

	for _, name := range c.With {
		path, err := preloadPath(sch, name)
		if err != nil {
			return nil, err
		}
		db = db.Preload(path)
	}

	for _, o := range c.Orders {
		if !ValidField(o.Column) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, o.Column)
		}
		db = db.Order(clause.OrderByColumn{Column: orderColumn(sch.Table, o.Column), Desc: o.Desc})
	}

	if c.Limit > 0 {
		db = db.Limit(c.Limit)
	}
	return db, nil
}

// ApplyFilters adds only the row-selecting clauses, skipping eager loads,
// ordering and limit. Used for aggregates.
func (c *Criteria) ApplyFilters(db *gorm.DB, sch *schema.Schema) (*gorm.DB, error) {
	filters := c.Clone()
	filters.With, filters.Orders, filters.Limit = nil, nil, 0
	return filters.Apply(db, sch)
}

func (c *Criteria) applyTrashed(db **gorm.DB, sch *schema.Schema) error {
	switch c.Trashed {
	case WithoutTrashed:
	case IncludeTrashed:
		*db = (*db).Unscoped()
	case OnlyTrashed:
		field := SoftDeleteField(sch)
		if field == nil {
			// Without soft deletes nothing is ever trashed
			*db = (*db).Where("1 = 0")
			return nil
		}
		*db = (*db).Unscoped().Where(fmt.Sprintf("%s IS NOT NULL", qualify(sch.Table, field.DBName)))
	default:
		return fmt.Errorf("%w: unknown trashed mode %d", ErrInvalidCriteria, c.Trashed)
	}
	return nil
}

func orderColumn(table, column string) clause.Column {
	if t, col, ok := strings.Cut(column, "."); ok {
		return clause.Column{Table: t, Name: col}
	}
	return clause.Column{Table: table, Name: column}
}

// preloadPath maps the first segment of a dotted relation path to its Go
// field name
func preloadPath(sch *schema.Schema, name string) (string, error) {
	head, rest, nested := strings.Cut(name, ".")
	rel, err := ResolveRelation(sch, head)
	if err != nil {
		return "", err
	}
	if nested {
		return rel.Name + "." + rest, nil
	}
	return rel.Name, nil
}

func searchGroup(db *gorm.DB, sch *schema.Schema, s *Search) (*gorm.DB, error) {
	group := db.Session(&gorm.Session{NewDB: true})
	for i, f := range s.Fields {
		op := Equal
		if f.Operator != "" {
			parsed, err := ParseOperator(string(f.Operator))
			if err != nil {
				return nil, err
			}
			op = parsed
		}
		value := any(s.Term)
		if op == Like || op == NotLike {
			value = "%" + s.Term + "%"
		}

		cond, err := Where(f.Field, op, value).normalize()
		if err != nil {
			return nil, err
		}
		sql, args := cond.build(sch.Table)
		if i == 0 {
			group = group.Where(sql, args...)
		} else {
			group = group.Or(sql, args...)
		}
	}
	return group, nil
}

// hasSubquery renders "outer IN (subquery)" for a relation existence filter
func hasSubquery(db *gorm.DB, sch *schema.Schema, h Has) (string, *gorm.DB, error) {
	rel, err := ResolveRelation(sch, h.Relation)
	if err != nil {
		return "", nil, err
	}
	related := rel.FieldSchema
	fresh := db.Session(&gorm.Session{NewDB: true})

	// Related rows go through Model so their soft-delete scope applies
	relatedQuery := func(column string) (*gorm.DB, error) {
		q := fresh.Model(reflect.New(related.ModelType).Interface()).Select(qualify(related.Table, column))
		for _, cond := range h.Conditions {
			cond, err := cond.normalize()
			if err != nil {
				return nil, err
			}
			sql, args := cond.build(related.Table)
			q = q.Where(sql, args...)
		}
		return q, nil
	}

	if rel.JoinTable != nil {
		var ownerPK, joinOwner, relatedPK, joinRelated string
		var fixed []clause.Expression
		for _, ref := range rel.References {
			switch {
			case ref.OwnPrimaryKey:
				if ownerPK != "" {
					return "", nil, compositeKeyErr(rel)
				}
				ownerPK, joinOwner = ref.PrimaryKey.DBName, ref.ForeignKey.DBName
			case ref.PrimaryValue != "":
				fixed = append(fixed, clause.Eq{
					Column: clause.Column{Table: rel.JoinTable.Table, Name: ref.ForeignKey.DBName},
					Value:  ref.PrimaryValue,
				})
			default:
				if relatedPK != "" {
					return "", nil, compositeKeyErr(rel)
				}
				relatedPK, joinRelated = ref.PrimaryKey.DBName, ref.ForeignKey.DBName
			}
		}

		inner, err := relatedQuery(relatedPK)
		if err != nil {
			return "", nil, err
		}
		sub := fresh.Table(rel.JoinTable.Table).
			Select(qualify(rel.JoinTable.Table, joinOwner)).
			Where(fmt.Sprintf("%s IN (?)", qualify(rel.JoinTable.Table, joinRelated)), inner)
		for _, expr := range fixed {
			sub = sub.Where(expr)
		}
		return fmt.Sprintf("%s IN (?)", qualify(sch.Table, ownerPK)), sub, nil
	}

	var outer, inner string
	var fixed []clause.Expression
	for _, ref := range rel.References {
		switch {
		case ref.OwnPrimaryKey:
			// has one / has many: our key is referenced by the related rows
			if outer != "" {
				return "", nil, compositeKeyErr(rel)
			}
			outer, inner = ref.PrimaryKey.DBName, ref.ForeignKey.DBName
		case ref.PrimaryValue != "":
			fixed = append(fixed, clause.Eq{
				Column: clause.Column{Table: related.Table, Name: ref.ForeignKey.DBName},
				Value:  ref.PrimaryValue,
			})
		default:
			// belongs to: we hold the foreign key
			if outer != "" {
				return "", nil, compositeKeyErr(rel)
			}
			outer, inner = ref.ForeignKey.DBName, ref.PrimaryKey.DBName
		}
	}
	if outer == "" {
		return "", nil, compositeKeyErr(rel)
	}

	sub, err := relatedQuery(inner)
	if err != nil {
		return "", nil, err
	}
	for _, expr := range fixed {
		sub = sub.Where(expr)
	}
	return fmt.Sprintf("%s IN (?)", qualify(sch.Table, outer)), sub, nil
}

func compositeKeyErr(rel *schema.Relationship) error {
	return fmt.Errorf("%w: relation %q must use a single-column key", ErrInvalidCriteria, rel.Name)
}
