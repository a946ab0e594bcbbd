package criteria

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Trashed selects how soft-deleted rows are treated
type Trashed int

const (
	WithoutTrashed Trashed = iota
	IncludeTrashed
	OnlyTrashed
)

// Order is one ORDER BY column
type Order struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Has filters on the existence of related rows matching Conditions
type Has struct {
	Relation   string      `json:"relation"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// SearchField is one labeled column compared by a search
type SearchField struct {
	Field    string   `json:"field"`
	Operator Operator `json:"op"`
}

// Search matches Term against any of Fields
type Search struct {
	Term   string        `json:"term"`
	Fields []SearchField `json:"fields"`
}

// Criteria accumulates the filter, eager-load and ordering state of one
// query. It is not safe for concurrent use.
type Criteria struct {
	Conditions []Condition `json:"where,omitempty"`
	Has        []Has       `json:"has,omitempty"`
	With       []string    `json:"with,omitempty"`
	Orders     []Order     `json:"order,omitempty"`
	Search     *Search     `json:"search,omitempty"`
	Trashed    Trashed     `json:"trashed,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// New returns empty criteria
func New() *Criteria {
	return &Criteria{}
}

// Where adds a predicate
func (c *Criteria) Where(field string, operator Operator, value any) *Criteria {
	c.Conditions = append(c.Conditions, Where(field, operator, value))
	return c
}

// WhereIn adds field IN (values)
func (c *Criteria) WhereIn(field string, values any) *Criteria {
	return c.Where(field, In, values)
}

// WhereNotIn adds field NOT IN (values)
func (c *Criteria) WhereNotIn(field string, values any) *Criteria {
	return c.Where(field, NotIn, values)
}

// WhereHas keeps rows with at least one related row matching conds
func (c *Criteria) WhereHas(relation string, conds ...Condition) *Criteria {
	c.Has = append(c.Has, Has{Relation: relation, Conditions: slices.Clone(conds)})
	return c
}

// Load eager-loads relations
func (c *Criteria) Load(relations ...string) *Criteria {
	c.With = append(c.With, relations...)
	return c
}

// OrderBy appends an ordering column
func (c *Criteria) OrderBy(column string, desc bool) *Criteria {
	c.Orders = append(c.Orders, Order{Column: column, Desc: desc})
	return c
}

// SearchFor sets the search clause, replacing any previous one
func (c *Criteria) SearchFor(term string, fields []SearchField) *Criteria {
	c.Search = &Search{Term: term, Fields: slices.Clone(fields)}
	return c
}

// SetTrashed changes the soft-delete scope
func (c *Criteria) SetTrashed(t Trashed) *Criteria {
	c.Trashed = t
	return c
}

// Take limits the number of rows. Zero removes the limit.
func (c *Criteria) Take(n int) *Criteria {
	if n < 0 {
		n = 0
	}
	c.Limit = n
	return c
}

// Reset clears every clause
func (c *Criteria) Reset() {
	*c = Criteria{}
}

// IsEmpty reports whether no clause has been set
func (c *Criteria) IsEmpty() bool {
	return len(c.Conditions) == 0 && len(c.Has) == 0 && len(c.With) == 0 &&
		len(c.Orders) == 0 && c.Search == nil && c.Trashed == WithoutTrashed && c.Limit == 0
}

// Clone returns an independent copy
func (c *Criteria) Clone() *Criteria {
	out := &Criteria{
		Conditions: slices.Clone(c.Conditions),
		With:       slices.Clone(c.With),
		Orders:     slices.Clone(c.Orders),
		Trashed:    c.Trashed,
		Limit:      c.Limit,
	}
	for _, h := range c.Has {
		out.Has = append(out.Has, Has{Relation: h.Relation, Conditions: slices.Clone(h.Conditions)})
	}
	if c.Search != nil {
		out.Search = &Search{Term: c.Search.Term, Fields: slices.Clone(c.Search.Fields)}
	}
	return out
}

// Fingerprint returns a stable encoding of the criteria used to derive
// cache keys
func (c *Criteria) Fingerprint() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: fingerprint: %v", ErrInvalidCriteria, err)
	}
	return data, nil
}
