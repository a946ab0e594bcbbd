package repository

// Entity interface defines the minimal contract for repository entities
type Entity interface {
	// TableName returns the database table name for this entity
	// This should match GORM's table naming convention
	TableName() string

	// GetPrimaryKeyValue returns the actual value of the primary key
	GetPrimaryKeyValue() interface{}
}

// Fillable restricts which columns may be mass assigned. Without it every
// column except primary keys, automatic timestamps and the soft-delete
// column is fillable.
type Fillable interface {
	FillableAttributes() []string
}

// RelationAware declares the relations an entity exposes for
// synchronization. Attribute keys equal to a relation Name are treated as
// relation payloads.
type RelationAware interface {
	Relations() []Relation
}

// Attributes maps column (or Go field) names to values
type Attributes = map[string]any

// Cardinality is the number of related rows on the far side of a relation
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Strategy selects how a relation payload is written
type Strategy string

const (
	// Assign points a single-valued relation at the given row
	Assign Strategy = "assign"
	// Sync makes the collection exactly the given set
	Sync Strategy = "sync"
	// Attach adds the given rows to the collection
	Attach Strategy = "attach"
	// Detach removes the given rows from the collection
	Detach Strategy = "detach"
)

// Relation describes one synchronizable relation
type Relation struct {
	// Name is the attribute key carrying the payload
	Name string
	// Field is the GORM association field; resolved from Name when empty
	Field string
	// Cardinality and Strategy default from the GORM relationship type
	Cardinality Cardinality
	Strategy    Strategy
}
