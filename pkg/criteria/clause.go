package criteria

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Clause fragments are rendered as SQL text with placeholders. Identifiers
// are checked against identPattern before rendering; values are always
// passed as arguments.

var (
	// ErrInvalidField is returned for column or relation names that are not
	// plain SQL identifiers
	ErrInvalidField = errors.New("invalid field name")

	// ErrInvalidCriteria is returned for malformed clauses
	ErrInvalidCriteria = errors.New("invalid criteria")

	// ErrUnknownRelation is returned when a relation name does not resolve
	ErrUnknownRelation = errors.New("unknown relation")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidField reports whether name is a column or table.column identifier
func ValidField(name string) bool {
	return identPattern.MatchString(name)
}

// Operator represents SQL comparison operators
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	NotLike            Operator = "NOT LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
	Between            Operator = "BETWEEN"
	NotBetween         Operator = "NOT BETWEEN"
)

var operators = map[string]Operator{
	"=":           Equal,
	"==":          Equal,
	"!=":          NotEqual,
	"<>":          NotEqual,
	">":           GreaterThan,
	">=":          GreaterThanOrEqual,
	"<":           LessThan,
	"<=":          LessThanOrEqual,
	"like":        Like,
	"not like":    NotLike,
	"in":          In,
	"not in":      NotIn,
	"is null":     IsNull,
	"is not null": IsNotNull,
	"between":     Between,
	"not between": NotBetween,
}

// ParseOperator accepts the SQL spelling of an operator in any case
func ParseOperator(s string) (Operator, error) {
	op, ok := operators[strings.ToLower(strings.Join(strings.Fields(s), " "))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalidCriteria, s)
	}
	return op, nil
}

// Condition represents a single WHERE predicate
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"op"`
	Value    any      `json:"value,omitempty"`
}

// Where builds a Condition
func Where(field string, operator Operator, value any) Condition {
	return Condition{Field: field, Operator: operator, Value: value}
}

// Eq builds an equality Condition
func Eq(field string, value any) Condition {
	return Condition{Field: field, Operator: Equal, Value: value}
}

// normalize checks the field and rewrites the operator to its canonical
// spelling, which build relies on
func (c Condition) normalize() (Condition, error) {
	if !ValidField(c.Field) {
		return c, fmt.Errorf("%w: %q", ErrInvalidField, c.Field)
	}
	op, err := ParseOperator(string(c.Operator))
	if err != nil {
		return c, err
	}
	c.Operator = op
	return c, nil
}

// qualify prefixes unqualified columns with table
func qualify(table, field string) string {
	if table == "" || strings.Contains(field, ".") {
		return field
	}
	return table + "." + field
}

// build renders a normalized condition against table
func (c Condition) build(table string) (string, []any) {
	field := qualify(table, c.Field)
	switch c.Operator {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", field, c.Operator), nil
	case In, NotIn:
		return buildInCondition(field, c)
	case Between, NotBetween:
		return buildBetweenCondition(field, c)
	default:
		return fmt.Sprintf("%s %s ?", field, c.Operator), []any{c.Value}
	}
}

// buildInCondition builds IN/NOT IN conditions with proper placeholder expansion
func buildInCondition(field string, c Condition) (string, []any) {
	if c.Value == nil {
		if c.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	v := reflect.ValueOf(c.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		// Single value, treat as regular condition
		return fmt.Sprintf("%s %s (?)", field, c.Operator), []any{c.Value}
	}

	length := v.Len()
	if length == 0 {
		// Empty set: IN never matches, NOT IN always does
		if c.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	placeholders := make([]string, length)
	args := make([]any, length)
	for i := 0; i < length; i++ {
		placeholders[i] = "?"
		args[i] = v.Index(i).Interface()
	}

	return fmt.Sprintf("%s %s (%s)", field, c.Operator, strings.Join(placeholders, ", ")), args
}

// buildBetweenCondition builds BETWEEN/NOT BETWEEN conditions
func buildBetweenCondition(field string, c Condition) (string, []any) {
	if c.Value == nil {
		return "1 = 0", nil
	}

	v := reflect.ValueOf(c.Value)
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || v.Len() != 2 {
		// BETWEEN requires exactly 2 values
		return "1 = 0", nil
	}

	return fmt.Sprintf("%s %s ? AND ?", field, c.Operator), []any{v.Index(0).Interface(), v.Index(1).Interface()}
}
