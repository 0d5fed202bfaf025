// Package query translates request parameters into an ordered list of
// predicate clauses plus a sort specification and a row limit, and resolves
// the conflict column for upserts. The package is pure data transformation:
// predicates are closed values that a backend encoder can serialize, log or
// replay, never callbacks.
package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Kind describes how a request parameter maps onto a column predicate.
type Kind string

// all supported field kinds
const (
	// KindExact matches the column value exactly
	KindExact Kind = "exact"
	// KindILike performs a case-insensitive pattern match; values without
	// a wildcard marker are wrapped as *value*
	KindILike Kind = "ilike"
	// KindArrayContains matches when the value is an element of a
	// multi-valued column
	KindArrayContains Kind = "array-contains"
	// KindEnum matches exactly after trim+lowercase, rejecting values
	// outside the allowed set
	KindEnum Kind = "enum"
	// KindRange contributes the independent parameters <name>_gte and
	// <name>_lte
	KindRange Kind = "range"
)

// Op is a predicate operator. The names follow the operator spelling of the
// remote table-query API so that predicates serialize naturally.
type Op string

// all supported predicate operators
const (
	OpEqual          Op = "eq"
	OpILike          Op = "ilike"
	OpGreaterOrEqual Op = "gte"
	OpLessOrEqual    Op = "lte"
	OpContains       Op = "cs"
)

// Predicate is one filter clause: column, operator, operand.
type Predicate struct {
	Column string
	Op     Op
	Value  interface{}
}

// Direction is a sort direction, ascending or descending.
type Direction string

// all sort directions
const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// SortSpec is a parsed order parameter: column plus direction.
type SortSpec struct {
	Column    string
	Direction Direction
}

// FieldSpec declares one filterable field of a resource. Name is the request
// parameter, Column the backing column. Column defaults to Name when empty.
// Allowed is only set for enum fields.
type FieldSpec struct {
	Name    string
	Kind    Kind
	Column  string
	Allowed []string
}

// ColumnName returns the backing column of the field, defaulting to the
// parameter name when no column is declared.
func (f FieldSpec) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Query is a fully translated list request: predicates in declaration order,
// an optional sort and a row limit.
type Query struct {
	Predicates []Predicate
	Sort       *SortSpec
	Limit      int
}

// DefaultLimit and MaxLimit bound the limit parameter of list requests.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// TranslateFilters converts the present request parameters into predicates.
// Fields are processed in declaration order, so the result is stable for a
// given parameter set. Absent or empty parameters emit no predicate.
func TranslateFilters(values url.Values, fields []FieldSpec) ([]Predicate, error) {
	predicates := []Predicate{}
	for _, field := range fields {
		switch field.Kind {
		case KindExact:
			if value := values.Get(field.Name); value != "" {
				predicates = append(predicates, Predicate{field.ColumnName(), OpEqual, value})
			}

		case KindILike:
			if value := values.Get(field.Name); value != "" {
				if !strings.ContainsAny(value, "%_") {
					value = "*" + value + "*"
				}
				predicates = append(predicates, Predicate{field.ColumnName(), OpILike, value})
			}

		case KindArrayContains:
			if value := values.Get(field.Name); value != "" {
				predicates = append(predicates, Predicate{field.ColumnName(), OpContains, value})
			}

		case KindEnum:
			if value := values.Get(field.Name); value != "" {
				normalized := strings.ToLower(strings.TrimSpace(value))
				if !contains(field.Allowed, normalized) {
					return nil, ValidationError{fmt.Sprintf("parameter '%s': '%s' must be one of %s",
						field.Name, normalized, strings.Join(field.Allowed, ", "))}
				}
				predicates = append(predicates, Predicate{field.ColumnName(), OpEqual, normalized})
			}

		case KindRange:
			// lower and upper bound are independent; the backend may
			// legitimately return an empty result for gte > lte
			if value := values.Get(field.Name + "_gte"); value != "" {
				number, err := parseNumber(field.Name+"_gte", value)
				if err != nil {
					return nil, err
				}
				predicates = append(predicates, Predicate{field.ColumnName(), OpGreaterOrEqual, number})
			}
			if value := values.Get(field.Name + "_lte"); value != "" {
				number, err := parseNumber(field.Name+"_lte", value)
				if err != nil {
					return nil, err
				}
				predicates = append(predicates, Predicate{field.ColumnName(), OpLessOrEqual, number})
			}
		}
	}
	return predicates, nil
}

// TranslateSort parses an order parameter of the form "field" or
// "field.direction". Deprecated field names are rewritten through aliases
// before use. Any direction token other than "desc" (case-insensitive)
// defaults to ascending. An empty order yields no sort spec.
func TranslateSort(order string, aliases map[string]string) *SortSpec {
	if order == "" {
		return nil
	}
	column := order
	direction := Ascending
	if i := strings.IndexRune(order, '.'); i >= 0 {
		column = order[:i]
		if strings.EqualFold(order[i+1:], string(Descending)) {
			direction = Descending
		}
	}
	if actual, ok := aliases[column]; ok {
		column = actual
	}
	return &SortSpec{Column: column, Direction: direction}
}

// ParseLimit parses the limit parameter. An empty value yields DefaultLimit.
func ParseLimit(value string) (int, error) {
	if value == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 || limit > MaxLimit {
		return 0, ValidationError{fmt.Sprintf("parameter 'limit': must be a number between 1 and %d", MaxLimit)}
	}
	return limit, nil
}

func parseNumber(name, value string) (interface{}, error) {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f, nil
	}
	return nil, ValidationError{fmt.Sprintf("parameter '%s': '%s' is not a number", name, value)}
}

func contains(list []string, value string) bool {
	for _, element := range list {
		if element == value {
			return true
		}
	}
	return false
}
