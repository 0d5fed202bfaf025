package query

import (
	"fmt"
	"net/url"
)

// Resource is the declarative description of one exposed table: its
// filterable fields in a fixed order, the sort aliases for deprecated
// field names, and the upsert rules.
type Resource struct {
	// Name is the resource name and also the route segment
	Name string
	// Table is the backing table
	Table string
	// Fields are the filterable fields, in the order predicates are emitted
	Fields []FieldSpec
	// SortAliases rewrites deprecated order field names to current columns
	SortAliases map[string]string
	// LegacyFields rewrites deprecated record field names on upsert
	LegacyFields map[string]string
	// IdentityPriority lists the candidate conflict columns for upserts,
	// highest priority first
	IdentityPriority []string
	// SchemaID selects the JSON schema upsert documents must follow
	SchemaID string
}

// Translate converts the query parameters of a list request into a Query.
// Unknown parameters and repeated parameters are rejected.
func (rc Resource) Translate(values url.Values) (Query, error) {
	known := map[string]bool{"order": true, "limit": true}
	for _, field := range rc.Fields {
		if field.Kind == KindRange {
			known[field.Name+"_gte"] = true
			known[field.Name+"_lte"] = true
			continue
		}
		known[field.Name] = true
	}
	for key, array := range values {
		if !known[key] {
			return Query{}, ValidationError{fmt.Sprintf("unknown parameter '%s'", key)}
		}
		if len(array) > 1 {
			return Query{}, ValidationError{fmt.Sprintf("illegal parameter array '%s'", key)}
		}
	}

	predicates, err := TranslateFilters(values, rc.Fields)
	if err != nil {
		return Query{}, err
	}
	limit, err := ParseLimit(values.Get("limit"))
	if err != nil {
		return Query{}, err
	}
	sort := TranslateSort(values.Get("order"), rc.SortAliases)
	if sort != nil && !rc.sortable(sort.Column) {
		return Query{}, ValidationError{fmt.Sprintf("parameter 'order': cannot sort by '%s'", sort.Column)}
	}
	return Query{
		Predicates: predicates,
		Sort:       sort,
		Limit:      limit,
	}, nil
}

// sortable reports whether column is a declared column of the resource. The
// order parameter is the one place a caller-supplied name would otherwise
// reach the backend as an identifier, so it is checked against the field
// table here.
func (rc Resource) sortable(column string) bool {
	for _, field := range rc.Fields {
		if field.ColumnName() == column {
			return true
		}
	}
	return false
}

// EnumFields returns the enum field specs of the resource, for write-side
// normalization of upsert records.
func (rc Resource) EnumFields() []FieldSpec {
	var enums []FieldSpec
	for _, field := range rc.Fields {
		if field.Kind == KindEnum {
			enums = append(enums, field)
		}
	}
	return enums
}
