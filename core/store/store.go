/*
Package store replays translated queries directly against a Postgres
database. It compiles the same predicate algebra the PostgREST client
encodes, so a deployment can run against a managed PostgREST instance or a
plain database without changing the translation layer.
*/
package store

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/evidenceindex/research-api/core/csql"
	"github.com/evidenceindex/research-api/core/query"
)

// Store executes translated queries on a Postgres database.
type Store struct {
	db *csql.DB
}

// New creates a store on the given database.
func New(db *csql.DB) *Store {
	return &Store{db: db}
}

// compileQuery builds the list statement for a translated query. The result
// is a single JSON payload, so list responses have the same shape as the
// remote table-query backend's.
func (s *Store) compileQuery(table string, q query.Query) (string, []interface{}) {
	var parameters []interface{}
	sqlQuery := "SELECT COALESCE(json_agg(result), '[]'::json) FROM (SELECT * FROM " +
		s.db.Schema + "." + table + " WHERE TRUE"
	for _, predicate := range q.Predicates {
		parameters = append(parameters, compileValue(predicate))
		sqlQuery += fmt.Sprintf(" AND %s %s $%d", predicate.Column, compileOperator(predicate.Op), len(parameters))
	}
	if q.Sort != nil {
		sqlQuery += " ORDER BY " + q.Sort.Column
		if q.Sort.Direction == query.Descending {
			sqlQuery += " DESC"
		}
	}
	if q.Limit > 0 {
		parameters = append(parameters, q.Limit)
		sqlQuery += " LIMIT $" + strconv.Itoa(len(parameters))
	}
	sqlQuery += ") result;"
	return sqlQuery, parameters
}

func compileOperator(op query.Op) string {
	switch op {
	case query.OpILike:
		return "ILIKE"
	case query.OpGreaterOrEqual:
		return ">="
	case query.OpLessOrEqual:
		return "<="
	case query.OpContains:
		return "@>"
	}
	return "="
}

func compileValue(predicate query.Predicate) interface{} {
	switch predicate.Op {
	case query.OpILike:
		// the translation layer emits * wildcards, SQL wants %
		return strings.ReplaceAll(fmt.Sprint(predicate.Value), "*", "%")
	case query.OpContains:
		return pq.Array([]string{fmt.Sprint(predicate.Value)})
	}
	return predicate.Value
}

// List runs a translated list query and returns the rows as one JSON array.
func (s *Store) List(ctx context.Context, table string, q query.Query) ([]byte, error) {
	sqlQuery, parameters := s.compileQuery(table, q)
	var payload []byte
	err := s.db.QueryRowContext(ctx, sqlQuery, parameters...).Scan(&payload)
	if err != nil {
		return nil, query.BackendError{Status: http.StatusInternalServerError, Detail: []byte(err.Error())}
	}
	return payload, nil
}

// Upsert inserts the record, updating the existing row when the conflict
// column matches. The updated row is returned as a single-element JSON
// array, matching the remote backend's representation format.
func (s *Store) Upsert(ctx context.Context, table string, record map[string]interface{}, conflictColumn string) ([]byte, error) {
	columns := make([]string, 0, len(record))
	for column := range record {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	parameters := make([]interface{}, 0, len(columns))
	var names, placeholders, assignments []string
	for _, column := range columns {
		parameters = append(parameters, upsertValue(record[column]))
		quoted := pq.QuoteIdentifier(column)
		names = append(names, quoted)
		placeholders = append(placeholders, "$"+strconv.Itoa(len(parameters)))
		if column != conflictColumn {
			assignments = append(assignments, quoted+" = EXCLUDED."+quoted)
		}
	}
	if len(assignments) == 0 {
		assignments = append(assignments, pq.QuoteIdentifier(conflictColumn)+" = EXCLUDED."+pq.QuoteIdentifier(conflictColumn))
	}

	sqlQuery := "INSERT INTO " + s.db.Schema + "." + table + " AS result (" + strings.Join(names, ",") + ")" +
		" VALUES(" + strings.Join(placeholders, ",") + ")" +
		" ON CONFLICT (" + pq.QuoteIdentifier(conflictColumn) + ") DO UPDATE SET " + strings.Join(assignments, ", ") +
		" RETURNING json_build_array(row_to_json(result));"

	var payload []byte
	err := s.db.QueryRowContext(ctx, sqlQuery, parameters...).Scan(&payload)
	if err != nil {
		status := http.StatusInternalServerError
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Class() == "23" { // integrity violation
			status = http.StatusBadRequest
		}
		return nil, query.BackendError{Status: status, Detail: []byte(err.Error())}
	}
	return payload, nil
}

func upsertValue(value interface{}) interface{} {
	if array, ok := value.([]interface{}); ok {
		elements := make([]string, len(array))
		for i, element := range array {
			elements[i] = fmt.Sprint(element)
		}
		return pq.Array(elements)
	}
	return value
}
