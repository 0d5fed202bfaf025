package query

import (
	"fmt"
	"sort"
	"strings"
)

// ResolveConflictColumn determines which column identifies the record for
// upsert conflict resolution. An explicit choice wins unchanged; the remote
// backend rejects it if it is not a valid column. Otherwise the first
// candidate from priority with a non-empty value in the record is chosen.
func ResolveConflictColumn(record map[string]interface{}, priority []string, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, column := range priority {
		value, ok := record[column]
		if !ok || value == nil {
			continue
		}
		if s, isString := value.(string); isString && s == "" {
			continue
		}
		return column, nil
	}
	return "", ValidationError{fmt.Sprintf("record must contain a non-empty value for one of: %s",
		strings.Join(priority, ", "))}
}

// ApplyLegacyFieldMapping renames deprecated record fields in place. For
// each (old, new) pair the value moves from old to new unless new is already
// present. The rename is one-directional and idempotent.
func ApplyLegacyFieldMapping(record map[string]interface{}, aliases map[string]string) {
	olds := make([]string, 0, len(aliases))
	for old := range aliases {
		olds = append(olds, old)
	}
	sort.Strings(olds)
	for _, old := range olds {
		value, ok := record[old]
		if !ok {
			continue
		}
		if _, taken := record[aliases[old]]; !taken {
			record[aliases[old]] = value
		}
		delete(record, old)
	}
}

// NormalizeEnumField normalizes a string enum field of an upsert record in
// place: trim+lowercase, and values outside the allowed set are cleared to
// null rather than rejecting the whole write. The read-side filter for the
// same field is stricter and rejects.
func NormalizeEnumField(record map[string]interface{}, field string, allowed []string) {
	value, ok := record[field].(string)
	if !ok {
		return
	}
	normalized := strings.ToLower(strings.TrimSpace(value))
	if contains(allowed, normalized) {
		record[field] = normalized
	} else {
		record[field] = nil
	}
}
