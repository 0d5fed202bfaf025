package api

import "github.com/evidenceindex/research-api/core/query"

// studyDesigns and the other allowed sets are shared between the read-side
// filters (which reject unknown values) and the write-side normalization
// (which clears them).
var (
	studyDesigns = []string{"rct", "meta-analysis", "systematic-review", "cohort",
		"case-control", "cross-sectional", "observational"}
	evidenceLevels    = []string{"low", "moderate", "high"}
	effectDirections  = []string{"positive", "negative", "neutral", "mixed"}
	outcomeCategories = []string{"biomarker", "clinical", "behavioral", "mortality"}
)

// Resources declares the exposed tables: their filterable fields in emission
// order, the deprecated aliases and the upsert identity rules. This table is
// the single source of truth for the query translation of all routes.
var Resources = []query.Resource{
	{
		Name:  "studies",
		Table: "studies",
		Fields: []query.FieldSpec{
			{Name: "doi", Kind: query.KindExact},
			{Name: "pmid", Kind: query.KindExact},
			{Name: "title", Kind: query.KindILike},
			{Name: "journal", Kind: query.KindILike},
			{Name: "abstract", Kind: query.KindILike},
			{Name: "tag", Kind: query.KindArrayContains, Column: "tags"},
			{Name: "outcome", Kind: query.KindArrayContains, Column: "outcomes"},
			{Name: "design", Kind: query.KindEnum, Column: "study_design", Allowed: studyDesigns},
			{Name: "evidence", Kind: query.KindEnum, Column: "evidence_level", Allowed: evidenceLevels},
			{Name: "year", Kind: query.KindRange},
			{Name: "n_participants", Kind: query.KindRange},
		},
		SortAliases:      map[string]string{"design": "study_design", "evidence": "evidence_level"},
		LegacyFields:     map[string]string{"design": "study_design", "evidence": "evidence_level"},
		IdentityPriority: []string{"doi", "pmid"},
		SchemaID:         "studies",
	},
	{
		Name:  "effects",
		Table: "effects",
		Fields: []query.FieldSpec{
			{Name: "id", Kind: query.KindExact},
			{Name: "study_doi", Kind: query.KindExact},
			{Name: "outcome", Kind: query.KindILike},
			{Name: "direction", Kind: query.KindEnum, Allowed: effectDirections},
			{Name: "magnitude", Kind: query.KindRange},
			{Name: "p_value", Kind: query.KindRange},
		},
		IdentityPriority: []string{"id"},
		SchemaID:         "effects",
	},
	{
		Name:  "topics",
		Table: "topics",
		Fields: []query.FieldSpec{
			{Name: "slug", Kind: query.KindExact},
			{Name: "name", Kind: query.KindILike},
			{Name: "study_doi", Kind: query.KindArrayContains, Column: "study_dois"},
		},
		IdentityPriority: []string{"slug"},
		SchemaID:         "topics",
	},
	{
		Name:  "outcomes",
		Table: "outcomes",
		Fields: []query.FieldSpec{
			{Name: "name", Kind: query.KindILike},
			{Name: "category", Kind: query.KindEnum, Allowed: outcomeCategories},
			{Name: "synonym", Kind: query.KindArrayContains, Column: "synonyms"},
		},
		IdentityPriority: []string{"name"},
		SchemaID:         "outcomes",
	},
}
