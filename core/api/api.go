/*
Package api exposes the studies dataset over HTTP.

Each resource gets a list route translating query parameters into predicates
and an upsert route resolving the conflict column, both against a pluggable
tabular backend. The backend's success payloads are passed through
unchanged.
*/
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/evidenceindex/research-api/core/events"
	"github.com/evidenceindex/research-api/core/logger"
	"github.com/evidenceindex/research-api/core/query"
	"github.com/evidenceindex/research-api/core/schema"
)

// Backend executes translated queries against a tabular data source. Both
// the remote PostgREST client and the direct Postgres store implement it.
type Backend interface {
	List(ctx context.Context, table string, q query.Query) ([]byte, error)
	Upsert(ctx context.Context, table string, record map[string]interface{}, conflictColumn string) ([]byte, error)
}

// API is the HTTP surface over one backend.
type API struct {
	backend   Backend
	notifier  events.Notifier
	validator *schema.Validator
	apiKey    string
	router    *mux.Router
}

// Builder is a builder helper for the API
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Backend executes the translated queries. This is mandatory.
	Backend Backend
	// APIKey is the shared secret expected in the X-API-Key header. This
	// is mandatory.
	APIKey string
	// Notifier receives change notifications for successful upserts. This
	// is optional.
	Notifier events.Notifier
}

// New realizes the actual API and adds the routes to the router.
func New(bb *Builder) *API {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Backend == nil {
		panic("Backend is missing")
	}
	if bb.APIKey == "" {
		panic("APIKey is missing")
	}
	validator, err := schema.NewValidator()
	if err != nil {
		panic(err)
	}
	a := &API{
		backend:   bb.Backend,
		notifier:  bb.Notifier,
		validator: validator,
		apiKey:    bb.APIKey,
		router:    bb.Router,
	}
	a.handleCompression()
	a.handleCORS()
	a.handleRoutes()
	return a
}

func (a *API) handleCompression() {
	compressionMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers.CompressHandler(h).ServeHTTP(w, r)
		})
	}
	a.router.Use(compressionMiddleware)
}

func (a *API) handleCORS() {
	a.router.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "X-API-Key"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
	))
}

func (a *API) handleRoutes() {
	logger.Default().Debugln("api: handle routes")
	a.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	for _, rc := range Resources {
		a.createResourceRoutes(rc)
	}
}

func (a *API) createResourceRoutes(rc query.Resource) {
	logger.Default().Debugln("  handle routes: /" + rc.Name + " GET POST")

	list := func(w http.ResponseWriter, r *http.Request) {
		q, err := rc.Translate(r.URL.Query())
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		payload, err := a.backend.List(r.Context(), rc.Table, q)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(payload)
	}

	upsert := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		for key := range r.URL.Query() {
			if key != "on_conflict" {
				http.Error(w, "unknown parameter '"+key+"'", http.StatusBadRequest)
				return
			}
		}

		var record map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			http.Error(w, "invalid json data: "+err.Error(), http.StatusBadRequest)
			return
		}

		query.ApplyLegacyFieldMapping(record, rc.LegacyFields)
		for _, field := range rc.EnumFields() {
			query.NormalizeEnumField(record, field.ColumnName(), field.Allowed)
		}

		if err := a.validator.ValidateStruct(record, rc.SchemaID); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conflictColumn, err := query.ResolveConflictColumn(record, rc.IdentityPriority,
			r.URL.Query().Get("on_conflict"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		payload, err := a.backend.Upsert(r.Context(), rc.Table, record, conflictColumn)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		if a.notifier != nil {
			notification, _ := json.MarshalWithOption(map[string]interface{}{
				"resource":        rc.Name,
				"operation":       events.OperationUpsert,
				"conflict_column": conflictColumn,
				"key":             record[conflictColumn],
				"request_id":      logger.RequestIDFromContext(r.Context()),
			}, json.DisableHTMLEscape())
			a.notifier.Notify(rc.Name, events.OperationUpsert, notification)
		}

		rlog.Infof("upserted %s on %s", rc.Name, conflictColumn)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(payload)
	}

	a.router.HandleFunc("/"+rc.Name, a.withAPIKey(list)).Methods(http.MethodGet)
	a.router.HandleFunc("/"+rc.Name, a.withAPIKey(upsert)).Methods(http.MethodPost)
}

func (a *API) withAPIKey(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != a.apiKey {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// writeError maps the two error kinds of the translation layer to HTTP
// responses: caller-input problems become 400, backend failures keep their
// status and original detail payload, with everything unexpected folded to
// 502.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr query.ValidationError
	if errors.As(err, &validationErr) {
		http.Error(w, validationErr.Reason, http.StatusBadRequest)
		return
	}
	var backendErr query.BackendError
	if errors.As(err, &backendErr) {
		status := backendErr.Status
		if status < 400 || status >= 500 {
			logger.FromContext(r.Context()).Errorf("Error 4611: backend status %d: %s",
				backendErr.Status, string(backendErr.Detail))
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		w.Write(backendErr.Detail)
		return
	}
	logger.FromContext(r.Context()).WithError(err).Errorf("Error 4612: unexpected")
	http.Error(w, "Error 4612", http.StatusInternalServerError)
}
