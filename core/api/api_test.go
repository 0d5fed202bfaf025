package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/evidenceindex/research-api/core/events"
	"github.com/evidenceindex/research-api/core/query"
)

type fakeBackend struct {
	listTable  string
	listQuery  query.Query
	listCalls  int
	payload    []byte
	err        error
	upsertried map[string]interface{}
	conflict   string
}

func (f *fakeBackend) List(ctx context.Context, table string, q query.Query) ([]byte, error) {
	f.listCalls++
	f.listTable = table
	f.listQuery = q
	return f.payload, f.err
}

func (f *fakeBackend) Upsert(ctx context.Context, table string, record map[string]interface{}, conflictColumn string) ([]byte, error) {
	f.upsertried = record
	f.conflict = conflictColumn
	return f.payload, f.err
}

type fakeNotifier struct {
	resource  string
	operation events.Operation
	payload   []byte
}

func (f *fakeNotifier) Notify(resource string, operation events.Operation, payload []byte) {
	f.resource = resource
	f.operation = operation
	f.payload = payload
}

const testAPIKey = "test-secret"

func newTestAPI(backend *fakeBackend, notifier events.Notifier) *mux.Router {
	router := mux.NewRouter()
	New(&Builder{
		Router:   router,
		Backend:  backend,
		APIKey:   testAPIKey,
		Notifier: notifier,
	})
	return router
}

func doRequest(t *testing.T, router *mux.Router, method, target, body string, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	if withKey {
		request.Header.Set("X-API-Key", testAPIKey)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestHealthIsOpen(t *testing.T) {
	router := newTestAPI(&fakeBackend{}, nil)
	recorder := doRequest(t, router, http.MethodGet, "/health", "", false)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", recorder.Body.String())
	}
}

func TestDataRoutesRequireAPIKey(t *testing.T) {
	backend := &fakeBackend{payload: []byte("[]")}
	router := newTestAPI(backend, nil)
	recorder := doRequest(t, router, http.MethodGet, "/studies", "", false)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if backend.listCalls != 0 {
		t.Fatal("backend was called without authorization")
	}
}

func TestListTranslatesAndPassesThrough(t *testing.T) {
	payload := `[{"doi":"10.1001/jama.2023.12345"}]`
	backend := &fakeBackend{payload: []byte(payload)}
	router := newTestAPI(backend, nil)

	recorder := doRequest(t, router, http.MethodGet,
		"/studies?tag=magnesium&year_gte=2015&order=year.desc&limit=10", "", true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != payload {
		t.Fatalf("payload was not passed through unchanged: %s", recorder.Body.String())
	}
	if backend.listTable != "studies" {
		t.Fatalf("unexpected table %s", backend.listTable)
	}

	q := backend.listQuery
	if len(q.Predicates) != 2 {
		t.Fatalf("expected two predicates, got %v", q.Predicates)
	}
	if q.Predicates[0] != (query.Predicate{Column: "tags", Op: query.OpContains, Value: "magnesium"}) {
		t.Fatalf("unexpected first predicate %v", q.Predicates[0])
	}
	if q.Predicates[1] != (query.Predicate{Column: "year", Op: query.OpGreaterOrEqual, Value: int64(2015)}) {
		t.Fatalf("unexpected second predicate %v", q.Predicates[1])
	}
	if q.Sort == nil || q.Sort.Column != "year" || q.Sort.Direction != query.Descending {
		t.Fatalf("unexpected sort %v", q.Sort)
	}
	if q.Limit != 10 {
		t.Fatalf("unexpected limit %d", q.Limit)
	}
}

func TestListValidationFailures(t *testing.T) {
	backend := &fakeBackend{payload: []byte("[]")}
	router := newTestAPI(backend, nil)

	testCases := []struct {
		name   string
		target string
	}{
		{"unknown parameter", "/studies?publisher=jama"},
		{"bad enum value", "/studies?evidence=severe"},
		{"bad limit", "/studies?limit=0"},
		{"bad range value", "/studies?year_gte=twenty"},
		{"undeclared sort column", "/studies?order=source_url.desc"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := backend.listCalls
			recorder := doRequest(t, router, http.MethodGet, tc.target, "", true)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			if backend.listCalls != calls {
				t.Fatal("validation failures must be detected before any backend call")
			}
		})
	}
}

func TestUpsertPipeline(t *testing.T) {
	backend := &fakeBackend{payload: []byte(`[{"doi":"10.1/x"}]`)}
	notifier := &fakeNotifier{}
	router := newTestAPI(backend, notifier)

	body := `{"doi":"10.1/x","pmid":"37900123","design":" RCT ","evidence_level":"severe","title":"Magnesium"}`
	recorder := doRequest(t, router, http.MethodPost, "/studies", body, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	if backend.conflict != "doi" {
		t.Fatalf("expected conflict column doi, got %s", backend.conflict)
	}
	record := backend.upsertried
	if _, ok := record["design"]; ok {
		t.Fatal("legacy field design was not renamed")
	}
	if record["study_design"] != "rct" {
		t.Fatalf("study_design was not normalized: %v", record["study_design"])
	}
	if record["evidence_level"] != nil {
		t.Fatalf("invalid evidence_level was not cleared: %v", record["evidence_level"])
	}

	if notifier.resource != "studies" || notifier.operation != events.OperationUpsert {
		t.Fatalf("unexpected notification %s %s", notifier.resource, notifier.operation)
	}
	var notification map[string]interface{}
	if err := json.Unmarshal(notifier.payload, &notification); err != nil {
		t.Fatal(err)
	}
	if notification["conflict_column"] != "doi" || notification["key"] != "10.1/x" {
		t.Fatalf("unexpected notification payload %s", notifier.payload)
	}
}

func TestUpsertNormalizesEnumsOnEveryResource(t *testing.T) {
	// enum fields without an explicit column mapping (effects.direction,
	// outcomes.category) must be normalized like the studies enums
	testCases := []struct {
		name     string
		target   string
		body     string
		field    string
		expected interface{}
	}{
		{"effects direction trimmed", "/effects",
			`{"id":"fx-1","direction":" POSITIVE "}`, "direction", "positive"},
		{"effects direction cleared", "/effects",
			`{"id":"fx-1","direction":"sideways"}`, "direction", nil},
		{"outcomes category trimmed", "/outcomes",
			`{"name":"blood pressure","category":" CLINICAL "}`, "category", "clinical"},
		{"outcomes category cleared", "/outcomes",
			`{"name":"blood pressure","category":"cosmetic"}`, "category", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &fakeBackend{payload: []byte(`[]`)}
			router := newTestAPI(backend, nil)
			recorder := doRequest(t, router, http.MethodPost, tc.target, tc.body, true)
			if recorder.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
			}
			if got := backend.upsertried[tc.field]; got != tc.expected {
				t.Fatalf("expected %s %v, got %v", tc.field, tc.expected, got)
			}
		})
	}
}

func TestUpsertExplicitConflictColumn(t *testing.T) {
	backend := &fakeBackend{payload: []byte(`[]`)}
	router := newTestAPI(backend, nil)

	body := `{"doi":"10.1/x","pmid":"37900123"}`
	recorder := doRequest(t, router, http.MethodPost, "/studies?on_conflict=pmid", body, true)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if backend.conflict != "pmid" {
		t.Fatalf("expected conflict column pmid, got %s", backend.conflict)
	}
}

func TestUpsertMissingIdentity(t *testing.T) {
	backend := &fakeBackend{payload: []byte(`[]`)}
	router := newTestAPI(backend, nil)

	recorder := doRequest(t, router, http.MethodPost, "/studies", `{"title":"Magnesium"}`, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if backend.upsertried != nil {
		t.Fatal("backend was called for an invalid record")
	}
}

func TestUpsertRejectsUnknownFields(t *testing.T) {
	backend := &fakeBackend{payload: []byte(`[]`)}
	router := newTestAPI(backend, nil)

	recorder := doRequest(t, router, http.MethodPost, "/studies", `{"doi":"10.1/x","publisher":"JAMA"}`, true)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if backend.upsertried != nil {
		t.Fatal("backend was called for an invalid record")
	}
}

func TestBackendErrorMapping(t *testing.T) {
	detail := `{"code":"42703","message":"column does not exist"}`

	backend := &fakeBackend{err: query.BackendError{Status: http.StatusConflict, Detail: []byte(detail)}}
	router := newTestAPI(backend, nil)
	recorder := doRequest(t, router, http.MethodGet, "/studies", "", true)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	if recorder.Body.String() != detail {
		t.Fatalf("backend detail was not preserved: %s", recorder.Body.String())
	}

	backend = &fakeBackend{err: query.BackendError{Status: http.StatusInternalServerError, Detail: []byte("boom")}}
	router = newTestAPI(backend, nil)
	recorder = doRequest(t, router, http.MethodGet, "/studies", "", true)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", recorder.Code)
	}
}
