/*
Package postgrest is a client for a PostgREST table-query backend.

Predicates, sort and limit are encoded as PostgREST query-string operators
and the backend's success payload is passed through unchanged. Upserts use
merge-duplicates resolution with an explicit conflict column.
*/
package postgrest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/evidenceindex/research-api/core/query"
)

// Client provides access to one PostgREST instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the PostgREST instance at baseURL.
//
// WithToken() adds a service token to every request.
func NewClient(baseURL string) Client {
	return Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithToken returns a new client that authenticates with the given service
// token, sent both as bearer token and as apikey header.
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// Encode translates a query into PostgREST query-string parameters.
func Encode(q query.Query) url.Values {
	values := url.Values{}
	values.Set("select", "*")
	for _, predicate := range q.Predicates {
		switch predicate.Op {
		case query.OpContains:
			// array containment of a single element: cs.{"value"}
			element, _ := json.Marshal(fmt.Sprint(predicate.Value))
			values.Add(predicate.Column, "cs.{"+string(element)+"}")
		default:
			values.Add(predicate.Column, string(predicate.Op)+"."+fmt.Sprint(predicate.Value))
		}
	}
	if q.Sort != nil {
		values.Set("order", q.Sort.Column+"."+string(q.Sort.Direction))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	return values
}

// List runs a translated list query against the table and returns the
// backend's payload unchanged.
func (c Client) List(ctx context.Context, table string, q query.Query) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/"+table+"?"+Encode(q).Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(request)
}

// Upsert writes one record to the table, updating an existing row when the
// conflict column matches. The record must already be normalized and
// validated; this client only moves bytes.
func (c Client) Upsert(ctx context.Context, table string, record map[string]interface{}, conflictColumn string) ([]byte, error) {
	body, err := json.MarshalWithOption(record, json.DisableHTMLEscape())
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("on_conflict", conflictColumn)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/"+table+"?"+values.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Prefer", "resolution=merge-duplicates,return=representation")
	return c.do(request)
}

func (c Client) do(request *http.Request) ([]byte, error) {
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
		request.Header.Set("apikey", c.token)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, query.BackendError{Status: http.StatusBadGateway, Detail: []byte(err.Error())}
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, query.BackendError{Status: http.StatusBadGateway, Detail: []byte(err.Error())}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		// keep the backend's original detail payload for the caller
		return nil, query.BackendError{Status: response.StatusCode, Detail: payload}
	}
	return payload, nil
}
