// Package cloud is a trimmed-down PostgREST client generalized from
// pkg/supabase.Client: only the query-builder surface the
// controller actually needs (config override reads, batched reading/alarm
// upserts) survives — Auth/Storage/Realtime have no home in this domain and
// were dropped (see DESIGN.md).
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the cloud REST endpoint connection settings.
type Config struct {
	ProjectURL     string
	ServiceRoleKey string
}

// Client is a PostgREST-speaking HTTP client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	restURL    string
}

// New creates a Client. It returns an error for an empty ProjectURL;
// callers that run with only local logging when the cloud is unconfigured
// skip New and pass a nil *Client to the services instead.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, errors.New("cloud: project URL required")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		restURL:    strings.TrimRight(cfg.ProjectURL, "/") + "/rest/v1",
	}, nil
}

// QueryBuilder incrementally builds a PostgREST request.
type QueryBuilder struct {
	client    *Client
	table     string
	selects   string
	filters   []string
	orders    []string
	limitVal  int
	onConflict string
}

// From starts a query against a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// Select specifies which columns to return.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.selects = columns
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=eq.%v", column, value))
	return q
}

// Gt adds a greater-than filter.
func (q *QueryBuilder) Gt(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=gt.%v", column, value))
	return q
}

// Gte adds a greater-than-or-equal filter.
func (q *QueryBuilder) Gte(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=gte.%v", column, value))
	return q
}

// Lt adds a less-than filter.
func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=lt.%v", column, value))
	return q
}

// Order adds a sort column; ascending selects direction.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit bounds the number of rows returned or mutated.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limitVal = n
	return q
}

// OnConflict sets the on_conflict= target column(s) for Upsert /
// UpsertIgnoreDuplicates.
func (q *QueryBuilder) OnConflict(columns string) *QueryBuilder {
	q.onConflict = columns
	return q
}

// Execute runs a SELECT and decodes the JSON array response into dest.
func (q *QueryBuilder) Execute(ctx context.Context, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.buildURL(), nil)
	if err != nil {
		return err
	}
	q.client.setHeaders(req)

	resp, err := q.client.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return q.client.parseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// Insert creates new rows, failing on conflict.
func (q *QueryBuilder) Insert(ctx context.Context, data any) error {
	return q.mutate(ctx, http.MethodPost, data, "")
}

// Upsert creates or replaces rows matching OnConflict's target columns.
func (q *QueryBuilder) Upsert(ctx context.Context, data any) error {
	return q.mutate(ctx, http.MethodPost, data, "resolution=merge-duplicates,return=minimal")
}

// UpsertIgnoreDuplicates inserts rows, silently skipping any that already
// exist per the on_conflict target.
func (q *QueryBuilder) UpsertIgnoreDuplicates(ctx context.Context, data any) error {
	return q.mutate(ctx, http.MethodPost, data, "resolution=ignore-duplicates,return=minimal")
}

// Update modifies rows matching the configured filters.
func (q *QueryBuilder) Update(ctx context.Context, data any) error {
	if len(q.filters) == 0 {
		return errors.New("cloud: update requires at least one filter")
	}
	return q.mutate(ctx, http.MethodPatch, data, "")
}

func (q *QueryBuilder) mutate(ctx context.Context, method string, data any, prefer string) error {
	req, err := q.client.newJSONRequest(ctx, method, q.buildURL(), data)
	if err != nil {
		return err
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	q.client.setHeaders(req)

	resp, err := q.client.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// PostgREST returns 409 for a plain Insert conflict and 201/200 for a
	// successful ignore-duplicates upsert; both are treated as success by
	// the cloud-sync layer, which distinguishes by call site.
	if resp.StatusCode >= 400 {
		return q.client.parseError(resp)
	}
	return nil
}

func (q *QueryBuilder) buildURL() string {
	url := q.client.restURL + "/" + q.table

	var params []string
	if q.selects != "" {
		params = append(params, "select="+q.selects)
	}
	params = append(params, q.filters...)
	if len(q.orders) > 0 {
		params = append(params, "order="+strings.Join(q.orders, ","))
	}
	if q.limitVal > 0 {
		params = append(params, fmt.Sprintf("limit=%d", q.limitVal))
	}
	if q.onConflict != "" {
		params = append(params, "on_conflict="+q.onConflict)
	}
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}
	return url
}

func (c *Client) newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(string(data))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.cfg.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceRoleKey)
}

// APIError represents a PostgREST error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: %s (status=%d, code=%s)", e.Message, e.StatusCode, e.Code)
}

// IsConflict reports whether err is a PostgREST unique-violation response
// (HTTP 409), which the cloud-sync layer treats as already-delivered rather
// than a failure to retry.
func IsConflict(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusConflict
	}
	return false
}

func (c *Client) parseError(resp *http.Response) error {
	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		return fmt.Errorf("cloud: request failed with status %d", resp.StatusCode)
	}
	apiErr.StatusCode = resp.StatusCode
	return &apiErr
}
