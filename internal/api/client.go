// Package api provides the authenticated HTTP client for the remote expense
// service.
//
// The client attaches the bearer credential and base URL to every call and
// treats any non-2xx response as an error. The sync engine depends only on
// this surface and on the documented batch-result shape.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldops/expenseq/internal/model"
)

// DefaultTimeout bounds every network call so a stalled request cannot block
// a sync indefinitely.
const DefaultTimeout = 12 * time.Second

// Submission outcomes reported by the remote per uniqueId. Duplicate is
// explicitly not an error: the server already has the expense, so the local
// row can be dropped exactly as on Created.
const (
	ResultCreated   = "Created"
	ResultDuplicate = "Duplicate"
)

// SubmitResult is the remote's per-item verdict for one submitted expense,
// keyed by its uniqueId.
type SubmitResult struct {
	UniqueID string   `json:"uniqueId"`
	Result   string   `json:"result"`
	Errors   []string `json:"errors,omitempty"`
}

// Accepted reports whether the server now has the expense.
func (r SubmitResult) Accepted() bool {
	return r.Result == ResultCreated || r.Result == ResultDuplicate
}

// Client talks to the remote expense service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL and bearer token.
// A non-positive timeout falls back to DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type batchRequest struct {
	Expenses []*model.Expense `json:"expenses"`
}

type batchResponse struct {
	Results []SubmitResult `json:"results"`
}

// SubmitBatch posts the given drafts as one JSON batch and returns the
// per-item results.
//
// The call is batch-or-nothing at the transport level: either the whole
// batch gets per-item results, or the call fails and the caller changes
// nothing locally.
func (c *Client) SubmitBatch(ctx context.Context, expenses []*model.Expense) ([]SubmitResult, error) {
	var resp batchResponse
	if err := c.postJSON(ctx, "/expenses/batch", batchRequest{Expenses: expenses}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// FetchRates retrieves the remote rate catalog.
func (c *Client) FetchRates(ctx context.Context) ([]*model.Rate, error) {
	var resp struct {
		Rates []*model.Rate `json:"rates"`
	}
	if err := c.getJSON(ctx, "/rates", &resp); err != nil {
		return nil, err
	}
	return resp.Rates, nil
}

// FetchProjects retrieves the projects the user may bill against.
func (c *Client) FetchProjects(ctx context.Context) ([]*model.Project, error) {
	var resp struct {
		Projects []*model.Project `json:"projects"`
	}
	if err := c.getJSON(ctx, "/projects", &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Include a bounded slice of the body for diagnostics.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
	}

	return nil
}
