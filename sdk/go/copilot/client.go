package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Agent runs call the model up to three times, so it is larger than a typical
// REST timeout.
const DefaultHTTPTimeout = 3 * time.Minute

// Client wraps the HTTP interactions with the copilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Step is one plan step, with Result filled in once the step has executed.
type Step struct {
	StepNumber  int            `json:"step_number"`
	Description string         `json:"description"`
	ToolName    *string        `json:"tool_name"`
	ToolArgs    map[string]any `json:"tool_args"`
	Result      *string        `json:"result"`
}

// Plan is the ordered list of steps produced by the planner.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Response is the outcome of a single agent run.
type Response struct {
	RunID              string `json:"run_id,omitempty"`
	Query              string `json:"query"`
	Plan               Plan   `json:"plan"`
	FinalAnswer        string `json:"final_answer"`
	VerificationStatus string `json:"verification_status"`
	VerificationReason string `json:"verification_reason,omitempty"`
}

// Run describes an asynchronous run submitted to /api/v1/runs.
type Run struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	LastError  string    `json:"last_error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Result     *Response `json:"result,omitempty"`
	CreatedAt  int64     `json:"created_at"`
	UpdatedAt  int64     `json:"updated_at"`
}

// Done reports whether the run reached a terminal state.
func (r *Run) Done() bool {
	return r.Status == "succeeded" || r.Status == "failed"
}

// RunStats aggregates run counts per status.
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListOptions filters ListRuns. Zero values are omitted from the query.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Ascending bool
	Query     string
	// Since and Until bound the run's last update time, inclusive.
	Since     time.Time
	Until     time.Time
}

// APIError is returned for any response with a status code of 400 or above.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("copilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("copilot api error (%d): %s", e.StatusCode, e.Detail)
}

// NewClient instantiates a client for the copilot API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil, nil)
}

// Chat runs a query synchronously through POST /chat.
func (c *Client) Chat(ctx context.Context, query string) (*Response, error) {
	var resp Response
	if err := c.post(ctx, "/chat", map[string]string{"query": query}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitRun queues a query for asynchronous execution. id may be empty.
func (c *Client) SubmitRun(ctx context.Context, id, query string) (*Run, error) {
	payload := struct {
		ID    string `json:"id,omitempty"`
		Query string `json:"query"`
	}{ID: id, Query: query}
	var run Run
	if err := c.post(ctx, "/api/v1/runs", payload, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun fetches a run. A positive wait asks the server to hold the request
// until the run finishes or wait elapses.
func (c *Client) GetRun(ctx context.Context, id string, wait time.Duration) (*Run, error) {
	var query url.Values
	if wait > 0 {
		query = url.Values{"wait": []string{wait.String()}}
	}
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+id, query, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs matching opts.
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Ascending {
		query.Set("order", "asc")
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	if !opts.Since.IsZero() {
		query.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if !opts.Until.IsZero() {
		query.Set("until", opts.Until.UTC().Format(time.RFC3339))
	}
	var runs []Run
	if err := c.get(ctx, "/api/v1/runs", query, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunStats returns aggregated run counts.
func (c *Client) RunStats(ctx context.Context) (*RunStats, error) {
	var stats RunStats
	if err := c.get(ctx, "/api/v1/runs/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Detail == "" {
			apiErr.Detail = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
