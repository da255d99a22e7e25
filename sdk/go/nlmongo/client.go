package nlmongo

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
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the natural-language Mongo agent
// REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// InstructionRequest represents the payload accepted by the synchronous
// instruction endpoint.
type InstructionRequest struct {
	Instruction string `json:"instruction"`
	ConfirmAll  bool   `json:"confirm_all,omitempty"`
}

// InstructionOutcome mirrors the agent pipeline outcome: the stage the
// instruction finished in and the rendered natural-language response.
type InstructionOutcome struct {
	Instruction string `json:"instruction"`
	Kind        string `json:"kind,omitempty"`
	Stage       string `json:"stage"`
	Response    string `json:"response"`
	CreatedAt   int64  `json:"created_at"`
}

// Failed reports whether the pipeline ended in the FAILED stage.
func (o *InstructionOutcome) Failed() bool {
	return o != nil && o.Stage == "FAILED"
}

// TaskSubmission represents the payload required to enqueue an instruction.
type TaskSubmission struct {
	ID          string         `json:"id,omitempty"`
	Instruction string         `json:"instruction"`
	ConfirmAll  bool           `json:"confirm_all,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TaskResult carries the stored pipeline outcome of a completed task.
type TaskResult struct {
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Response  string `json:"response"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Task contains the queued instruction with its processing state.
type Task struct {
	ID          string      `json:"id"`
	Instruction string      `json:"instruction"`
	ConfirmAll  bool        `json:"confirm_all,omitempty"`
	Status      string      `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxRetries  int         `json:"max_retries"`
	LastError   string      `json:"last_error,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
	CreatedAt   int64       `json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
}

// TaskStats summarises queued instruction counts per status.
type TaskStats struct {
	Total           int64 `json:"total"`
	Pending         int64 `json:"pending"`
	Running         int64 `json:"running"`
	Succeeded       int64 `json:"succeeded"`
	Failed          int64 `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}

// ListTasksOptions narrows down ListTasks results.
type ListTasksOptions struct {
	Limit    int
	Offset   int
	Statuses []string
	Query    string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("nlmongo api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("nlmongo api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the agent API. When httpClient is nil,
// a default client with a sensible timeout is used.
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

// SetAPIKey stores the API key sent as a bearer token on subsequent calls.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently stored API key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// ProcessInstruction runs an instruction through the synchronous pipeline and
// returns the rendered outcome. A pipeline failure is not an error at this
// level: inspect Outcome.Failed.
func (c *Client) ProcessInstruction(ctx context.Context, req InstructionRequest) (InstructionOutcome, error) {
	var outcome InstructionOutcome
	if err := c.post(ctx, "/api/v1/instructions", req, &outcome); err != nil {
		return InstructionOutcome{}, err
	}
	return outcome, nil
}

// SubmitTask enqueues an instruction for asynchronous processing.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (Task, error) {
	var created Task
	if err := c.post(ctx, "/api/v1/tasks", submission, &created); err != nil {
		return Task{}, err
	}
	return created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var detail Task
	endpoint := "/api/v1/tasks/" + url.PathEscape(taskID)
	if err := c.get(ctx, endpoint, &detail); err != nil {
		return Task{}, err
	}
	return detail, nil
}

// ListTasks returns queued instructions matching the options.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]Task, error) {
	values := url.Values{}
	if opts.Limit > 0 {
		values.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		values.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		values.Set("status", joinComma(opts.Statuses))
	}
	if opts.Query != "" {
		values.Set("q", opts.Query)
	}
	endpoint := "/api/v1/tasks"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var tasks []Task
	if err := c.get(ctx, endpoint, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskStats returns aggregate counts of queued instructions.
func (c *Client) TaskStats(ctx context.Context) (TaskStats, error) {
	var stats TaskStats
	if err := c.get(ctx, "/api/v1/tasks/stats", &stats); err != nil {
		return TaskStats{}, err
	}
	return stats, nil
}

// WaitForTask polls the task until it leaves the pending and running states or
// the context is cancelled.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		detail, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if detail.Status != "pending" && detail.Status != "running" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Task{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func joinComma(values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	}
	out := values[0]
	for _, value := range values[1:] {
		out += "," + value
	}
	return out
}
