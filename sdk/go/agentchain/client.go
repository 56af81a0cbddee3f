package agentchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the agent-chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents the password grant used to obtain access tokens.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token represents an issued access token pair.
type Token struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	TokenType        string `json:"token_type"`
}

// RunSubmission represents the payload required to create a new run.
type RunSubmission struct {
	ID       string         `json:"id,omitempty"`
	Pipeline string         `json:"pipeline,omitempty"`
	Input    string         `json:"input"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunResult captures the output of a completed run.
type RunResult struct {
	Output     string         `json:"output"`
	SessionID  string         `json:"session_id,omitempty"`
	Stages     []string       `json:"stages,omitempty"`
	FinalState map[string]any `json:"final_state,omitempty"`
}

// Run contains the persisted view of a submitted run.
type Run struct {
	ID          string         `json:"id"`
	Pipeline    string         `json:"pipeline,omitempty"`
	Input       string         `json:"input"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxRetries  int            `json:"max_retries"`
	LastError   string         `json:"last_error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	FailedStage string         `json:"failed_stage,omitempty"`
	Result      *RunResult     `json:"result,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// RunStats aggregates run counts by status.
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ExecuteRequest describes a synchronous pipeline invocation.
type ExecuteRequest struct {
	Pipeline string `json:"pipeline,omitempty"`
	Input    string `json:"input"`
}

// ExecuteResult contains the output of a synchronous invocation.
type ExecuteResult struct {
	Output    any            `json:"output"`
	State     map[string]any `json:"state"`
	SessionID string         `json:"session_id"`
	Stages    []string       `json:"stages"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agentchain api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the agent-chain API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// Authenticate exchanges user credentials for an access token and stores it
// for subsequent calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	payload := struct {
		GrantType string `json:"grant_type"`
		Username  string `json:"username"`
		Password  string `json:"password"`
	}{GrantType: "password", Username: creds.Username, Password: creds.Password}

	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", payload, &token, false); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// SubmitRun enqueues a new run for asynchronous processing.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	var created Run
	if err := c.post(ctx, "/api/v1/runs", submission, &created, true); err != nil {
		return Run{}, err
	}
	return created, nil
}

// GetRun fetches run details by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	endpoint := "/api/v1/runs/" + url.PathEscape(runID)
	if err := c.get(ctx, endpoint, &run, true); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns runs matching the provided status filter. An empty status
// lists all runs up to the server-side limit.
func (c *Client) ListRuns(ctx context.Context, status string, limit int) ([]Run, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "/api/v1/runs"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var runs []Run
	if err := c.get(ctx, endpoint, &runs, true); err != nil {
		return nil, err
	}
	return runs, nil
}

// Stats returns aggregate run counts.
func (c *Client) Stats(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if err := c.get(ctx, "/api/v1/runs/stats", &stats, true); err != nil {
		return RunStats{}, err
	}
	return stats, nil
}

// Execute runs a pipeline synchronously and returns its final output.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	var result ExecuteResult
	if err := c.post(ctx, "/api/v1/execute", req, &result, true); err != nil {
		return ExecuteResult{}, err
	}
	return result, nil
}

// WaitForRun polls the run until it reaches a terminal status or the context
// is cancelled.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return Run{}, err
		}
		if run.Status == "succeeded" || run.Status == "failed" {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	parsedEndpoint, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{
		Path:     path.Join(c.baseURL.Path, parsedEndpoint.Path),
		RawQuery: parsedEndpoint.RawQuery,
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
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
