package planwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

const (
	detectIntentPath   = "/agent/detect-intent"
	submitQueryPath    = "/agent/query"
	planStatusPath     = "/agent/plan/%s/status"
	databaseStatusPath = "/database/status"
	progressPath       = "/progress"
)

// IntentResult is the backend's answer to an intent classification call.
type IntentResult struct {
	NeedsPlanning     bool   `json:"needsPlanning"`
	IsContextQuestion bool   `json:"isContextQuestion,omitempty"`
	Response          string `json:"response,omitempty"`
	ContextType       string `json:"contextType,omitempty"`
}

// DatabaseStatus describes the backend's database connection.
type DatabaseStatus struct {
	IsConnected   bool   `json:"isConnected"`
	DatabaseType  string `json:"databaseType"`
	Server        string `json:"server,omitempty"`
	Database      string `json:"database,omitempty"`
	Schema        string `json:"schema,omitempty"`
	Warehouse     string `json:"warehouse,omitempty"`
	LastConnected string `json:"lastConnected,omitempty"`
}

// Client talks to the agent backend over HTTP. Query submission and status
// fetches carry no client-side timeout: the backend is allowed arbitrary
// latency and cancellation is the caller's context's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// NewClient creates a backend client rooted at baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range options {
		opt(client)
	}
	return client
}

// ProgressURL returns the websocket endpoint for the push channel, derived
// from the backend base URL.
func (c *Client) ProgressURL() string {
	url := c.baseURL + progressPath
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// DetectIntent asks the backend whether the query needs a full execution
// plan or can be answered conversationally from the carried context.
func (c *Client) DetectIntent(ctx context.Context, query string, convCtx *ConversationContext) (*IntentResult, error) {
	body := map[string]any{
		"query":   query,
		"context": convCtx,
	}
	if convCtx == nil {
		body["context"] = &ConversationContext{}
	}

	var result IntentResult
	if err := c.postJSON(ctx, detectIntentPath, body, &result); err != nil {
		return nil, goerr.Wrap(err, "intent detection failed", goerr.V("query", query))
	}
	return &result, nil
}

// SubmitQuery submits a natural-language analysis request and returns the
// backend's initial plan payload, which may or may not already be terminal.
func (c *Client) SubmitQuery(ctx context.Context, query, userID, sessionID string) (*QueryPlan, error) {
	body := map[string]any{
		"query":      query,
		"user_id":    userID,
		"session_id": sessionID,
	}

	var plan QueryPlan
	if err := c.postJSON(ctx, submitQueryPath, body, &plan); err != nil {
		return nil, goerr.Wrap(err, "query submission failed", goerr.V("query", query))
	}
	if plan.PlanID == "" {
		return nil, goerr.Wrap(ErrMissingPlanID, "query submission returned no plan id")
	}
	return &plan, nil
}

// PlanStatus fetches the current state of a plan by id.
func (c *Client) PlanStatus(ctx context.Context, planID string) (*QueryPlan, error) {
	var plan QueryPlan
	path := fmt.Sprintf(planStatusPath, planID)
	if err := c.getJSON(ctx, path, &plan); err != nil {
		return nil, goerr.Wrap(err, "plan status fetch failed", goerr.V("plan_id", planID))
	}
	return &plan, nil
}

// DatabaseStatus reports the backend's database connection. Transport
// failure yields the default disconnected descriptor, never an error.
func (c *Client) DatabaseStatus(ctx context.Context) *DatabaseStatus {
	var status DatabaseStatus
	if err := c.getJSON(ctx, databaseStatusPath, &status); err != nil {
		LoggerFromContext(ctx).Warn("database status fetch failed", "error", err)
		return &DatabaseStatus{IsConnected: false, DatabaseType: "unknown"}
	}
	return &status
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return goerr.Wrap(err, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return goerr.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to build request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "request failed", goerr.V("url", req.URL.String()))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return goerr.Wrap(ErrBackendStatus, "backend returned non-2xx",
			goerr.V("status", resp.StatusCode),
			goerr.V("url", req.URL.String()),
			goerr.V("body", string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode response body", goerr.V("url", req.URL.String()))
	}
	return nil
}
