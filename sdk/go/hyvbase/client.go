package hyvbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// DefaultPollInterval is the delay between status checks in WaitForCommand.
const DefaultPollInterval = 500 * time.Millisecond

// Client wraps the HTTP interactions with the HyvBase REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents the username and password used to obtain tokens.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token represents an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ChatResponse mirrors the uniform response envelope returned by the agent.
type ChatResponse struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	Error         string         `json:"error,omitempty"`
	Result        any            `json:"result,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ExecutionTime float64        `json:"execution_time"`
}

// CommandSubmission represents the payload required to queue a command.
type CommandSubmission struct {
	ID       string         `json:"id,omitempty"`
	Input    string         `json:"input"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CommandOutcome captures the execution result attached to a command.
type CommandOutcome struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Payload   string `json:"payload,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Command contains the queued command state returned by the API.
type Command struct {
	ID         string          `json:"id"`
	Input      string          `json:"input"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Result     *CommandOutcome `json:"result,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Terminal reports whether the command reached a final state.
func (c Command) Terminal() bool {
	return c.Status == "succeeded" || c.Status == "failed"
}

// Stats aggregates command counts by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("hyvbase api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the HyvBase API. When httpClient is nil,
// a default client with a sensible timeout is used.
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

// Authenticate exchanges credentials for an access token and stores it for
// subsequent calls. It is unnecessary when the server runs with auth disabled.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// Chat runs a command synchronously and returns the response envelope.
func (c *Client) Chat(ctx context.Context, input string) (ChatResponse, error) {
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", map[string]string{"input": input}, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// SubmitCommand queues a command for asynchronous execution.
func (c *Client) SubmitCommand(ctx context.Context, submission CommandSubmission) (Command, error) {
	var cmd Command
	if err := c.post(ctx, "/api/v1/commands", submission, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// GetCommand fetches command state by identifier.
func (c *Client) GetCommand(ctx context.Context, id string) (Command, error) {
	if id == "" {
		return Command{}, errors.New("hyvbase: command id is empty")
	}
	var cmd Command
	if err := c.get(ctx, "/api/v1/commands/"+url.PathEscape(id), &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// GetStats fetches aggregate command counts.
func (c *Client) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/commands/stats", &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// WaitForCommand polls until the command reaches a terminal state or the
// context is cancelled. A non-positive interval falls back to the default.
func (c *Client) WaitForCommand(ctx context.Context, id string, interval time.Duration) (Command, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cmd, err := c.GetCommand(ctx, id)
		if err != nil {
			return Command{}, err
		}
		if cmd.Terminal() {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return Command{}, ctx.Err()
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
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
