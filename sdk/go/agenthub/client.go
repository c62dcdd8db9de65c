// Package agenthub is a typed HTTP client for the AgentHub API.
package agenthub

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
// custom http.Client. Synchronous chat turns can take a while, so it is longer
// than a typical REST timeout.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the AgentHub REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// SkillCategory configures one skill category of an agent.
type SkillCategory struct {
	Enabled bool              `json:"enabled"`
	States  map[string]string `json:"states"`
	Options map[string]any    `json:"options,omitempty"`
}

// Agent mirrors the agent configuration returned by the API.
type Agent struct {
	ID                        string                   `json:"id"`
	Number                    int64                    `json:"number,omitempty"`
	Name                      string                   `json:"name,omitempty"`
	Ticker                    string                   `json:"ticker,omitempty"`
	Owner                     string                   `json:"owner,omitempty"`
	UpstreamID                string                   `json:"upstream_id,omitempty"`
	Model                     string                   `json:"model"`
	Temperature               float32                  `json:"temperature"`
	FrequencyPenalty          float32                  `json:"frequency_penalty"`
	PresencePenalty           float32                  `json:"presence_penalty"`
	Purpose                   string                   `json:"purpose,omitempty"`
	Personality               string                   `json:"personality,omitempty"`
	Principles                string                   `json:"principles,omitempty"`
	Prompt                    string                   `json:"prompt,omitempty"`
	PromptAppend              string                   `json:"prompt_append,omitempty"`
	NetworkID                 string                   `json:"network_id,omitempty"`
	Skills                    map[string]SkillCategory `json:"skills,omitempty"`
	TelegramEntrypointEnabled bool                     `json:"telegram_entrypoint_enabled"`
	TelegramToken             string                   `json:"telegram_token,omitempty"`
	CreatedAt                 time.Time                `json:"created_at,omitempty"`
	UpdatedAt                 time.Time                `json:"updated_at,omitempty"`
}

// Attachment is a resource attached to a chat message.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// SkillCall records one tool invocation inside a SKILL message.
type SkillCall struct {
	Name         string          `json:"name"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Success      bool            `json:"success"`
	Response     string          `json:"response,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Message is a persisted chat message.
type Message struct {
	ID            string       `json:"id"`
	AgentID       string       `json:"agent_id"`
	ChatID        string       `json:"chat_id"`
	AuthorID      string       `json:"author_id"`
	AuthorType    string       `json:"author_type"`
	Message       string       `json:"message"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	SkillCalls    []SkillCall  `json:"skill_calls,omitempty"`
	InputTokens   int          `json:"input_tokens"`
	OutputTokens  int          `json:"output_tokens"`
	TimeCost      float64      `json:"time_cost"`
	ColdStartCost float64      `json:"cold_start_cost"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ChatRequest is the payload of a chat turn.
type ChatRequest struct {
	ChatID      string       `json:"chat_id"`
	UserID      string       `json:"user_id,omitempty"`
	Message     string       `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
	// Debug keeps full tool responses instead of truncated ones.
	Debug bool `json:"-"`
}

// Job is a queued chat turn.
type Job struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	ChatID     string    `json:"chat_id"`
	Status     string    `json:"status"`
	MessageIDs []string  `json:"message_ids,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// CleanMemoryRequest selects what to purge for an agent.
type CleanMemoryRequest struct {
	AgentID           string `json:"agent_id"`
	ChatID            string `json:"chat_id,omitempty"`
	CleanAgentMemory  bool   `json:"clean_agent_memory"`
	CleanSkillsMemory bool   `json:"clean_skills_memory"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agenthub api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agenthub api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentHub API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
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

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// UpsertAgent creates the agent or updates it when the id exists.
func (c *Client) UpsertAgent(ctx context.Context, agent Agent) (Agent, error) {
	var out Agent
	err := c.send(ctx, http.MethodPost, "/agents", nil, agent, &out)
	return out, err
}

// CreateAgent creates an agent. created is false when an agent with the same
// upstream id already existed and was returned instead.
func (c *Client) CreateAgent(ctx context.Context, agent Agent) (out Agent, created bool, err error) {
	status, err := c.sendStatus(ctx, http.MethodPost, "/agents/v2", nil, agent, &out)
	return out, status == http.StatusCreated, err
}

// GetAgent fetches an agent by id.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var out Agent
	err := c.send(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// ListAgents lists agents page by page.
func (c *Client) ListAgents(ctx context.Context, limit, offset int) ([]Agent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	var out []Agent
	err := c.send(ctx, http.MethodGet, "/agents", q, nil, &out)
	return out, err
}

// PatchAgent merges the given fields into the stored agent.
func (c *Client) PatchAgent(ctx context.Context, id string, fields map[string]any) (Agent, error) {
	var out Agent
	err := c.send(ctx, http.MethodPatch, "/agents/"+url.PathEscape(id), nil, fields, &out)
	return out, err
}

// OverrideAgent replaces the stored agent.
func (c *Client) OverrideAgent(ctx context.Context, id string, agent Agent) (Agent, error) {
	var out Agent
	err := c.send(ctx, http.MethodPut, "/agents/"+url.PathEscape(id), nil, agent, &out)
	return out, err
}

// ValidateAgent checks an agent configuration without saving it.
func (c *Client) ValidateAgent(ctx context.Context, agent Agent) error {
	return c.send(ctx, http.MethodPost, "/agent/validate", nil, agent, nil)
}

// CleanMemory purges thread memory and/or skill data.
func (c *Client) CleanMemory(ctx context.Context, req CleanMemoryRequest) error {
	return c.send(ctx, http.MethodPost, "/agent/clean-memory", nil, req, nil)
}

// ExportAgent downloads the agent configuration as YAML.
func (c *Client) ExportAgent(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/agents/"+url.PathEscape(id)+"/export", nil, nil, "")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	_, err = c.do(req, &buf)
	return buf.Bytes(), err
}

// ImportAgent applies a YAML document to an existing agent.
func (c *Client) ImportAgent(ctx context.Context, id string, content []byte) (Agent, error) {
	var out Agent
	req, err := c.newRequest(ctx, http.MethodPut, "/agents/"+url.PathEscape(id)+"/import", nil, bytes.NewReader(content), "application/x-yaml")
	if err != nil {
		return out, err
	}
	_, err = c.do(req, &out)
	return out, err
}

// Chat runs a synchronous turn and returns the messages it produced.
func (c *Client) Chat(ctx context.Context, agentID string, req ChatRequest) ([]Message, error) {
	var out []Message
	err := c.send(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/chat", debugQuery(req.Debug), req, &out)
	return out, err
}

// SubmitChat enqueues a turn and returns the pending job.
func (c *Client) SubmitChat(ctx context.Context, agentID string, req ChatRequest) (Job, error) {
	var out Job
	err := c.send(ctx, http.MethodPost, "/agents/"+url.PathEscape(agentID)+"/chat/async", debugQuery(req.Debug), req, &out)
	return out, err
}

// GetJob fetches a queued turn.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var out Job
	err := c.send(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// WaitJob polls until the job finishes or ctx ends.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil || job.Done() {
			return job, err
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Messages lists the persisted messages of a chat.
func (c *Client) Messages(ctx context.Context, agentID, chatID string, limit int) ([]Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var out []Message
	err := c.send(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID)+"/chats/"+url.PathEscape(chatID)+"/messages", q, nil, &out)
	return out, err
}

func debugQuery(debug bool) url.Values {
	if !debug {
		return nil
	}
	return url.Values{"debug": {"true"}}
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	_, err := c.sendStatus(ctx, method, endpoint, query, payload, out)
	return err
}

func (c *Client) sendStatus(ctx context.Context, method, endpoint string, query url.Values, payload, out any) (int, error) {
	var (
		body        io.Reader
		contentType string
	)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, endpoint, query, body, contentType)
	if err != nil {
		return 0, err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return resp.StatusCode, &apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if buf, ok := out.(*bytes.Buffer); ok {
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
