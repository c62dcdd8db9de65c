package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AgentHub/internal/admin"
	"AgentHub/internal/agentstore"
	"AgentHub/internal/auth"
	"AgentHub/internal/chat"
	"AgentHub/internal/dispatch"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

type catalog map[string][]string

func (c catalog) CategorySkills(name string) ([]string, bool) {
	s, ok := c[name]
	return s, ok
}

type fakeTurns struct {
	agents   agentstore.Store
	messages chat.Store
	debug    bool
}

func (f *fakeTurns) Run(ctx context.Context, msg *chat.Message, debug bool) ([]*chat.Message, error) {
	if _, err := f.agents.Get(ctx, msg.AgentID); err != nil {
		return nil, err
	}
	f.debug = debug
	if err := f.messages.Save(ctx, msg); err != nil {
		return nil, err
	}
	reply := &chat.Message{AgentID: msg.AgentID, ChatID: msg.ChatID, AuthorID: msg.AgentID,
		AuthorType: chat.AuthorAgent, Message: "echo: " + msg.Message}
	if err := f.messages.Save(ctx, reply); err != nil {
		return nil, err
	}
	return []*chat.Message{reply}, nil
}

func (f *fakeTurns) ThreadMessages(ctx context.Context, agentID, _ string) ([]llm.Message, error) {
	if _, err := f.agents.Get(ctx, agentID); err != nil {
		return nil, err
	}
	return []llm.Message{{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "hello"}}, nil
}

type testEnv struct {
	srv    *httptest.Server
	agents *agentstore.MemoryStore
	turns  *fakeTurns
}

func newTestEnv(t *testing.T, verifier *auth.Verifier) *testEnv {
	t.Helper()
	agents := agentstore.NewMemoryStore()
	messages := chat.NewMemoryStore()
	turns := &fakeTurns{agents: agents, messages: messages}
	svc := admin.NewService(admin.Config{Agents: agents, Catalog: catalog{"common": {"current_time"}}})
	jobs := dispatch.NewService(dispatch.NewMemoryStore(), dispatch.NewMemoryQueue(16))

	server := NewServer(":0", Deps{
		Admin:    svc,
		Turns:    turns,
		Messages: messages,
		Jobs:     jobs,
		Verifier: verifier,
		Auth:     auth.MiddlewareConfig{Required: verifier != nil},
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, agents: agents, turns: turns}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestAgentLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/agents/v2", `{"id":"alpha","name":"Alpha","model":"gpt-4o-mini","upstream_id":"u1"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatalf("missing etag")
	}

	resp = env.do(t, http.MethodPost, "/agents/v2", `{"id":"beta","model":"gpt-4o-mini","upstream_id":"u1"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("repeat upstream create status %d", resp.StatusCode)
	}
	if got := decode[agentstore.Agent](t, resp); got.ID != "alpha" {
		t.Fatalf("expected existing agent, got %s", got.ID)
	}

	resp = env.do(t, http.MethodGet, "/agents/alpha", "", map[string]string{"If-None-Match": etag})
	if resp.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPatch, "/agents/alpha", `{"purpose":"help"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d", resp.StatusCode)
	}
	if resp.Header.Get("ETag") == etag {
		t.Fatalf("etag should change after patch")
	}

	resp = env.do(t, http.MethodGet, "/agents/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decode[errorBody](t, resp)
	if body.Code != string(agentstore.CodeAgentNotFound) {
		t.Fatalf("unexpected error code %q", body.Code)
	}

	resp = env.do(t, http.MethodGet, "/agents/alpha/export", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/x-yaml" {
		t.Fatalf("export status %d type %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestValidateAndCleanMemory(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/agent/validate", `{"id":"Bad ID","model":""}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodPost, "/agents/alpha/validate", `{"model":"m"}`, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/agent/clean-memory", `{"agent_id":"ghost","clean_agent_memory":true}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", resp.StatusCode)
	}
}

func TestChatRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.agents.Create(context.Background(), &agentstore.Agent{ID: "alpha", Model: "m"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/agents/alpha/chat?debug=true", `{"chat_id":"c1","message":"hi"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status %d", resp.StatusCode)
	}
	replies := decode[[]chat.Message](t, resp)
	if len(replies) != 1 || replies[0].Message != "echo: hi" || !env.turns.debug {
		t.Fatalf("unexpected replies %+v", replies)
	}

	resp = env.do(t, http.MethodPost, "/agents/alpha/chat", `{"chat_id":"","message":"hi"}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing chat id should be 400, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/agents/ghost/chat", `{"chat_id":"c1","message":"hi"}`, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown agent should be 404, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/agents/alpha/chats/c1/messages", "", nil)
	history := decode[[]chat.Message](t, resp)
	if len(history) != 2 || history[0].AuthorType != chat.AuthorWeb || history[1].AuthorType != chat.AuthorAgent {
		t.Fatalf("unexpected history %+v", history)
	}

	resp = env.do(t, http.MethodGet, "/debug/agents/alpha/chats/c1/memory", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("memory status %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/debug/agents/ghost/chats/c1/memory", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("memory errors map to 400, got %d", resp.StatusCode)
	}
}

func TestAsyncChatCreatesJob(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, "/agents/alpha/chat/async", `{"chat_id":"c1","message":"hi"}`,
		map[string]string{"Idempotency-Key": "job-42"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("async status %d", resp.StatusCode)
	}
	job := decode[dispatch.Job](t, resp)
	if job.ID != "job-42" || job.Status != dispatch.StatusPending {
		t.Fatalf("unexpected job %+v", job)
	}

	resp = env.do(t, http.MethodGet, "/jobs/job-42", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job status %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/jobs/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job should be 404, got %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	verifier, err := auth.NewVerifier("s3cret", "")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	env := newTestEnv(t, verifier)

	if resp := env.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz should be public, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/agents", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	token, _ := verifier.Issue("owner-1", nil, time.Hour)
	bearer := map[string]string{"Authorization": "Bearer " + token}
	resp := env.do(t, http.MethodPost, "/agents", `{"id":"alpha","model":"m"}`, bearer)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	if got := decode[agentstore.Agent](t, resp); got.Owner != "owner-1" {
		t.Fatalf("owner should come from token subject, got %q", got.Owner)
	}

	other, _ := verifier.Issue("owner-2", nil, time.Hour)
	resp = env.do(t, http.MethodPut, "/agents/alpha", `{"model":"m2"}`, map[string]string{"Authorization": "Bearer " + other})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("override by another owner should be 403, got %d", resp.StatusCode)
	}
	if xerrors.HTTPStatus(xerrors.CodePermissionDenied) != http.StatusForbidden {
		t.Fatalf("permission denied must map to 403")
	}
}
