package agenthub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestUpsertAgentSendsBearer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/agents" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var in Agent
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		in.Number = 7
		_ = json.NewEncoder(w).Encode(in)
	})
	client.SetAccessToken("tok")

	out, err := client.UpsertAgent(context.Background(), Agent{ID: "a1", Name: "Alpha", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if out.ID != "a1" || out.Number != 7 {
		t.Fatalf("unexpected agent: %+v", out)
	}
}

func TestCreateAgentReportsCreated(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/v2" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusCreated)
		}
		_ = json.NewEncoder(w).Encode(Agent{ID: "a1", UpstreamID: "up-1"})
	})

	_, created, err := client.CreateAgent(context.Background(), Agent{UpstreamID: "up-1"})
	if err != nil || !created {
		t.Fatalf("expected created, got %v %v", created, err)
	}
	_, created, err = client.CreateAgent(context.Background(), Agent{UpstreamID: "up-1"})
	if err != nil || created {
		t.Fatalf("expected existing agent, got %v %v", created, err)
	}
}

func TestGetAgentError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"AGENT_NOT_FOUND","message":"agent 不存在"}`))
	})

	_, err := client.GetAgent(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "AGENT_NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	err := client.ValidateAgent(context.Background(), Agent{ID: "a1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "boom" {
		t.Fatalf("expected plain text message, got %v", err)
	}
}

func TestChatPassesDebugQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/a1/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("debug") != "true" {
			t.Fatalf("expected debug query, got %q", r.URL.RawQuery)
		}
		var in ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode([]Message{{ID: "m1", ChatID: in.ChatID, AuthorType: "agent", Message: "hi"}})
	})

	msgs, err := client.Chat(context.Background(), "a1", ChatRequest{ChatID: "c1", Message: "hello", Debug: true})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ChatID != "c1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestWaitJobPollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents/a1/chat/async":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Status: "pending"})
		case "/jobs/job-1":
			status := "running"
			if polls.Add(1) >= 3 {
				status = "succeeded"
			}
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Status: status, MessageIDs: []string{"u", "r"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	job, err := client.SubmitChat(context.Background(), "a1", ChatRequest{ChatID: "c1", Message: "hi"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := client.WaitJob(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != "succeeded" || len(done.MessageIDs) != 2 {
		t.Fatalf("unexpected job: %+v", done)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	const doc = "id: a1\nname: Alpha\n"
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /agents/a1/export":
			w.Header().Set("Content-Type", "application/x-yaml")
			_, _ = w.Write([]byte(doc))
		case "PUT /agents/a1/import":
			if ct := r.Header.Get("Content-Type"); ct != "application/x-yaml" {
				t.Fatalf("unexpected content type: %s", ct)
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != doc {
				t.Fatalf("unexpected body: %q", body)
			}
			_ = json.NewEncoder(w).Encode(Agent{ID: "a1", Name: "Alpha"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	content, err := client.ExportAgent(context.Background(), "a1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if string(content) != doc {
		t.Fatalf("unexpected export: %q", content)
	}
	agent, err := client.ImportAgent(context.Background(), "a1", content)
	if err != nil || agent.Name != "Alpha" {
		t.Fatalf("import: %+v %v", agent, err)
	}
}

func TestCleanMemoryNoContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in CleanMemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.AgentID != "a1" || !in.CleanAgentMemory {
			t.Fatalf("unexpected body: %+v %v", in, err)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.CleanMemory(context.Background(), CleanMemoryRequest{AgentID: "a1", CleanAgentMemory: true}); err != nil {
		t.Fatalf("clean memory: %v", err)
	}
}
