package enso

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentHub/internal/agentstore"
	"AgentHub/internal/skill"
)

func TestGetNetworksCachesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/networks" || r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`[{"id":1,"name":"Ethereum","isConnected":true},{"id":8453,"name":"Base","isConnected":false}]`))
	}))
	defer srv.Close()

	store := skill.NewMemoryStore()
	cat := NewCategory(srv.URL)
	tool, err := cat.New(SkillNetworks, skill.Env{
		AgentID: "alpha",
		Store:   store,
		Config:  agentstore.SkillCategoryConfig{Options: map[string]any{"api_token": "tok"}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := tool.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(out, `"Base"`) {
		t.Fatalf("unexpected output %s", out)
	}
	cached, _ := store.GetAgentSkillData(context.Background(), "alpha", networksToolKey, networksDataKey)
	if len(cached) != 2 || cached["8453"] == nil {
		t.Fatalf("networks not cached: %v", cached)
	}

	if _, err := cat.New(SkillNetworks, skill.Env{AgentID: "alpha"}); err == nil {
		t.Fatalf("expected missing token error")
	}
}
