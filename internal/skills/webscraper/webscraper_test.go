package webscraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"AgentHub/internal/skill"
)

const samplePage = `<html><head><title>Agent Docs</title><style>body{}</style></head>
<body><h1>Welcome</h1><p>First   paragraph.</p><script>alert(1)</script><ul><li>one</li><li>two</li></ul></body></html>`

func TestExtract(t *testing.T) {
	title, text, err := Extract(strings.NewReader(samplePage))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if title != "Agent Docs" {
		t.Fatalf("unexpected title %q", title)
	}
	if strings.Contains(text, "alert") || strings.Contains(text, "body{}") {
		t.Fatalf("script or style leaked: %q", text)
	}
	want := "Welcome\nFirst paragraph.\none\ntwo"
	if text != want {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestScrapeTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	tool, _ := NewCategory(srv.Client()).New(SkillScrape, skill.Env{})
	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`","max_length":7}`))
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	var p page
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Text != "Welcome" || !p.Truncated {
		t.Fatalf("unexpected page %+v", p)
	}
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{"url":"ftp://x"}`)); err == nil {
		t.Fatalf("expected scheme error")
	}
}
