package agent

import (
	"context"
	"testing"
	"time"

	"AgentHub/internal/agentstore"
	"AgentHub/internal/chat"
	"AgentHub/internal/llm"
)

// steppedClock 每次调用前进一秒。
type steppedClock struct {
	base time.Time
	n    int
}

func (c *steppedClock) now() time.Time {
	c.n++
	return c.base.Add(time.Duration(c.n) * time.Second)
}

func newTurn(t *testing.T) (*turn, *chat.MemoryStore) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &steppedClock{base: base}
	messages := chat.NewMemoryStore()
	exec := NewExecutor(nil, messages, WithClock(clock.now))
	return &turn{
		exec:    exec,
		ctx:     context.Background(),
		source:  &chat.Message{AgentID: "alpha", ChatID: "c1"},
		log:     exec.log,
		start:   base,
		last:    base,
		results: []*chat.Message{},
	}, messages
}

func TestTurnIgnoresMalformedEvents(t *testing.T) {
	tr, messages := newTurn(t)
	events := []Event{
		{Kind: EventTools, Messages: []llm.Message{{Role: llm.RoleTool, ToolCallID: "c1", Content: "orphan"}}},
		{Kind: EventAgent},
		{Kind: EventAgent, Messages: []llm.Message{{Role: llm.RoleAssistant}}},
		{Kind: EventHousekeeping, Messages: []llm.Message{{Content: "trimmed"}}},
		{Kind: EventKind(99), Messages: []llm.Message{{Content: "mystery"}}},
	}
	for _, ev := range events {
		if err := tr.handle(ev); err != nil {
			t.Fatalf("%s event: %v", ev.Kind, err)
		}
	}
	if len(tr.results) != 0 || len(messages.All()) != 0 {
		t.Fatalf("nothing should be emitted, got %+v", tr.results)
	}
	if tr.held != nil {
		t.Fatalf("no batch should be held")
	}
}

func TestTurnUsesFirstOfSeveralAgentMessages(t *testing.T) {
	tr, _ := newTurn(t)
	// 第一次调用时钟用于孤立的工具事件，文本消息在第 2 秒产生。
	if err := tr.handle(Event{Kind: EventTools}); err != nil {
		t.Fatalf("tools: %v", err)
	}
	err := tr.handle(Event{Kind: EventAgent, Messages: []llm.Message{
		{Role: llm.RoleAssistant, Content: "first", Usage: &llm.Usage{InputTokens: 5, OutputTokens: 2}},
		{Role: llm.RoleAssistant, Content: "second"},
	}})
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	if len(tr.results) != 1 {
		t.Fatalf("expected one message, got %+v", tr.results)
	}
	out := tr.results[0]
	if out.AuthorType != chat.AuthorAgent || out.Message != "first" || out.InputTokens != 5 || out.OutputTokens != 2 {
		t.Fatalf("unexpected message %+v", out)
	}
	if out.TimeCost != 2 || out.AgentID != "alpha" || out.ChatID != "c1" {
		t.Fatalf("unexpected bookkeeping %+v", out)
	}
}

func TestTurnDropsResultsWithoutMatchingCall(t *testing.T) {
	tr, _ := newTurn(t)
	batch := llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
		{ID: "call-1", Name: "lookup"},
		{ID: "call-2", Name: "price"},
	}}
	if err := tr.handle(Event{Kind: EventAgent, Messages: []llm.Message{batch}}); err != nil {
		t.Fatalf("agent: %v", err)
	}
	if tr.held == nil || len(tr.results) != 0 {
		t.Fatalf("tool call batch must be held until results arrive")
	}

	err := tr.handle(Event{Kind: EventTools, Messages: []llm.Message{
		{Role: llm.RoleTool, ToolCallID: "call-9", Content: "stray"},
		{Role: llm.RoleTool, Content: "no id"},
		{Role: llm.RoleTool, ToolCallID: "call-2", Content: "42"},
	}})
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if tr.held != nil {
		t.Fatalf("batch must be released after results")
	}
	if len(tr.results) != 1 || tr.results[0].AuthorType != chat.AuthorSkill {
		t.Fatalf("unexpected results %+v", tr.results)
	}
	calls := tr.results[0].SkillCalls
	if len(calls) != 1 || calls[0].Name != "price" || calls[0].Response != "42" || !calls[0].Success {
		t.Fatalf("only the matching result should be kept: %+v", calls)
	}

	// 批次已释放，后续工具事件被忽略。
	if err := tr.handle(Event{Kind: EventTools, Messages: []llm.Message{{ToolCallID: "call-1"}}}); err != nil {
		t.Fatalf("tools: %v", err)
	}
	if len(tr.results) != 1 {
		t.Fatalf("late results must be ignored, got %d messages", len(tr.results))
	}
}

func TestRunForwardsImageAttachments(t *testing.T) {
	backend := &scriptedBackend{replies: []*llm.Message{{Content: "a cat"}}}
	f := newFixture(t, backend)
	f.createAgent(t, &agentstore.Agent{ID: "alpha", Model: "generic-1"})

	msg := &chat.Message{AgentID: "alpha", ChatID: "c1", Message: "what is this?", Attachments: []chat.Attachment{
		{Type: chat.AttachmentLink, URL: "https://example.com"},
		{Type: chat.AttachmentImage, URL: "https://example.com/cat.png"},
	}}
	out, err := f.exec.Run(context.Background(), msg, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out) != 1 || out[0].Message != "a cat" {
		t.Fatalf("unexpected messages %+v", out)
	}

	req := backend.requests[0]
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser || len(last.Parts) != 2 {
		t.Fatalf("unexpected user input %+v", last)
	}
	if last.Parts[0].Type != llm.PartText || last.Parts[0].Text != "what is this?" {
		t.Fatalf("unexpected text part %+v", last.Parts[0])
	}
	if last.Parts[1].Type != llm.PartImageURL || last.Parts[1].ImageURL != "https://example.com/cat.png" {
		t.Fatalf("unexpected image part %+v", last.Parts[1])
	}
}
