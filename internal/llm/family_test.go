package llm

import (
	"testing"

	xerrors "AgentHub/internal/errors"
)

func TestResolveDefaultFamilies(t *testing.T) {
	families := DefaultFamilies(FamilyCredentials{DeepSeekAPIKey: "ds", OpenAIAPIKey: "oa"})

	ds, err := families.Resolve("deepseek-chat")
	if err != nil {
		t.Fatalf("resolve deepseek: %v", err)
	}
	if ds.BaseURL != "https://api.deepseek.com" || ds.InputTokenLimit != 60000 {
		t.Fatalf("unexpected deepseek family: %+v", ds)
	}
	if ds.Capabilities.ToolCalls || ds.Capabilities.MidConversationSystemMessages {
		t.Fatalf("deepseek must not advertise tools or mid-conversation system messages")
	}

	oa, err := families.Resolve("GPT-4o-mini")
	if err != nil {
		t.Fatalf("resolve openai: %v", err)
	}
	if oa.InputTokenLimit != 120000 || !oa.Capabilities.ToolCalls || oa.APIKey != "oa" {
		t.Fatalf("unexpected openai family: %+v", oa)
	}
}

func TestResolveUnknownModel(t *testing.T) {
	_, err := DefaultFamilies(FamilyCredentials{}).Resolve("llama-3")
	if xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected CONFIG_INVALID, got %v", err)
	}
	if _, err := DefaultFamilies(FamilyCredentials{}).Resolve("  "); err == nil {
		t.Fatalf("empty model must fail")
	}
}

func TestMessageTextAndEstimate(t *testing.T) {
	msg := Message{Role: RoleUser, Parts: []ContentPart{
		{Type: PartText, Text: "hello"},
		{Type: PartImageURL, ImageURL: "https://example.com/a.png"},
	}}
	if msg.Text() != "hello" {
		t.Fatalf("Text() = %q", msg.Text())
	}
	if EstimateTokens([]Message{{Content: "12345678"}}) != 6 {
		t.Fatalf("unexpected estimate")
	}
}
