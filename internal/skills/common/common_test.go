package common

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"AgentHub/internal/skill"
)

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tool, err := NewCategory(func() time.Time { return fixed }).New(SkillCurrentTime, skill.Env{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := tool.Invoke(context.Background(), nil)
	if err != nil || !strings.Contains(out, "2025-03-01T12:00:00Z") {
		t.Fatalf("utc: %s %v", out, err)
	}
	if _, err := tool.Invoke(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`)); err == nil {
		t.Fatalf("expected unknown timezone error")
	}
}
