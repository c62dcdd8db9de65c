package skill

import (
	"context"
	"fmt"
	"time"

	xerrors "AgentHub/internal/errors"
)

const rateLimitKey = "rate_limit"

// RateLimiter 基于技能数据实现固定窗口限流，计数保存在 agent 级技能数据中。
type RateLimiter struct {
	store Store
	now   func() time.Time
}

// NewRateLimiter 创建 RateLimiter。
func NewRateLimiter(store Store) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

// Allow 记录一次调用；窗口内调用次数达到 max 时返回 RATE_LIMITED。
func (r *RateLimiter) Allow(ctx context.Context, agentID, skill string, max int, window time.Duration) error {
	now := r.now().UTC()
	current, err := r.store.GetAgentSkillData(ctx, agentID, skill, rateLimitKey)
	if err != nil {
		return err
	}
	if count, reset, ok := parseWindow(current); ok && reset.After(now) {
		if count >= max {
			return xerrors.New(xerrors.CodeRateLimited,
				fmt.Sprintf("技能 %s 已超出调用频率限制，将于 %s 重置", skill, reset.Format(time.RFC3339)))
		}
		current["count"] = count + 1
		return r.store.SaveAgentSkillData(ctx, agentID, skill, rateLimitKey, current)
	}
	return r.store.SaveAgentSkillData(ctx, agentID, skill, rateLimitKey, map[string]any{
		"count":      1,
		"reset_time": now.Add(window).Format(time.RFC3339Nano),
	})
}

func parseWindow(data map[string]any) (int, time.Time, bool) {
	if data == nil {
		return 0, time.Time{}, false
	}
	raw, ok := data["reset_time"].(string)
	if !ok {
		return 0, time.Time{}, false
	}
	reset, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, time.Time{}, false
	}
	switch v := data["count"].(type) {
	case int:
		return v, reset, true
	case int64:
		return int(v), reset, true
	case float64:
		// JSON 往返后数字会变为 float64。
		return int(v), reset, true
	}
	return 0, time.Time{}, false
}
