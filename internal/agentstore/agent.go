package agentstore

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// SkillState 控制单个技能的可见性。
type SkillState string

const (
	StateDisabled SkillState = "disabled"
	StatePrivate  SkillState = "private"
	StatePublic   SkillState = "public"
)

// Valid 判断状态取值是否合法。
func (s SkillState) Valid() bool {
	switch s {
	case StateDisabled, StatePrivate, StatePublic:
		return true
	}
	return false
}

// SkillCategoryConfig 是某个技能分类的配置。
type SkillCategoryConfig struct {
	Enabled bool                  `json:"enabled" yaml:"enabled"`
	States  map[string]SkillState `json:"states" yaml:"states"`
	// Options 保存分类专属的参数与凭据，例如 api_key。
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Option 返回字符串类型的分类参数。
func (c SkillCategoryConfig) Option(key string) string {
	if v, ok := c.Options[key].(string); ok {
		return v
	}
	return ""
}

// Agent 为 agent 的持久化配置，由管理接口维护，运行时只读。
type Agent struct {
	ID         string `json:"id" yaml:"id"`
	Number     int64  `json:"number" yaml:"-"`
	Name       string `json:"name" yaml:"name"`
	Ticker     string `json:"ticker,omitempty" yaml:"ticker,omitempty"`
	Owner      string `json:"owner,omitempty" yaml:"-"`
	UpstreamID string `json:"upstream_id,omitempty" yaml:"upstream_id,omitempty"`

	Model            string  `json:"model" yaml:"model"`
	Temperature      float32 `json:"temperature" yaml:"temperature"`
	FrequencyPenalty float32 `json:"frequency_penalty" yaml:"frequency_penalty"`
	PresencePenalty  float32 `json:"presence_penalty" yaml:"presence_penalty"`

	Purpose      string `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Personality  string `json:"personality,omitempty" yaml:"personality,omitempty"`
	Principles   string `json:"principles,omitempty" yaml:"principles,omitempty"`
	Prompt       string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	PromptAppend string `json:"prompt_append,omitempty" yaml:"prompt_append,omitempty"`

	NetworkID string                         `json:"network_id,omitempty" yaml:"network_id,omitempty"`
	Skills    map[string]SkillCategoryConfig `json:"skills,omitempty" yaml:"skills,omitempty"`

	TelegramEntrypointEnabled bool   `json:"telegram_entrypoint_enabled" yaml:"telegram_entrypoint_enabled"`
	TelegramToken             string `json:"telegram_token,omitempty" yaml:"telegram_token,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Category 返回已启用的分类配置。
func (a *Agent) Category(name string) (SkillCategoryConfig, bool) {
	if a == nil {
		return SkillCategoryConfig{}, false
	}
	cfg, ok := a.Skills[name]
	if !ok || !cfg.Enabled {
		return SkillCategoryConfig{}, false
	}
	return cfg, true
}

// EnabledCategories 按名称排序返回已启用的分类。
func (a *Agent) EnabledCategories() []string {
	if a == nil {
		return nil
	}
	var out []string
	for name, cfg := range a.Skills {
		if cfg.Enabled {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Network 返回 agent 的网络，未配置时使用 fallback。
func (a *Agent) Network(fallback string) string {
	if a != nil && a.NetworkID != "" {
		return a.NetworkID
	}
	return fallback
}

// Clone 深拷贝 agent，避免存储实现与调用方共享 map。
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	out := *a
	if a.Skills != nil {
		out.Skills = make(map[string]SkillCategoryConfig, len(a.Skills))
		for name, cfg := range a.Skills {
			cfg.States = maps.Clone(cfg.States)
			cfg.Options = maps.Clone(cfg.Options)
			out.Skills[name] = cfg
		}
	}
	return &out
}

// AgentData 保存 agent 级别的可变状态：钱包、社交账号与机器人身份。
type AgentData struct {
	ID                 string          `json:"id"`
	WalletData         json.RawMessage `json:"wallet_data,omitempty"`
	TwitterID          string          `json:"twitter_id,omitempty"`
	TwitterUsername    string          `json:"twitter_username,omitempty"`
	TwitterName        string          `json:"twitter_name,omitempty"`
	TwitterAccessToken string          `json:"-"`
	TelegramID         string          `json:"telegram_id,omitempty"`
	TelegramUsername   string          `json:"telegram_username,omitempty"`
	TelegramName       string          `json:"telegram_name,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// HasWallet 判断是否已保存钱包材料。
func (d *AgentData) HasWallet() bool {
	return d != nil && len(d.WalletData) > 0 && string(d.WalletData) != "null"
}

// DataPatch 描述对 AgentData 的部分更新，nil 字段保持不变。
type DataPatch struct {
	WalletData         json.RawMessage
	TwitterID          *string
	TwitterUsername    *string
	TwitterName        *string
	TwitterAccessToken *string
	TelegramID         *string
	TelegramUsername   *string
	TelegramName       *string
}

// Apply 将补丁合并到 data 上。
func (p DataPatch) Apply(data *AgentData) {
	if p.WalletData != nil {
		data.WalletData = append(json.RawMessage(nil), p.WalletData...)
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&data.TwitterID, p.TwitterID)
	set(&data.TwitterUsername, p.TwitterUsername)
	set(&data.TwitterName, p.TwitterName)
	set(&data.TwitterAccessToken, p.TwitterAccessToken)
	set(&data.TelegramID, p.TelegramID)
	set(&data.TelegramUsername, p.TelegramUsername)
	set(&data.TelegramName, p.TelegramName)
}

// Ptr 便于构造 DataPatch。
func Ptr(s string) *string { return &s }

// NextUpdatedAt 返回严格晚于 prev 的更新时间，保证同一 agent 的 updated_at 单调递增。
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
