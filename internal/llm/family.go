package llm

import (
	"strings"

	xerrors "AgentHub/internal/errors"
)

// Capabilities 描述后端对提示词与工具调用的支持情况。
type Capabilities struct {
	// MidConversationSystemMessages 为 false 时，system 消息只能出现在对话开头。
	MidConversationSystemMessages bool
	ToolCalls                     bool
}

// Family 是一组共享端点与上下文限制的模型。
type Family struct {
	Name            string
	Prefixes        []string
	BaseURL         string
	APIKey          string
	InputTokenLimit int
	Capabilities    Capabilities
}

// Families 按声明顺序匹配模型前缀。
type Families []Family

// Resolve 返回模型所属的家族；没有匹配项时返回配置错误。
func (fs Families) Resolve(model string) (Family, error) {
	name := strings.ToLower(strings.TrimSpace(model))
	if name == "" {
		return Family{}, xerrors.New(xerrors.CodeConfigInvalid, "模型标识为空")
	}
	for _, family := range fs {
		for _, prefix := range family.Prefixes {
			if strings.HasPrefix(name, prefix) {
				return family, nil
			}
		}
	}
	return Family{}, xerrors.New(xerrors.CodeConfigInvalid, "模型 "+model+" 没有对应的后端",
		xerrors.WithMetadata("model", model))
}

// FamilyCredentials 为默认模型家族提供凭据与端点。
type FamilyCredentials struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
}

const (
	DeepSeekInputTokenLimit = 60000
	OpenAIInputTokenLimit   = 120000
)

// DefaultFamilies 返回内置的 DeepSeek 与 OpenAI 模型家族。
func DefaultFamilies(creds FamilyCredentials) Families {
	deepseekURL := creds.DeepSeekBaseURL
	if deepseekURL == "" {
		deepseekURL = "https://api.deepseek.com"
	}
	openaiURL := creds.OpenAIBaseURL
	if openaiURL == "" {
		openaiURL = "https://api.openai.com/v1"
	}
	return Families{
		{
			Name:            "deepseek",
			Prefixes:        []string{"deepseek"},
			BaseURL:         deepseekURL,
			APIKey:          creds.DeepSeekAPIKey,
			InputTokenLimit: DeepSeekInputTokenLimit,
		},
		{
			Name:            "openai",
			Prefixes:        []string{"gpt-", "chatgpt-", "o1", "o3", "o4", "ft:gpt-"},
			BaseURL:         openaiURL,
			APIKey:          creds.OpenAIAPIKey,
			InputTokenLimit: OpenAIInputTokenLimit,
			Capabilities: Capabilities{
				MidConversationSystemMessages: true,
				ToolCalls:                     true,
			},
		},
	}
}
