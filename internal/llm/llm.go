package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Role 表示消息作者在对话中的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType 区分多模态消息片段。
type ContentPartType string

const (
	PartText     ContentPartType = "text"
	PartImageURL ContentPartType = "image_url"
)

// ContentPart 是用户消息中的一个片段。
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// ToolCall 是模型发起的一次工具调用请求。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Usage 记录一次模型调用的 token 消耗。
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolStatus 描述工具消息的执行结果。
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// Message 是对话中的一条消息，同时用于请求与检查点存储。
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Status     ToolStatus    `json:"status,omitempty"`
	Usage      *Usage        `json:"usage,omitempty"`
}

// Text 返回消息的纯文本内容，多模态消息只拼接文本片段。
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, part := range m.Parts {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// ToolSpec 描述一个可供模型调用的工具。
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Request 是一次模型调用的输入。
type Request struct {
	Messages []Message
	Tools    []ToolSpec
}

// Backend 抽象了一个可调用的大模型后端。
type Backend interface {
	Chat(ctx context.Context, req Request) (*Message, error)
}

// BackendFunc 允许用函数实现 Backend，主要用于测试。
type BackendFunc func(ctx context.Context, req Request) (*Message, error)

func (f BackendFunc) Chat(ctx context.Context, req Request) (*Message, error) {
	return f(ctx, req)
}

// Sampling 为模型采样参数。
type Sampling struct {
	Temperature      float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

// BackendConfig 描述构造后端所需的全部信息。
type BackendConfig struct {
	Family   string
	Model    string
	APIKey   string
	BaseURL  string
	Sampling Sampling
	Timeout  time.Duration
}

// BackendFactory 根据配置构造后端。
type BackendFactory func(cfg BackendConfig) (Backend, error)

// EstimateTokens 粗略估算消息列表的 token 数，按 4 个字符一个 token 计算。
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		chars := len(msg.Content)
		for _, part := range msg.Parts {
			chars += len(part.Text) + len(part.ImageURL)
		}
		for _, call := range msg.ToolCalls {
			chars += len(call.Name) + len(call.Arguments)
		}
		total += chars/4 + 4
	}
	return total
}
