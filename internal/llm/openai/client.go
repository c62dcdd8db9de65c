// Package openai implements llm.Backend on top of the OpenAI-compatible chat
// completions streaming API. DeepSeek is served by the same client with a
// different base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

const defaultTimeout = 180 * time.Second

// Client 通过 go-openai 的流式接口调用模型。
type Client struct {
	api      *openai.Client
	model    string
	sampling llm.Sampling
}

// NewClient 根据后端配置创建客户端。
func NewClient(cfg llm.BackendConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "未提供模型 API Key",
			xerrors.WithMetadata("family", cfg.Family))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "模型标识为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	conf := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		conf.BaseURL = base
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{api: openai.NewClientWithConfig(conf), model: model, sampling: cfg.Sampling}, nil
}

// Factory 满足 llm.BackendFactory。
func Factory(cfg llm.BackendConfig) (llm.Backend, error) {
	return NewClient(cfg)
}

// Chat 发送一次流式请求，并把增量聚合为完整的 assistant 消息。
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Message, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(req))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "调用模型失败",
			xerrors.WithMetadata("model", c.model))
	}
	defer stream.Close()

	var (
		content strings.Builder
		calls   = make(map[int]*llm.ToolCall)
		args    = make(map[int]*strings.Builder)
		usage   *llm.Usage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "读取模型流失败",
				xerrors.WithMetadata("model", c.model))
		}
		if chunk.Usage != nil {
			usage = &llm.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		content.WriteString(delta.Content)
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := calls[index]
			if !ok {
				call = &llm.ToolCall{}
				calls[index] = call
				args[index] = &strings.Builder{}
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			args[index].WriteString(tc.Function.Arguments)
		}
	}

	msg := &llm.Message{Role: llm.RoleAssistant, Content: content.String(), Usage: usage}
	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		call := calls[index]
		if call.Name == "" {
			continue
		}
		raw := strings.TrimSpace(args[index].String())
		if raw == "" {
			raw = "{}"
		}
		call.Arguments = json.RawMessage(raw)
		msg.ToolCalls = append(msg.ToolCalls, *call)
	}
	return msg, nil
}

func (c *Client) buildRequest(req llm.Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:         c.model,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		Messages:      make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	// 推理模型只接受默认采样参数。
	if !isReasoningModel(c.model) {
		out.Temperature = c.sampling.Temperature
		out.FrequencyPenalty = c.sampling.FrequencyPenalty
		out.PresencePenalty = c.sampling.PresencePenalty
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, convertMessage(msg))
	}
	for _, tool := range req.Tools {
		var params any
		if len(tool.Parameters) > 0 {
			params = tool.Parameters
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: string(msg.Role), Name: msg.Name}
	switch msg.Role {
	case llm.RoleTool:
		out.Content = msg.Content
		out.ToolCallID = msg.ToolCallID
		out.Name = ""
	case llm.RoleAssistant:
		out.Content = msg.Content
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
	default:
		if len(msg.Parts) == 0 {
			out.Content = msg.Content
			break
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case llm.PartImageURL:
				out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL},
				})
			default:
				out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		}
	}
	return out
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}
