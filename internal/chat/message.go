// Package chat models the append-only chat message records produced by agent
// turns and the store they are persisted through.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentHub/internal/errors"
)

// AuthorType 标识消息的作者类别。
type AuthorType string

const (
	AuthorAgent    AuthorType = "agent"
	AuthorTrigger  AuthorType = "trigger"
	AuthorSkill    AuthorType = "skill"
	AuthorTelegram AuthorType = "telegram"
	AuthorTwitter  AuthorType = "twitter"
	AuthorWeb      AuthorType = "web"
	AuthorSystem   AuthorType = "system"
)

// AttachmentType 标识附件类型。
type AttachmentType string

const (
	AttachmentLink  AttachmentType = "link"
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Attachment 是消息附带的资源。
type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
}

// SkillCall 记录一次技能调用的结果。
type SkillCall struct {
	Name         string          `json:"name"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Success      bool            `json:"success"`
	Response     string          `json:"response,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Message 是对话中的一步，写入后不再修改。
type Message struct {
	ID            string       `json:"id"`
	AgentID       string       `json:"agent_id"`
	ChatID        string       `json:"chat_id"`
	AuthorID      string       `json:"author_id"`
	AuthorType    AuthorType   `json:"author_type"`
	Message       string       `json:"message"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	SkillCalls    []SkillCall  `json:"skill_calls,omitempty"`
	InputTokens   int          `json:"input_tokens"`
	OutputTokens  int          `json:"output_tokens"`
	TimeCost      float64      `json:"time_cost"`
	ColdStartCost float64      `json:"cold_start_cost"`
	CreatedAt     time.Time    `json:"created_at"`
}

// NewID 生成按时间有序的消息 ID。
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ImageURLs 返回图片类附件的地址。
func (m *Message) ImageURLs() []string {
	var urls []string
	for _, att := range m.Attachments {
		if att.Type == AttachmentImage && att.URL != "" {
			urls = append(urls, att.URL)
		}
	}
	return urls
}

// String 先列出技能调用，再输出正文。
func (m *Message) String() string {
	var b strings.Builder
	for _, call := range m.SkillCalls {
		if call.Success {
			fmt.Fprintf(&b, "%s %s: %s\n", call.Name, call.Parameters, call.Response)
		} else {
			fmt.Fprintf(&b, "%s %s: %s\n", call.Name, call.Parameters, call.ErrorMessage)
		}
	}
	b.WriteString(m.Message)
	return b.String()
}

// Store 定义消息持久化契约。每次 Save 独立提交。
type Store interface {
	Save(ctx context.Context, msg *Message) error
	ListByChat(ctx context.Context, agentID, chatID string, limit int) ([]*Message, error)
}

// MemoryStore 在内存中保存消息。
type MemoryStore struct {
	mu       sync.RWMutex
	messages []*Message
	now      func() time.Time
}

// NewMemoryStore 创建内存消息存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, msg *Message) error {
	if msg == nil || msg.AgentID == "" || msg.ChatID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "消息缺少 agent_id 或 chat_id")
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	clone := *msg
	s.mu.Lock()
	s.messages = append(s.messages, &clone)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListByChat(_ context.Context, agentID, chatID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, msg := range s.messages {
		if msg.AgentID == agentID && msg.ChatID == chatID {
			clone := *msg
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// All 返回全部消息，便于测试断言写入顺序。
func (s *MemoryStore) All() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Message, len(s.messages))
	for i, msg := range s.messages {
		clone := *msg
		out[i] = &clone
	}
	return out
}
