// Package checkpoint stores the thread-scoped conversational memory of agent
// graphs. Each graph step appends a checkpoint holding the full message list
// of the thread; pending writes record the messages a step produced.
package checkpoint

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"AgentHub/internal/llm"
)

// Checkpoint 是线程在某一步之后的完整状态。AgentID 记录线程归属：
// agent id 可含连字符，无法从线程标识 {agent_id}-{chat_id} 反推。
type Checkpoint struct {
	ThreadID  string        `json:"thread_id"`
	AgentID   string        `json:"agent_id"`
	ID        string        `json:"id"`
	ParentID  string        `json:"parent_id,omitempty"`
	Step      int           `json:"step"`
	Source    string        `json:"source"`
	Messages  []llm.Message `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
}

// Write 是某一步写入通道的增量。
type Write struct {
	TaskID  string          `json:"task_id"`
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value"`
}

// Saver 定义检查点存储契约。
type Saver interface {
	// Latest 返回线程最新的检查点，不存在时返回 nil, nil。
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)
	// Put 追加检查点及其增量写入。
	Put(ctx context.Context, cp *Checkpoint, writes []Write) error
}

// ThreadID 由 agent 与 chat 派生线程标识。
func ThreadID(agentID, chatID string) string {
	return agentID + "-" + chatID
}

// Scope 描述一次按线程标识的批量删除范围。ThreadID 为空表示 agent 的全部线程。
type Scope struct {
	AgentID  string
	ThreadID string
}

// NewScope 去除 thread 两端空白后构造范围。
func NewScope(agentID, threadID string) Scope {
	return Scope{AgentID: agentID, ThreadID: strings.TrimSpace(threadID)}
}

// All 判断是否覆盖 agent 的全部线程。
func (s Scope) All() bool { return s.ThreadID == "" }

// Key 返回单线程范围的线程标识，覆盖全部线程时为空。
func (s Scope) Key() string {
	if s.All() {
		return ""
	}
	return ThreadID(s.AgentID, s.ThreadID)
}

// Covers 判断归属于 owner 的线程 threadKey 是否落在范围内。
// 全线程范围按归属 agent 精确匹配，不按线程标识前缀匹配。
func (s Scope) Covers(owner, threadKey string) bool {
	if s.All() {
		return owner == s.AgentID
	}
	return threadKey == s.Key()
}
