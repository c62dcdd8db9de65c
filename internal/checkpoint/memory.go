package checkpoint

import (
	"context"
	"slices"
	"sync"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
)

// MemorySaver 在内存中保存检查点历史。
type MemorySaver struct {
	mu      sync.RWMutex
	threads map[string][]*Checkpoint
	writes  map[string][]Write
	owners  map[string]string
}

// NewMemorySaver 创建 MemorySaver。
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{
		threads: make(map[string][]*Checkpoint),
		writes:  make(map[string][]Write),
		owners:  make(map[string]string),
	}
}

func (m *MemorySaver) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.threads[threadID]
	if len(history) == 0 {
		return nil, nil
	}
	return cloneCheckpoint(history[len(history)-1]), nil
}

func (m *MemorySaver) Put(_ context.Context, cp *Checkpoint, writes []Write) error {
	if cp == nil || cp.ThreadID == "" || cp.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "检查点缺少 thread_id 或 id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[cp.ThreadID] = append(m.threads[cp.ThreadID], cloneCheckpoint(cp))
	m.writes[cp.ThreadID] = append(m.writes[cp.ThreadID], writes...)
	if cp.AgentID != "" {
		m.owners[cp.ThreadID] = cp.AgentID
	}
	return nil
}

// Delete 删除范围内的全部检查点与写入，返回删除的线程数。
func (m *MemorySaver) Delete(scope Scope) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for thread := range m.threads {
		if scope.Covers(m.owners[thread], thread) {
			delete(m.threads, thread)
			delete(m.writes, thread)
			delete(m.owners, thread)
			removed++
		}
	}
	return removed
}

// Threads 返回当前保存的线程标识。
func (m *MemorySaver) Threads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.threads))
	for thread := range m.threads {
		out = append(out, thread)
	}
	slices.Sort(out)
	return out
}

// Writes 返回线程的增量写入记录。
func (m *MemorySaver) Writes(threadID string) []Write {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.writes[threadID])
}

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.Messages = slices.Clone(cp.Messages)
	if out.Messages == nil {
		out.Messages = []llm.Message{}
	}
	return &out
}
