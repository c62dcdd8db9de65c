package agentstore

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
)

// MemoryStore 以内存方式保存 agent，用于测试与单机部署。
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	data   map[string]*AgentData
	seq    int64
	now    func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]*Agent),
		data:   make(map[string]*AgentData),
		now:    time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, NotFound(id)
	}
	return agent.Clone(), nil
}

func (m *MemoryStore) GetByUpstreamID(_ context.Context, upstreamID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, agent := range m.agents {
		if upstreamID != "" && agent.UpstreamID == upstreamID {
			return agent.Clone(), nil
		}
	}
	return nil, xerrors.New(CodeAgentNotFound, "upstream_id "+upstreamID+" 没有对应的 agent")
}

func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if opts.Owner != "" && agent.Owner != opts.Owner {
			continue
		}
		out = append(out, agent.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*Agent{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; ok {
		return xerrors.New(CodeAgentExists, "agent "+agent.ID+" 已存在")
	}
	m.seq++
	now := m.now().UTC().Truncate(time.Microsecond)
	agent.Number = m.seq
	agent.CreatedAt = now
	agent.UpdatedAt = now
	m.agents[agent.ID] = agent.Clone()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.agents[agent.ID]
	if !ok {
		return NotFound(agent.ID)
	}
	agent.Number = prev.Number
	agent.CreatedAt = prev.CreatedAt
	agent.UpdatedAt = NextUpdatedAt(prev.UpdatedAt, m.now())
	m.agents[agent.ID] = agent.Clone()
	return nil
}

func (m *MemoryStore) GetData(_ context.Context, id string) (*AgentData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[id]
	if !ok {
		return nil, nil
	}
	clone := *data
	return &clone, nil
}

func (m *MemoryStore) SetData(_ context.Context, id string, patch DataPatch) (*AgentData, error) {
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	data, ok := m.data[id]
	if !ok {
		data = &AgentData{ID: id, CreatedAt: now}
		m.data[id] = data
	}
	patch.Apply(data)
	data.UpdatedAt = now
	clone := *data
	return &clone, nil
}
