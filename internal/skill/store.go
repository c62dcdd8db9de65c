package skill

import (
	"context"
	"maps"
	"sync"
)

// Store 定义技能数据的持久化契约。Get 在数据不存在时返回 nil, nil。
type Store interface {
	GetAgentSkillData(ctx context.Context, agentID, skill, key string) (map[string]any, error)
	SaveAgentSkillData(ctx context.Context, agentID, skill, key string, data map[string]any) error
	CleanAgentSkillData(ctx context.Context, agentID string) error

	GetThreadSkillData(ctx context.Context, threadID, skill, key string) (map[string]any, error)
	SaveThreadSkillData(ctx context.Context, agentID, threadID, skill, key string, data map[string]any) error
	// CleanThreadSkillData 删除 agent 在指定线程上的数据，threadID 为空时删除全部线程。
	CleanThreadSkillData(ctx context.Context, agentID, threadID string) error
}

type agentKey struct{ agent, skill, key string }

type threadKey struct{ thread, skill, key string }

type threadEntry struct {
	agentID string
	data    map[string]any
}

// MemoryStore 在内存中保存技能数据。
type MemoryStore struct {
	mu      sync.RWMutex
	agents  map[agentKey]map[string]any
	threads map[threadKey]threadEntry
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[agentKey]map[string]any),
		threads: make(map[threadKey]threadEntry),
	}
}

func (m *MemoryStore) GetAgentSkillData(_ context.Context, agentID, skill, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.agents[agentKey{agentID, skill, key}]
	if !ok {
		return nil, nil
	}
	return maps.Clone(data), nil
}

func (m *MemoryStore) SaveAgentSkillData(_ context.Context, agentID, skill, key string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agentKey{agentID, skill, key}] = maps.Clone(data)
	return nil
}

func (m *MemoryStore) CleanAgentSkillData(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.agents {
		if k.agent == agentID {
			delete(m.agents, k)
		}
	}
	return nil
}

func (m *MemoryStore) GetThreadSkillData(_ context.Context, threadID, skill, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.threads[threadKey{threadID, skill, key}]
	if !ok {
		return nil, nil
	}
	return maps.Clone(entry.data), nil
}

func (m *MemoryStore) SaveThreadSkillData(_ context.Context, agentID, threadID, skill, key string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadKey{threadID, skill, key}] = threadEntry{agentID: agentID, data: maps.Clone(data)}
	return nil
}

func (m *MemoryStore) CleanThreadSkillData(_ context.Context, agentID, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, entry := range m.threads {
		if entry.agentID != agentID {
			continue
		}
		if threadID == "" || k.thread == threadID {
			delete(m.threads, k)
		}
	}
	return nil
}
