package dispatch

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，用于单进程部署与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := m.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != StatusPending {
		return cloneJob(job), ErrJobConflict
	}
	job.Status = StatusRunning
	job.UpdatedAt = m.now().UTC()
	return cloneJob(job), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, messageIDs []string) error {
	return m.finish(id, StatusSucceeded, "", messageIDs)
}

// MarkFailed 标记任务失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, lastError string, messageIDs []string) error {
	return m.finish(id, StatusFailed, lastError, messageIDs)
}

func (m *MemoryStore) finish(id string, status Status, lastError string, messageIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.LastError = lastError
	job.MessageIDs = slices.Clone(messageIDs)
	job.UpdatedAt = m.now().UTC()
	return nil
}

// List 返回符合条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if matchesListFilters(job, opts) {
			results = append(results, cloneJob(job))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			if opts.Order == SortByUpdatedAsc {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	if opts.Offset >= len(results) {
		return []*Job{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(job *Job, opts ListOptions) bool {
	if opts.AgentID != "" && job.AgentID != opts.AgentID {
		return false
	}
	if opts.ChatID != "" && job.ChatID != opts.ChatID {
		return false
	}
	if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, job.Status) {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
