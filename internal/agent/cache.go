package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"AgentHub/internal/agentstore"
	"AgentHub/internal/observability/metrics"
	"AgentHub/pkg/logger"
)

// AgentReader 读取 agent 配置。
type AgentReader interface {
	Get(ctx context.Context, id string) (*agentstore.Agent, error)
}

// GraphBuilder 将配置编译为 Graph。
type GraphBuilder interface {
	Build(ctx context.Context, agent *agentstore.Agent) (*Graph, error)
}

type cacheEntry struct {
	graph     *Graph
	updatedAt time.Time
}

// Cache 按 agent 缓存编译后的图，以 updated_at 判断是否过期。
//
// 默认不加锁构建：同一 agent 的并发请求可能各自重建一次，后写入者覆盖，
// 两个结果等价。WithPerAgentLock 会把同一版本配置的并发重建合并为一次。
type Cache struct {
	agents  AgentReader
	builder GraphBuilder
	perLock bool
	group   singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry

	now func() time.Time
	log *slog.Logger
}

// CacheOption 配置 Cache。
type CacheOption func(*Cache)

// WithPerAgentLock 合并同一 agent 同一版本的并发重建。
func WithPerAgentLock(enabled bool) CacheOption {
	return func(c *Cache) { c.perLock = enabled }
}

// NewCache 创建一个空缓存。
func NewCache(agents AgentReader, builder GraphBuilder, opts ...CacheOption) *Cache {
	c := &Cache{
		agents:  agents,
		builder: builder,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		log:     logger.Named("agent.cache"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetOrBuild 返回可运行的图以及本次重建耗时；未重建时耗时为 0。
// agent 不存在时直接返回错误，不重试。
func (c *Cache) GetOrBuild(ctx context.Context, agentID string) (*Graph, time.Duration, error) {
	start := c.now()
	agent, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return nil, 0, err
	}

	c.mu.RLock()
	entry, ok := c.entries[agentID]
	c.mu.RUnlock()
	if ok && entry.updatedAt.Equal(agent.UpdatedAt) {
		return entry.graph, 0, nil
	}
	if ok {
		c.log.Info("agent 配置已更新，重新初始化", slog.String("agent_id", agentID))
	}

	graph, err := c.build(ctx, agent)
	if err != nil {
		metrics.ObserveBuild(err, 0)
		return nil, 0, err
	}
	cold := c.now().Sub(start)
	if cold <= 0 {
		// 时钟精度不足时仍需让调用方识别出发生过重建。
		cold = time.Nanosecond
	}
	metrics.ObserveBuild(nil, cold)
	return graph, cold, nil
}

func (c *Cache) build(ctx context.Context, agent *agentstore.Agent) (*Graph, error) {
	run := func(ctx context.Context) (*Graph, error) {
		graph, err := c.builder.Build(ctx, agent)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[agent.ID] = cacheEntry{graph: graph, updatedAt: agent.UpdatedAt}
		c.mu.Unlock()
		return graph, nil
	}
	if !c.perLock {
		return run(ctx)
	}
	// 合并后的构建由多个调用方共享，不能随首个调用方取消；各调用方只按自己的 ctx 放弃等待。
	shared := context.WithoutCancel(ctx)
	key := agent.ID + "@" + agent.UpdatedAt.UTC().Format(time.RFC3339Nano)
	ch := c.group.DoChan(key, func() (any, error) { return run(shared) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Graph), nil
	}
}

// Invalidate 丢弃 agent 的缓存，下一次调用会重建。
func (c *Cache) Invalidate(agentID string) {
	c.mu.Lock()
	delete(c.entries, agentID)
	c.mu.Unlock()
}

// Len 返回缓存的 agent 数量。
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
