package agentstore

import (
	"context"
	"net/http"

	xerrors "AgentHub/internal/errors"
)

const (
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
	CodeAgentExists   xerrors.Code = "AGENT_EXISTS"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "agent not found",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusNotFound,
	})
	xerrors.Register(CodeAgentExists, xerrors.Attributes{
		Message:  "agent already exists",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusConflict,
	})
}

// NotFound 构造 agent 不存在的错误。
func NotFound(id string) error {
	return xerrors.New(CodeAgentNotFound, "agent "+id+" 不存在", xerrors.WithMetadata("agent_id", id))
}

// IsNotFound 判断错误是否为 agent 不存在。
func IsNotFound(err error) bool {
	return xerrors.HasCode(err, CodeAgentNotFound)
}

// ListOptions 控制 List 的过滤与分页。
type ListOptions struct {
	Owner  string
	Limit  int
	Offset int
}

// Store 定义 agent 配置与状态的持久化契约。
type Store interface {
	// Get 返回 agent 配置，不存在时返回 AGENT_NOT_FOUND。
	Get(ctx context.Context, id string) (*Agent, error)
	GetByUpstreamID(ctx context.Context, upstreamID string) (*Agent, error)
	List(ctx context.Context, opts ListOptions) ([]*Agent, error)
	// Create 分配 number 与时间戳，id 已存在时返回 AGENT_EXISTS。
	Create(ctx context.Context, agent *Agent) error
	// Update 覆盖已有配置并推进 UpdatedAt。
	Update(ctx context.Context, agent *Agent) error
	// GetData 返回 agent 状态，不存在时返回 nil, nil。
	GetData(ctx context.Context, id string) (*AgentData, error)
	// SetData 合并补丁并持久化，首次调用时创建记录。
	SetData(ctx context.Context, id string, patch DataPatch) (*AgentData, error)
}
