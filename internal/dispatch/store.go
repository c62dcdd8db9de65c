package dispatch

import "context"

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将待处理任务置为运行中；任务已在运行或已结束时返回 ErrJobConflict。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, messageIDs []string) error
	MarkFailed(ctx context.Context, id string, lastError string, messageIDs []string) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Close() error
}
