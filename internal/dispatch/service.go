package dispatch

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgentHub/internal/chat"
	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"
)

// Request 描述一次异步提交的对话轮次。
type Request struct {
	// ID 可选，重复提交同一 ID 时返回已存在的任务。
	ID          string            `json:"id,omitempty"`
	AgentID     string            `json:"agent_id"`
	ChatID      string            `json:"chat_id"`
	UserID      string            `json:"user_id,omitempty"`
	Message     string            `json:"message"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
	Debug       bool              `json:"debug,omitempty"`
}

// Service 负责任务的创建与查询。
type Service struct {
	store    Store
	producer Producer
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer) *Service {
	return &Service{store: store, producer: producer}
}

// Submit 创建一个新的任务并推送到队列。
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if strings.TrimSpace(req.AgentID) == "" || strings.TrimSpace(req.ChatID) == "" {
		return nil, xerrors.New(CodeJobValidation, "agent_id 与 chat_id 不能为空")
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return nil, xerrors.New(CodeJobValidation, "消息内容不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:          jobID,
		AgentID:     req.AgentID,
		ChatID:      req.ChatID,
		UserID:      req.UserID,
		Message:     req.Message,
		Attachments: req.Attachments,
		Debug:       req.Debug,
		Status:      StatusPending,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, wrapped.Error(), nil)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("agent_id", job.AgentID),
		slog.String("chat_id", job.ChatID),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询任务状态直到结束或 ctx 超时。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
