package dispatch

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"AgentHub/internal/chat"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/observability/metrics"
	"AgentHub/pkg/logger"
)

// Executor 执行一轮对话并返回已持久化的消息。
type Executor interface {
	Run(ctx context.Context, msg *chat.Message, debug bool) ([]*chat.Message, error)
}

// Processor 从队列消费任务并交给执行器。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("dispatch"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, jobID, err, "claim")
		return err
	}

	msg := &chat.Message{
		AgentID:     job.AgentID,
		ChatID:      job.ChatID,
		AuthorID:    job.UserID,
		AuthorType:  chat.AuthorWeb,
		Message:     job.Message,
		Attachments: job.Attachments,
	}
	results, runErr := p.executor.Run(ctx, msg, job.Debug)

	ids := make([]string, 0, len(results)+1)
	if msg.ID != "" {
		ids = append(ids, msg.ID)
	}
	for _, m := range results {
		ids = append(ids, m.ID)
	}

	// 执行器把步骤内的错误写成 SYSTEM 消息，只有取图失败等情况才会返回 error。
	if runErr != nil {
		if err := p.store.MarkFailed(ctx, job.ID, runErr.Error(), ids); err != nil {
			p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("job_id", job.ID))
			return err
		}
		metrics.IncJob(string(StatusFailed))
		logger.Audit().Warn("任务执行失败",
			slog.String("job_id", job.ID),
			slog.String("agent_id", job.AgentID),
			slog.String("error", runErr.Error()),
			slog.String("error_code", string(xerrors.CodeOf(runErr))),
		)
		if xerrors.ShouldAlert(runErr) {
			p.emitAlert(ctx, job.ID, runErr, "run")
		}
		return nil
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, ids); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		p.emitAlert(ctx, job.ID, err, "mark_succeeded")
		return err
	}
	metrics.IncJob(string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("agent_id", job.AgentID),
		slog.Int("messages", len(results)),
	)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, jobID string, cause error, stage string) {
	if p.alerter == nil || cause == nil {
		return
	}
	event := alerting.FromError(cause, jobID, map[string]string{"stage": stage})
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", jobID),
			slog.String("stage", stage),
		)
	}
}
