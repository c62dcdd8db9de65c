package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列。
type RedisQueue struct {
	client redis.UniversalClient
	queue  string
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, cfg.Queue, cfg.BlockWait), nil
}

func newRedisQueue(client redis.UniversalClient, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = "agenthub:turns"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, log: logger.Named("dispatch.redis")}
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.queue, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取任务。处理失败的任务不会重新入队。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				if err := handler(ctx, values[1]); err != nil {
					q.log.Warn("任务处理失败", slog.String("job_id", values[1]), slog.Any("error", err))
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
