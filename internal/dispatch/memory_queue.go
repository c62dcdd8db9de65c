package dispatch

import (
	"context"
	"sync"

	xerrors "AgentHub/internal/errors"
)

// MemoryQueue 使用 channel 实现进程内队列，进程退出时未处理的任务会丢失。
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 将任务投递到队列，缓冲区满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- jobID:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的任务，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, jobID)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
