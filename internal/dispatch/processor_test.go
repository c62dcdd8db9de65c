package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AgentHub/internal/chat"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
}

func (f *fakeExecutor) Run(ctx context.Context, msg *chat.Message, _ bool) ([]*chat.Message, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	msg.ID = "user-" + msg.ChatID
	f.processed.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []*chat.Message{
		{ID: "reply-" + msg.ChatID, AgentID: msg.AgentID, ChatID: msg.ChatID, AuthorType: chat.AuthorAgent, Message: "ok"},
	}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, ev alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func startProcessor(t *testing.T, ctx context.Context, p *Processor) {
	t.Helper()
	go func() {
		if err := p.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	exec := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue)
	startProcessor(t, ctx, NewProcessor(exec, store, queue, WithWorkerCount(8)))

	total := 100
	for i := 0; i < total; i++ {
		req := Request{AgentID: "alpha", ChatID: fmt.Sprintf("chat-%d", i), Message: "hi"}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(exec.processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", exec.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorRecordsMessageIDs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue)
	startProcessor(t, ctx, NewProcessor(&fakeExecutor{}, store, queue))

	job, err := service.Submit(ctx, Request{ID: "job-1", AgentID: "alpha", ChatID: "c1", UserID: "u1", Message: "hello"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", done.Status)
	}
	if len(done.MessageIDs) != 2 || done.MessageIDs[0] != "user-c1" || done.MessageIDs[1] != "reply-c1" {
		t.Fatalf("unexpected message ids %v", done.MessageIDs)
	}

	again, err := service.Submit(ctx, Request{ID: "job-1", AgentID: "alpha", ChatID: "c1", Message: "hello"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Status != StatusSucceeded {
		t.Fatalf("resubmit should return existing job, got %s", again.Status)
	}
}

func TestProcessorMarksFailureAndAlerts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	alerts := &recordingDispatcher{}
	exec := &fakeExecutor{err: xerrors.New(xerrors.CodeExecutorFailure, "model exploded")}
	service := NewService(store, queue)
	startProcessor(t, ctx, NewProcessor(exec, store, queue, WithAlertDispatcher(alerts)))

	job, err := service.Submit(ctx, Request{AgentID: "alpha", ChatID: "c9", Message: "hello"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.LastError == "" {
		t.Fatalf("expected failed job with error, got %+v", done)
	}
	if len(done.MessageIDs) != 1 || done.MessageIDs[0] != "user-c9" {
		t.Fatalf("user message id should be recorded, got %v", done.MessageIDs)
	}
	if alerts.count() != 1 {
		t.Fatalf("expected one alert, got %d", alerts.count())
	}
	if exec.processed.Load() != 1 {
		t.Fatalf("failed job must not be retried, ran %d times", exec.processed.Load())
	}
}

func TestSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(1))
	_, err := service.Submit(context.Background(), Request{ChatID: "c", Message: "x"})
	if xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = service.Submit(context.Background(), Request{AgentID: "a", ChatID: "c"})
	if xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("empty message should be rejected, got %v", err)
	}
}

func TestSubmitPublishFailureMarksJobFailed(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(1)
	queue.Close()
	service := NewService(store, queue)

	_, err := service.Submit(context.Background(), Request{ID: "j", AgentID: "a", ChatID: "c", Message: "x"})
	if xerrors.CodeOf(err) != CodeJobPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	job, err := store.Get(context.Background(), "j")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", job.Status)
	}
}
