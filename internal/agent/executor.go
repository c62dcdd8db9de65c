package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"AgentHub/internal/chat"
	"AgentHub/internal/checkpoint"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/observability/metrics"
	"AgentHub/pkg/logger"
)

// DefaultResponseLimit 是非调试模式下工具响应保留的字符数。
const DefaultResponseLimit = 100

const ellipsis = "..."

// GraphSource 返回可运行的图及冷启动耗时，由 Cache 实现。
type GraphSource interface {
	GetOrBuild(ctx context.Context, agentID string) (*Graph, time.Duration, error)
}

// Executor 驱动一轮对话并把每一步持久化为聊天消息。
type Executor struct {
	graphs        GraphSource
	messages      chat.Store
	responseLimit int
	now           func() time.Time
	log           *slog.Logger
}

// ExecutorOption 配置 Executor。
type ExecutorOption func(*Executor)

// WithResponseLimit 设置非调试模式下工具响应的截断长度。
func WithResponseLimit(limit int) ExecutorOption {
	return func(e *Executor) {
		if limit > 0 {
			e.responseLimit = limit
		}
	}
}

// WithClock 替换时钟，用于测试。
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExecutor 创建 Executor。
func NewExecutor(graphs GraphSource, messages chat.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		graphs:        graphs,
		messages:      messages,
		responseLimit: DefaultResponseLimit,
		now:           time.Now,
		log:           logger.Named("agent.executor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Run 执行一轮对话，按事件顺序返回已持久化的消息。
//
// 用户消息先落库；获取图失败（agent 不存在、模型不受支持等）时直接返回错误。
// 此后任何一步出错都会写入一条 SYSTEM 消息并返回已有结果，不会向调用方抛出。
func (e *Executor) Run(ctx context.Context, msg *chat.Message, debug bool) ([]*chat.Message, error) {
	if msg == nil || msg.AgentID == "" || msg.ChatID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息缺少 agent_id 或 chat_id")
	}
	if err := e.messages.Save(ctx, msg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存用户消息失败")
	}

	threadID := checkpoint.ThreadID(msg.AgentID, msg.ChatID)
	log := e.log.With(slog.String("thread_id", threadID))
	start := e.now()
	defer func() { metrics.ObserveTurn(e.now().Sub(start)) }()

	graph, cold, err := e.graphs.GetOrBuild(ctx, msg.AgentID)
	if err != nil {
		return nil, err
	}
	t := &turn{
		exec:    e,
		ctx:     ctx,
		source:  msg,
		debug:   debug,
		start:   start,
		last:    start.Add(cold),
		cold:    cold,
		log:     log,
		results: []*chat.Message{},
	}

	stream, err := graph.Stream(ctx, threadID, userInput(msg))
	if err != nil {
		return t.fail(err), nil
	}
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return t.results, nil
		}
		if err != nil {
			return t.fail(err), nil
		}
		if err := t.handle(ev); err != nil {
			return t.fail(err), nil
		}
	}
}

// ThreadMessages 读取线程检查点中的消息，必要时先构建图。
func (e *Executor) ThreadMessages(ctx context.Context, agentID, chatID string) ([]llm.Message, error) {
	threadID := checkpoint.ThreadID(agentID, chatID)
	graph, _, err := e.graphs.GetOrBuild(ctx, agentID)
	if err != nil {
		e.log.Error("读取线程调试信息失败", slog.String("thread_id", threadID), slog.Any("error", err))
		return nil, err
	}
	return graph.State(ctx, threadID)
}

func userInput(msg *chat.Message) llm.Message {
	in := llm.Message{Role: llm.RoleUser, Parts: []llm.ContentPart{{Type: llm.PartText, Text: msg.Message}}}
	for _, url := range msg.ImageURLs() {
		in.Parts = append(in.Parts, llm.ContentPart{Type: llm.PartImageURL, ImageURL: url})
	}
	return in
}

// turn 保存一轮对话的状态：最多一个待配对的工具调用批次。
type turn struct {
	exec   *Executor
	ctx    context.Context
	source *chat.Message
	debug  bool
	log    *slog.Logger

	start time.Time
	last  time.Time
	cold  time.Duration

	held    *llm.Message
	results []*chat.Message
}

func (t *turn) handle(ev Event) error {
	now := t.exec.now()
	switch ev.Kind {
	case EventAgent:
		if len(ev.Messages) != 1 {
			t.log.Error("unexpected agent message", slog.Int("count", len(ev.Messages)))
			if len(ev.Messages) == 0 {
				return nil
			}
		}
		msg := ev.Messages[0]
		switch {
		case len(msg.ToolCalls) > 0:
			held := msg
			t.held = &held
		case msg.Text() != "":
			out := t.newMessage(chat.AuthorAgent, now)
			out.Message = msg.Text()
			out.InputTokens, out.OutputTokens = usage(&msg)
			return t.emit(out)
		default:
			t.log.Error("unexpected agent message", slog.Any("message", msg))
		}
	case EventTools:
		if t.held == nil {
			t.log.Error("unexpected tools message", slog.Int("count", len(ev.Messages)))
			return nil
		}
		calls := make([]chat.SkillCall, 0, len(ev.Messages))
		for _, result := range ev.Messages {
			if result.ToolCallID == "" {
				t.log.Error("unexpected tools message", slog.Any("message", result))
				continue
			}
			if call, ok := t.match(result); ok {
				calls = append(calls, call)
			}
		}
		out := t.newMessage(chat.AuthorSkill, now)
		out.SkillCalls = calls
		out.InputTokens, out.OutputTokens = usage(t.held)
		t.held = nil
		return t.emit(out)
	case EventHousekeeping:
	default:
		t.log.Error("unexpected message type", slog.String("kind", ev.Kind.String()))
	}
	return nil
}

func (t *turn) match(result llm.Message) (chat.SkillCall, bool) {
	for _, call := range t.held.ToolCalls {
		if call.ID != result.ToolCallID {
			continue
		}
		sc := chat.SkillCall{Name: call.Name, Parameters: call.Arguments, Success: true}
		if result.Status == llm.ToolStatusError {
			sc.Success = false
			sc.ErrorMessage = result.Content
		} else if t.debug {
			sc.Response = result.Content
		} else {
			sc.Response = Truncate(result.Content, t.exec.responseLimit)
		}
		return sc, true
	}
	return chat.SkillCall{}, false
}

func (t *turn) newMessage(author chat.AuthorType, now time.Time) *chat.Message {
	cost := now.Sub(t.last)
	if cost < 0 {
		cost = 0
	}
	msg := &chat.Message{
		ID:         chat.NewID(),
		AgentID:    t.source.AgentID,
		ChatID:     t.source.ChatID,
		AuthorID:   t.source.AgentID,
		AuthorType: author,
		TimeCost:   cost.Seconds(),
	}
	t.last = now
	if t.cold > 0 {
		msg.ColdStartCost = t.cold.Seconds()
		t.cold = 0
	}
	return msg
}

func (t *turn) emit(msg *chat.Message) error {
	if err := t.exec.messages.Save(t.ctx, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存消息失败")
	}
	t.results = append(t.results, msg)
	metrics.IncMessage(string(msg.AuthorType))
	return nil
}

// fail 写入 SYSTEM 错误消息并返回已有结果。
func (t *turn) fail(cause error) []*chat.Message {
	t.log.Error("failed to execute agent", slog.Any("error", cause))
	msg := &chat.Message{
		ID:         chat.NewID(),
		AgentID:    t.source.AgentID,
		ChatID:     t.source.ChatID,
		AuthorID:   t.source.AgentID,
		AuthorType: chat.AuthorSystem,
		Message:    fmt.Sprintf("Error in agent:\n  %v", cause),
		TimeCost:   t.exec.now().Sub(t.start).Seconds(),
	}
	if err := t.exec.messages.Save(context.WithoutCancel(t.ctx), msg); err != nil {
		t.log.Error("保存错误消息失败", slog.Any("error", err))
	}
	metrics.IncMessage(string(msg.AuthorType))
	t.results = append(t.results, msg)
	return t.results
}

func usage(msg *llm.Message) (int, int) {
	if msg == nil || msg.Usage == nil {
		return 0, 0
	}
	return msg.Usage.InputTokens, msg.Usage.OutputTokens
}

// Truncate 保留前 limit 个字符并追加省略号，未超出时原样返回。
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + ellipsis
}
