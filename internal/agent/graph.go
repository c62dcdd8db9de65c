package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"AgentHub/internal/checkpoint"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/skill"
	"AgentHub/pkg/logger"
)

// EventKind 区分图在每一步产生的事件。
type EventKind int

const (
	// EventAgent 携带模型生成的一条消息：工具调用批次或文本。
	EventAgent EventKind = iota + 1
	// EventTools 携带上一批工具调用的结果。
	EventTools
	// EventHousekeeping 是内部维护事件（例如裁剪记忆），消费方忽略即可。
	EventHousekeeping
)

func (k EventKind) String() string {
	switch k {
	case EventAgent:
		return "agent"
	case EventTools:
		return "tools"
	case EventHousekeeping:
		return "housekeeping"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Event 是图的一步输出。
type Event struct {
	Kind     EventKind
	Messages []llm.Message
}

// Graph 是编译后的 agent：模型后端、工具集、系统提示与检查点记忆。
// 构建后不再修改，配置变化时整体重建。
type Graph struct {
	agentID  string
	model    string
	backend  llm.Backend
	tools    map[string]skill.Tool
	specs    []llm.ToolSpec
	leading  []string
	trailing []string
	saver    checkpoint.Saver
	caps     llm.Capabilities

	inputTokenLimit int
	maxSteps        int
	log             *slog.Logger
}

// AgentID 返回图所属的 agent。
func (g *Graph) AgentID() string { return g.agentID }

// ToolNames 按绑定顺序返回工具名。
func (g *Graph) ToolNames() []string {
	names := make([]string, 0, len(g.specs))
	for _, spec := range g.specs {
		names = append(names, spec.Name)
	}
	return names
}

// Tool 返回指定名称的工具。
func (g *Graph) Tool(name string) (skill.Tool, bool) {
	t, ok := g.tools[name]
	return t, ok
}

// SystemMessages 返回渲染前的系统消息模板，按发送顺序排列。
func (g *Graph) SystemMessages() []string {
	return append(slices.Clone(g.leading), g.trailing...)
}

// State 读取线程当前的检查点消息，不做任何修改。
func (g *Graph) State(ctx context.Context, threadID string) ([]llm.Message, error) {
	cp, err := g.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取检查点失败",
			xerrors.WithMetadata("thread_id", threadID))
	}
	if cp == nil {
		return []llm.Message{}, nil
	}
	return cp.Messages, nil
}

// Stream 以 input 开启线程上的一轮对话，返回逐步拉取事件的流。
func (g *Graph) Stream(ctx context.Context, threadID string, input llm.Message) (*Stream, error) {
	cp, err := g.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取检查点失败",
			xerrors.WithMetadata("thread_id", threadID))
	}
	s := &Stream{
		graph:    g,
		ctx:      ctx,
		threadID: threadID,
		log:      g.log.With(slog.String("thread_id", threadID)),
	}
	if cp != nil {
		s.messages = cp.Messages
		s.parentID = cp.ID
		s.step = cp.Step + 1
	}
	input.Role = llm.RoleUser
	s.messages = append(s.messages, input)
	if err := s.checkpoint("input", "__start__", []llm.Message{input}); err != nil {
		return nil, err
	}
	return s, nil
}

type phase int

const (
	phaseAgent phase = iota
	phaseTools
	phaseDone
)

// Stream 是一轮对话的事件流，必须由单个 goroutine 顺序消费。
type Stream struct {
	graph    *Graph
	ctx      context.Context
	threadID string
	log      *slog.Logger

	messages []llm.Message
	parentID string
	step     int
	steps    int
	phase    phase
	pending  []Event
}

// Recv 返回下一个事件，流结束时返回 io.EOF。
func (s *Stream) Recv() (Event, error) {
	for len(s.pending) == 0 {
		switch s.phase {
		case phaseDone:
			return Event{}, io.EOF
		case phaseAgent:
			if err := s.callModel(); err != nil {
				s.phase = phaseDone
				return Event{}, err
			}
		case phaseTools:
			if err := s.runTools(); err != nil {
				s.phase = phaseDone
				return Event{}, err
			}
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *Stream) callModel() error {
	g := s.graph
	if g.maxSteps > 0 && s.steps >= g.maxSteps {
		return xerrors.New(xerrors.CodeExecutorFailure,
			fmt.Sprintf("超过最大步数 %d，模型仍未给出最终回复", g.maxSteps))
	}
	s.steps++

	vars := map[string]string{"agent_id": g.agentID, "thread_id": s.threadID}
	leading, err := renderAll(g.leading, vars)
	if err != nil {
		return err
	}
	trailing, err := renderAll(g.trailing, vars)
	if err != nil {
		return err
	}
	if removed := s.trim(leading, trailing); removed > 0 {
		s.log.Info("对话记忆超出输入预算，已裁剪最早的消息", slog.Int("removed", removed))
		s.pending = append(s.pending, Event{Kind: EventHousekeeping})
	}

	req := llm.Request{
		Messages: append(append(slices.Clone(leading), s.messages...), trailing...),
		Tools:    g.specs,
	}
	reply, err := g.backend.Chat(s.ctx, req)
	if err != nil {
		return err
	}
	if reply == nil {
		return xerrors.New(xerrors.CodeUpstreamFailure, "模型返回了空响应")
	}
	msg := *reply
	msg.Role = llm.RoleAssistant
	s.messages = append(s.messages, msg)
	if err := s.checkpoint("loop", "agent", []llm.Message{msg}); err != nil {
		return err
	}
	s.pending = append(s.pending, Event{Kind: EventAgent, Messages: []llm.Message{msg}})
	if len(msg.ToolCalls) > 0 {
		s.phase = phaseTools
	} else {
		s.phase = phaseDone
	}
	return nil
}

func (s *Stream) runTools() error {
	last := s.messages[len(s.messages)-1]
	ctx := skill.WithRun(s.ctx, skill.Run{
		AgentID:  s.graph.agentID,
		ThreadID: s.threadID,
		ChatID:   chatIDFromThread(s.graph.agentID, s.threadID),
	})
	results := make([]llm.Message, 0, len(last.ToolCalls))
	for _, call := range last.ToolCalls {
		results = append(results, s.invoke(ctx, call))
	}
	s.messages = append(s.messages, results...)
	if err := s.checkpoint("loop", "tools", results); err != nil {
		return err
	}
	s.pending = append(s.pending, Event{Kind: EventTools, Messages: results})
	s.phase = phaseAgent
	return nil
}

func (s *Stream) invoke(ctx context.Context, call llm.ToolCall) llm.Message {
	out := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Name: call.Name, Status: llm.ToolStatusSuccess}
	tool, ok := s.graph.tools[call.Name]
	if !ok {
		out.Status = llm.ToolStatusError
		out.Content = fmt.Sprintf("Error: %s is not a valid tool, try one of [%s].", call.Name, strings.Join(s.graph.ToolNames(), ", "))
		metrics.IncToolCall(call.Name, false)
		return out
	}
	started := time.Now()
	result, err := tool.Invoke(ctx, call.Arguments)
	if err != nil {
		s.log.Warn("工具调用失败",
			slog.String("tool", call.Name),
			slog.Duration("elapsed", time.Since(started)),
			slog.Any("error", err))
		out.Status = llm.ToolStatusError
		out.Content = fmt.Sprintf("Error: %v\n Please fix your mistakes.", err)
		metrics.IncToolCall(call.Name, false)
		return out
	}
	out.Content = result
	metrics.IncToolCall(call.Name, true)
	return out
}

// trim 在估算 token 超出预算时丢弃最早的消息，保证剩余历史以用户消息开头，
// 避免工具结果失去对应的调用。返回丢弃的条数。
func (s *Stream) trim(leading, trailing []llm.Message) int {
	limit := s.graph.inputTokenLimit
	if limit <= 0 {
		return 0
	}
	fixed := llm.EstimateTokens(leading) + llm.EstimateTokens(trailing)
	removed := 0
	for len(s.messages) > 1 && fixed+llm.EstimateTokens(s.messages) > limit {
		s.messages = s.messages[1:]
		removed++
	}
	if removed == 0 {
		return 0
	}
	for len(s.messages) > 1 && s.messages[0].Role != llm.RoleUser {
		s.messages = s.messages[1:]
		removed++
	}
	return removed
}

func (s *Stream) checkpoint(source, channel string, produced []llm.Message) error {
	value, err := json.Marshal(produced)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "序列化检查点写入失败")
	}
	id := uuid.NewString()
	if v7, err := uuid.NewV7(); err == nil {
		id = v7.String()
	}
	cp := &checkpoint.Checkpoint{
		ThreadID:  s.threadID,
		AgentID:   s.graph.agentID,
		ID:        id,
		ParentID:  s.parentID,
		Step:      s.step,
		Source:    source,
		Messages:  slices.Clone(s.messages),
		CreatedAt: time.Now().UTC(),
	}
	writes := []checkpoint.Write{{TaskID: id, Channel: channel, Value: value}}
	if err := s.graph.saver.Put(s.ctx, cp, writes); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存检查点失败",
			xerrors.WithMetadata("thread_id", s.threadID))
	}
	s.parentID = id
	s.step++
	return nil
}

func renderAll(templates []string, vars map[string]string) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(templates))
	for _, tmpl := range templates {
		text, err := RenderTemplate(tmpl, vars)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "系统提示词模板渲染失败")
		}
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: text})
	}
	return out, nil
}

func chatIDFromThread(agentID, threadID string) string {
	return strings.TrimPrefix(threadID, agentID+"-")
}

func newGraphLogger(agentID string) *slog.Logger {
	return logger.Named("agent").With(slog.String("agent_id", agentID))
}
