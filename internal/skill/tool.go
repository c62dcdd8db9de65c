package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	xerrors "AgentHub/internal/errors"
)

// Tool 是可以绑定到 agent 图中的能力单元。
type Tool interface {
	Name() string
	Description() string
	// Schema 返回参数的 JSON Schema。
	Schema() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

type funcTool[T any] struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args T) (string, error)
}

// NewTool 基于参数类型 T 构造工具，参数 schema 由 T 反射生成。
func NewTool[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) Tool {
	return &funcTool[T]{name: name, description: description, schema: SchemaFor[T](), fn: fn}
}

func (t *funcTool[T]) Name() string            { return t.name }
func (t *funcTool[T]) Description() string     { return t.description }
func (t *funcTool[T]) Schema() json.RawMessage { return t.schema }

func (t *funcTool[T]) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	var args T
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "工具 "+t.name+" 参数解析失败")
		}
	}
	return t.fn(ctx, args)
}

// NoArgs 用于无参数的工具。
type NoArgs struct{}

var schemaCache sync.Map

// SchemaFor 反射生成 T 的 JSON Schema，结果按类型缓存。
func SchemaFor[T any]() json.RawMessage {
	var zero T
	key := fmt.Sprintf("%T", zero)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(json.RawMessage)
	}
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(&zero)
	schema.Version = ""
	schema.ID = ""
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	schemaCache.Store(key, json.RawMessage(raw))
	return raw
}

// JSON 将结果序列化为工具输出。
func JSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化工具结果失败")
	}
	return string(raw), nil
}

// Run 描述当前工具调用所在的 agent 与线程。
type Run struct {
	AgentID  string
	ChatID   string
	ThreadID string
}

type runKey struct{}

// WithRun 将运行信息放入 context。
func WithRun(ctx context.Context, run Run) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

// RunFrom 读取运行信息。
func RunFrom(ctx context.Context) (Run, bool) {
	run, ok := ctx.Value(runKey{}).(Run)
	return run, ok
}
