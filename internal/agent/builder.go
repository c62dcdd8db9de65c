package agent

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"AgentHub/internal/agentstore"
	"AgentHub/internal/checkpoint"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/llm"
	"AgentHub/internal/skill"
	"AgentHub/internal/wallet"
	"AgentHub/pkg/logger"
)

const (
	CodeModelUnsupported xerrors.Code = "MODEL_UNSUPPORTED"
	CodeBuildFailure     xerrors.Code = "AGENT_BUILD_FAILURE"
)

func init() {
	xerrors.Register(CodeModelUnsupported, xerrors.Attributes{
		Message: "model is not served by any backend", Severity: xerrors.SeverityWarning, Status: http.StatusBadRequest,
	})
	xerrors.Register(CodeBuildFailure, xerrors.Attributes{
		Message: "agent build failed", Severity: xerrors.SeverityCritical, Alert: true, Status: http.StatusBadGateway,
	})
}

const twitterCategory = "twitter"

// DataReader 读取 agent 的可变状态。
type DataReader interface {
	GetData(ctx context.Context, id string) (*agentstore.AgentData, error)
}

// WalletProvisioner 为 agent 复用或开通钱包。
type WalletProvisioner interface {
	Ensure(ctx context.Context, agent *agentstore.Agent) (*wallet.Handle, error)
}

// BuilderConfig 汇总构建 agent 图的依赖。
type BuilderConfig struct {
	Data       DataReader
	Families   llm.Families
	NewBackend llm.BackendFactory
	Registry   *skill.Registry
	Wallets    WalletProvisioner
	SkillStore skill.Store
	Saver      checkpoint.Saver

	SystemPrompt string
	Timeout      time.Duration
	MaxSteps     int
	// PrivateSkills 为 true 时 private 状态的技能同样可见。
	PrivateSkills bool
}

// Builder 将 agent 配置编译为可运行的 Graph。
type Builder struct {
	cfg BuilderConfig
	log *slog.Logger
}

// NewBuilder 创建 Builder。
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{cfg: cfg, log: logger.Named("agent.builder")}
}

// Build 编译 agent。模型无对应后端时失败；单个技能或非必需分类的失败只记录日志并跳过。
func (b *Builder) Build(ctx context.Context, agent *agentstore.Agent) (*Graph, error) {
	log := b.log.With(slog.String("agent_id", agent.ID))

	family, err := b.cfg.Families.Resolve(agent.Model)
	if err != nil {
		return nil, xerrors.Wrap(CodeModelUnsupported, err, "模型 "+agent.Model+" 不受支持",
			xerrors.WithMetadata("agent_id", agent.ID))
	}
	backend, err := b.cfg.NewBackend(llm.BackendConfig{
		Family:  family.Name,
		Model:   agent.Model,
		APIKey:  family.APIKey,
		BaseURL: family.BaseURL,
		Sampling: llm.Sampling{
			Temperature:      agent.Temperature,
			FrequencyPenalty: agent.FrequencyPenalty,
			PresencePenalty:  agent.PresencePenalty,
		},
		Timeout: b.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	data, err := b.cfg.Data.GetData(ctx, agent.ID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 agent 状态失败")
	}

	tools, enabled, err := b.assemble(ctx, log, agent, data)
	if err != nil {
		return nil, err
	}
	tools = Dedupe(tools)
	for _, t := range tools {
		log.Info("已加载工具", slog.String("tool", t.Name()))
	}

	leading := []string{ComposePrompt(PromptInput{SystemPrompt: b.cfg.SystemPrompt, Agent: agent, Enabled: enabled})}
	var trailing []string
	var extras []string
	if enabled[twitterCategory] {
		extras = append(extras, EscapeTemplate(TwitterSection(data)))
	}
	if agent.PromptAppend != "" {
		extras = append(extras, EscapeTemplate(agent.PromptAppend))
	}
	for _, extra := range extras {
		// 只接受开头 system 消息的后端把附加段落依次插到最前面。
		if family.Capabilities.MidConversationSystemMessages {
			trailing = append(trailing, extra)
		} else {
			leading = append([]string{extra}, leading...)
		}
	}

	if !family.Capabilities.ToolCalls {
		tools = nil
	}

	g := &Graph{
		agentID:         agent.ID,
		model:           agent.Model,
		backend:         backend,
		tools:           make(map[string]skill.Tool, len(tools)),
		leading:         leading,
		trailing:        trailing,
		saver:           b.cfg.Saver,
		caps:            family.Capabilities,
		inputTokenLimit: family.InputTokenLimit,
		maxSteps:        b.cfg.MaxSteps,
		log:             newGraphLogger(agent.ID),
	}
	for _, t := range tools {
		g.tools[t.Name()] = t
		g.specs = append(g.specs, llm.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
	}
	return g, nil
}

// assemble 按注册表声明顺序装配已启用分类的工具。
func (b *Builder) assemble(ctx context.Context, log *slog.Logger, agent *agentstore.Agent, data *agentstore.AgentData) ([]skill.Tool, map[string]bool, error) {
	enabled := make(map[string]bool)
	var tools []skill.Tool
	if b.cfg.Registry == nil {
		return nil, enabled, nil
	}
	for _, name := range b.cfg.Registry.Order() {
		cfg, ok := agent.Category(name)
		if !ok || !cfg.Enabled {
			continue
		}
		category, _ := b.cfg.Registry.Category(name)
		enabled[name] = true
		env := skill.Env{AgentID: agent.ID, Agent: agent, Data: data, Config: cfg, Store: b.cfg.SkillStore}

		if category.RequiresWallet {
			handle, err := b.ensureWallet(ctx, agent)
			if err != nil {
				if category.Required {
					return nil, nil, xerrors.Wrap(CodeBuildFailure, err, "必需的钱包分类 "+name+" 装配失败")
				}
				log.Error("钱包开通失败，跳过依赖钱包的技能",
					slog.String("category", name), slog.Any("error", err))
				continue
			}
			env.Wallet = handle
		}

		got, err := b.cfg.Registry.Tools(name, env, b.cfg.PrivateSkills)
		if err != nil {
			if category.Required {
				return nil, nil, xerrors.Wrap(CodeBuildFailure, err, "必需的技能分类 "+name+" 装配失败")
			}
			log.Warn("技能分类装配失败，已跳过", slog.String("category", name), slog.Any("error", err))
			continue
		}
		tools = append(tools, got...)
	}
	return tools, enabled, nil
}

func (b *Builder) ensureWallet(ctx context.Context, agent *agentstore.Agent) (*wallet.Handle, error) {
	if b.cfg.Wallets == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置钱包服务")
	}
	return b.cfg.Wallets.Ensure(ctx, agent)
}

// Dedupe 按工具名去重，后出现的同名工具覆盖先出现的，位置保持首次出现处。
func Dedupe(tools []skill.Tool) []skill.Tool {
	index := make(map[string]int, len(tools))
	out := make([]skill.Tool, 0, len(tools))
	for _, t := range tools {
		if i, ok := index[t.Name()]; ok {
			out[i] = t
			continue
		}
		index[t.Name()] = len(out)
		out = append(out, t)
	}
	return out
}
