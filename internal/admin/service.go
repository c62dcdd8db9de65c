package admin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"AgentHub/internal/agentstore"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/telegram"
	"AgentHub/internal/wallet"
	"AgentHub/pkg/logger"
)

// 通知标题。
const (
	TitleCreated    = "Agent Created"
	TitleUpdated    = "Agent Updated"
	TitleOverridden = "Agent Overridden"
	TitleImported   = "Agent Updated via YAML Import"
)

// WalletProvisioner 为启用钱包技能的 agent 开通钱包。
type WalletProvisioner interface {
	Ensure(ctx context.Context, agent *agentstore.Agent) (*wallet.Handle, error)
	Network(agent *agentstore.Agent) string
}

// BotResolver 查询 telegram 机器人身份。
type BotResolver interface {
	Resolve(ctx context.Context, token string) (telegram.Identity, error)
}

// MemoryCleaner 清理线程记忆与技能数据。
type MemoryCleaner interface {
	Clean(ctx context.Context, agentID, chatID string, cleanAgent, cleanSkills bool) error
}

// GraphInvalidator 丢弃 agent 的已编译图，*agent.Cache 满足该接口。
// 机器人与 X 账号信息写在 agent_data 中，不改变 updated_at，需要显式失效。
type GraphInvalidator interface {
	Invalidate(agentID string)
}

// Config 汇总 Service 的依赖，除 Agents 与 Catalog 外均可为空。
type Config struct {
	Agents   agentstore.Store
	Catalog  agentstore.Catalog
	Wallets  WalletProvisioner
	Bots     BotResolver
	Notifier Notifier
	Cleaner  MemoryCleaner
	Graphs   GraphInvalidator
	// WalletCategory 是触发钱包开通的技能分类名。
	WalletCategory string
}

// Service 是管理接口的业务层。
type Service struct {
	cfg Config
	log *slog.Logger
}

// NewService 创建管理服务。
func NewService(cfg Config) *Service {
	if cfg.WalletCategory == "" {
		cfg.WalletCategory = "wallet"
	}
	return &Service{cfg: cfg, log: logger.Named("admin")}
}

// Result 是写操作的返回值。
type Result struct {
	Agent *agentstore.Agent     `json:"agent"`
	Data  *agentstore.AgentData `json:"data,omitempty"`
	// Created 为 false 表示命中了已有 agent。
	Created bool `json:"-"`
}

// Validate 只做校验不落库。
func (s *Service) Validate(_ context.Context, agent *agentstore.Agent) error {
	return agentstore.Validate(agent, s.cfg.Catalog)
}

// Get 返回 agent。
func (s *Service) Get(ctx context.Context, id string) (*agentstore.Agent, error) {
	return s.cfg.Agents.Get(ctx, id)
}

// List 分页返回 agent。
func (s *Service) List(ctx context.Context, opts agentstore.ListOptions) ([]*agentstore.Agent, error) {
	return s.cfg.Agents.List(ctx, opts)
}

// Upsert 按 id 创建或更新 agent，更新时保留原有 owner。
func (s *Service) Upsert(ctx context.Context, input *agentstore.Agent, owner string) (*Result, error) {
	if err := s.Validate(ctx, input); err != nil {
		return nil, err
	}
	existing, err := s.cfg.Agents.Get(ctx, input.ID)
	switch {
	case agentstore.IsNotFound(err):
		input.Owner = owner
		if err := s.cfg.Agents.Create(ctx, input); err != nil {
			return nil, err
		}
		data, err := s.postActions(ctx, input, nil, TitleCreated)
		return &Result{Agent: input, Data: data, Created: true}, err
	case err != nil:
		return nil, err
	}
	input.Owner = existing.Owner
	if err := s.cfg.Agents.Update(ctx, input); err != nil {
		return nil, err
	}
	data, err := s.postActions(ctx, input, existing, TitleUpdated)
	return &Result{Agent: input, Data: data}, err
}

// Create 创建新 agent。upstream_id 已存在时返回已有 agent 且 Created 为 false。
func (s *Service) Create(ctx context.Context, input *agentstore.Agent, owner string) (*Result, error) {
	if input != nil && input.UpstreamID != "" {
		existing, err := s.cfg.Agents.GetByUpstreamID(ctx, input.UpstreamID)
		if err == nil {
			data, err := s.cfg.Agents.GetData(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			return &Result{Agent: existing, Data: data}, nil
		}
		if !agentstore.IsNotFound(err) {
			return nil, err
		}
	}
	if err := s.Validate(ctx, input); err != nil {
		return nil, err
	}
	input.Owner = owner
	if err := s.cfg.Agents.Create(ctx, input); err != nil {
		return nil, err
	}
	data, err := s.postActions(ctx, input, nil, TitleCreated)
	return &Result{Agent: input, Data: data, Created: true}, err
}

// Patch 把 JSON 片段合并到当前配置上。身份、归属与时间戳字段不可修改。
func (s *Service) Patch(ctx context.Context, id string, patch json.RawMessage) (*Result, error) {
	existing, err := s.cfg.Agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := existing.Clone()
	if err := json.Unmarshal(patch, merged); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析更新内容失败")
	}
	merged.ID = existing.ID
	merged.Number = existing.Number
	merged.Owner = existing.Owner
	merged.CreatedAt = existing.CreatedAt
	merged.UpdatedAt = existing.UpdatedAt
	if err := s.Validate(ctx, merged); err != nil {
		return nil, err
	}
	if err := s.cfg.Agents.Update(ctx, merged); err != nil {
		return nil, err
	}
	data, err := s.postActions(ctx, merged, existing, TitleUpdated)
	return &Result{Agent: merged, Data: data}, err
}

// Override 用 input 完整替换 agent。已有 owner 时调用方必须是同一 owner。
func (s *Service) Override(ctx context.Context, id string, input *agentstore.Agent, owner string) (*Result, error) {
	existing, err := s.cfg.Agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(existing, owner); err != nil {
		return nil, err
	}
	input.ID = existing.ID
	input.Owner = existing.Owner
	if err := s.Validate(ctx, input); err != nil {
		return nil, err
	}
	if err := s.cfg.Agents.Update(ctx, input); err != nil {
		return nil, err
	}
	data, err := s.postActions(ctx, input, existing, TitleOverridden)
	return &Result{Agent: input, Data: data}, err
}

// ExportYAML 导出 agent 配置。
func (s *Service) ExportYAML(ctx context.Context, id string) ([]byte, error) {
	existing, err := s.cfg.Agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return agentstore.ExportYAML(existing, s.cfg.Catalog)
}

// ImportYAML 用 YAML 内容覆盖 agent。
func (s *Service) ImportYAML(ctx context.Context, id string, content []byte, owner string) (*Result, error) {
	existing, err := s.cfg.Agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(existing, owner); err != nil {
		return nil, err
	}
	imported, err := agentstore.ImportYAML(existing, content)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(ctx, imported); err != nil {
		return nil, err
	}
	if err := s.cfg.Agents.Update(ctx, imported); err != nil {
		return nil, err
	}
	data, err := s.postActions(ctx, imported, existing, TitleImported)
	return &Result{Agent: imported, Data: data}, err
}

// UnlinkTwitter 清除 agent 绑定的 X 账号。
func (s *Service) UnlinkTwitter(ctx context.Context, id string) (*agentstore.AgentData, error) {
	if _, err := s.cfg.Agents.Get(ctx, id); err != nil {
		return nil, err
	}
	empty := agentstore.Ptr("")
	data, err := s.cfg.Agents.SetData(ctx, id, agentstore.DataPatch{
		TwitterID:          empty,
		TwitterUsername:    empty,
		TwitterName:        empty,
		TwitterAccessToken: empty,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(id)
	logger.Audit().Info("twitter_unlinked", slog.String("agent_id", id))
	return data, nil
}

// CleanMemoryRequest 描述清理请求。
type CleanMemoryRequest struct {
	AgentID           string `json:"agent_id"`
	ChatID            string `json:"chat_id"`
	CleanAgentMemory  bool   `json:"clean_agent_memory"`
	CleanSkillsMemory bool   `json:"clean_skills_memory"`
}

// CleanMemory 校验 agent 存在后执行清理。
func (s *Service) CleanMemory(ctx context.Context, req CleanMemoryRequest) error {
	if strings.TrimSpace(req.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent_id 不能为空")
	}
	if _, err := s.cfg.Agents.Get(ctx, req.AgentID); err != nil {
		return err
	}
	if s.cfg.Cleaner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "记忆清理未配置")
	}
	return s.cfg.Cleaner.Clean(ctx, req.AgentID, req.ChatID, req.CleanAgentMemory, req.CleanSkillsMemory)
}

// ETag 由 id 与 updated_at 计算，配置变化时必然改变。
func ETag(agent *agentstore.Agent) string {
	sum := sha256.Sum256([]byte(agent.ID + "|" + agent.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func (s *Service) invalidate(agentID string) {
	if s.cfg.Graphs != nil {
		s.cfg.Graphs.Invalidate(agentID)
	}
}

func checkOwner(existing *agentstore.Agent, owner string) error {
	if existing.Owner != "" && existing.Owner != owner {
		return xerrors.New(xerrors.CodePermissionDenied, "无权修改其他用户的 agent",
			xerrors.WithMetadata("agent_id", existing.ID))
	}
	return nil
}
