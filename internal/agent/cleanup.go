package agent

import (
	"context"
	"log/slog"
	"sync"

	"AgentHub/internal/checkpoint"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
	"AgentHub/pkg/logger"
)

// PurgeRequest 描述一次记忆清理。Scope.ThreadID 为 chat 标识，为空表示全部线程。
type PurgeRequest struct {
	Scope  checkpoint.Scope
	Skills bool
	Memory bool
}

// Purger 在单个事务内执行清理，要么全部生效，要么全部回滚。
type Purger interface {
	Purge(ctx context.Context, req PurgeRequest) error
}

// Cleaner 校验清理请求并交给 Purger 执行。内存中的图不会失效。
type Cleaner struct {
	purger Purger
	log    *slog.Logger
}

// NewCleaner 创建 Cleaner。
func NewCleaner(purger Purger) *Cleaner {
	return &Cleaner{purger: purger, log: logger.Named("agent.cleanup")}
}

// Clean 清理 agent 的检查点记忆和/或技能数据。
func (c *Cleaner) Clean(ctx context.Context, agentID, chatID string, cleanAgent, cleanSkills bool) error {
	if !cleanAgent && !cleanSkills {
		return xerrors.New(xerrors.CodeInvalidArgument, "at least one of skills data or agent memory should be true.")
	}
	if agentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent_id 不能为空")
	}
	req := PurgeRequest{Scope: checkpoint.NewScope(agentID, chatID), Skills: cleanSkills, Memory: cleanAgent}
	if err := c.purger.Purge(ctx, req); err != nil {
		c.log.Error("failed to cleanup the agent memory",
			slog.String("agent_id", agentID), slog.String("chat_id", chatID), slog.Any("error", err))
		if _, ok := xerrors.From(err); ok {
			return err
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理 agent 记忆失败")
	}
	logger.Audit().Info("agent_memory_cleaned",
		slog.String("agent_id", agentID),
		slog.String("thread_id", req.Scope.Key()),
		slog.Bool("memory", cleanAgent),
		slog.Bool("skills", cleanSkills))
	return nil
}

// LocalPurger 用于内存存储，通过互斥锁保证清理过程不与其他清理交错。
type LocalPurger struct {
	mu     sync.Mutex
	skills skill.Store
	saver  *checkpoint.MemorySaver
}

// NewLocalPurger 创建 LocalPurger。
func NewLocalPurger(skills skill.Store, saver *checkpoint.MemorySaver) *LocalPurger {
	return &LocalPurger{skills: skills, saver: saver}
}

func (p *LocalPurger) Purge(ctx context.Context, req PurgeRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Skills && p.skills != nil {
		if err := p.skills.CleanAgentSkillData(ctx, req.Scope.AgentID); err != nil {
			return err
		}
		thread := ""
		if !req.Scope.All() {
			thread = checkpoint.ThreadID(req.Scope.AgentID, req.Scope.ThreadID)
		}
		if err := p.skills.CleanThreadSkillData(ctx, req.Scope.AgentID, thread); err != nil {
			return err
		}
	}
	if req.Memory && p.saver != nil {
		p.saver.Delete(req.Scope)
	}
	return nil
}
