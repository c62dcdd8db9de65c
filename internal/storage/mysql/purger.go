package mysql

import (
	"context"
	"database/sql"
	"log/slog"

	"AgentHub/internal/agent"
	"AgentHub/internal/skill"
	"AgentHub/pkg/logger"
)

// Purger 在单个事务内清理技能数据与检查点记忆。
// 技能数据存放在 MySQL 之外时（如 Redis），由外部存储在事务提交后单独清理，
// 这部分不在事务内：提交成功而外部清理失败时返回错误，检查点删除不会回滚。
type Purger struct {
	db     *sql.DB
	skills skill.Store
	log    *slog.Logger
}

var _ agent.Purger = (*Purger)(nil)

// PurgerOption 自定义 Purger。
type PurgerOption func(*Purger)

// WithSkillStore 指定技能数据所在的存储。MySQL 实现（或 nil）仍在事务内清理。
func WithSkillStore(store skill.Store) PurgerOption {
	return func(p *Purger) {
		if _, ok := store.(*SkillStore); ok {
			return
		}
		p.skills = store
	}
}

// NewPurger 创建 Purger。
func NewPurger(db *sql.DB, opts ...PurgerOption) *Purger {
	p := &Purger{db: db, log: logger.Named("storage.mysql")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Purge 执行清理，任一语句失败时整体回滚。
func (p *Purger) Purge(ctx context.Context, req agent.PurgeRequest) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "开启清理事务失败")
	}
	defer tx.Rollback()

	scope := req.Scope
	if req.Skills && p.skills == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM agent_skill_data WHERE agent_id = ?`, scope.AgentID); err != nil {
			return storageErr(err, "删除技能数据失败")
		}
		if err := cleanThreadSkillData(ctx, tx, scope.AgentID, scope.Key()); err != nil {
			return err
		}
	}
	if req.Memory {
		column, value := "agent_id", scope.AgentID
		if !scope.All() {
			column, value = "thread_id", scope.Key()
		}
		for _, table := range []string{"checkpoints", "checkpoint_writes", "checkpoint_blobs"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+column+` = ?`, value); err != nil {
				return storageErr(err, "删除 "+table+" 失败")
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err, "提交清理事务失败")
	}

	if req.Skills && p.skills != nil {
		if err := p.skills.CleanAgentSkillData(ctx, scope.AgentID); err != nil {
			p.log.Error("清理外部技能数据失败", slog.String("agent_id", scope.AgentID), slog.Any("error", err))
			return err
		}
		if err := p.skills.CleanThreadSkillData(ctx, scope.AgentID, scope.Key()); err != nil {
			p.log.Error("清理外部线程技能数据失败", slog.String("agent_id", scope.AgentID), slog.Any("error", err))
			return err
		}
	}
	return nil
}
