package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
)

// SkillStore 实现 skill.Store。
type SkillStore struct {
	db *sql.DB
}

var _ skill.Store = (*SkillStore)(nil)

// NewSkillStore 创建技能数据存储。
func NewSkillStore(db *sql.DB) *SkillStore {
	return &SkillStore{db: db}
}

func (s *SkillStore) get(ctx context.Context, query string, args ...any) (map[string]any, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "查询技能数据失败")
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析技能数据失败")
	}
	return data, nil
}

func (s *SkillStore) GetAgentSkillData(ctx context.Context, agentID, skillName, key string) (map[string]any, error) {
	return s.get(ctx, `SELECT data FROM agent_skill_data WHERE agent_id = ? AND skill = ? AND data_key = ?`,
		agentID, skillName, key)
}

func (s *SkillStore) SaveAgentSkillData(ctx context.Context, agentID, skillName, key string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能数据失败")
	}
	ts := now()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO agent_skill_data (agent_id, skill, data_key, data, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)`,
		agentID, skillName, key, raw, ts, ts); err != nil {
		return storageErr(err, "写入技能数据失败")
	}
	return nil
}

func (s *SkillStore) CleanAgentSkillData(ctx context.Context, agentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_skill_data WHERE agent_id = ?`, agentID); err != nil {
		return storageErr(err, "删除技能数据失败")
	}
	return nil
}

func (s *SkillStore) GetThreadSkillData(ctx context.Context, threadID, skillName, key string) (map[string]any, error) {
	return s.get(ctx, `SELECT data FROM thread_skill_data WHERE thread_id = ? AND skill = ? AND data_key = ?`,
		threadID, skillName, key)
}

func (s *SkillStore) SaveThreadSkillData(ctx context.Context, agentID, threadID, skillName, key string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能数据失败")
	}
	ts := now()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO thread_skill_data (thread_id, skill, data_key, agent_id, data, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE agent_id = VALUES(agent_id), data = VALUES(data), updated_at = VALUES(updated_at)`,
		threadID, skillName, key, agentID, raw, ts, ts); err != nil {
		return storageErr(err, "写入线程技能数据失败")
	}
	return nil
}

func (s *SkillStore) CleanThreadSkillData(ctx context.Context, agentID, threadID string) error {
	return cleanThreadSkillData(ctx, s.db, agentID, threadID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func cleanThreadSkillData(ctx context.Context, db execer, agentID, threadID string) error {
	query := `DELETE FROM thread_skill_data WHERE agent_id = ?`
	args := []any{agentID}
	if threadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, threadID)
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return storageErr(err, "删除线程技能数据失败")
	}
	return nil
}
