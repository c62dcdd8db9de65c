package mysql

import (
	"context"
	"database/sql"
	"encoding/json"

	"AgentHub/internal/chat"
	xerrors "AgentHub/internal/errors"
)

// MessageStore 实现 chat.Store，每条消息独立提交。
type MessageStore struct {
	db *sql.DB
}

var _ chat.Store = (*MessageStore)(nil)

// NewMessageStore 创建消息存储。
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Save 写入一条消息，缺省的 ID 与创建时间在此补齐。
func (s *MessageStore) Save(ctx context.Context, msg *chat.Message) error {
	if msg == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "消息不能为空")
	}
	if msg.ID == "" {
		msg.ID = chat.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	attachments, err := marshalNullable(msg.Attachments, len(msg.Attachments) > 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码附件失败")
	}
	calls, err := marshalNullable(msg.SkillCalls, len(msg.SkillCalls) > 0)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能调用失败")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO chat_messages
        (id, agent_id, chat_id, author_id, author_type, message, attachments, skill_calls,
        input_tokens, output_tokens, time_cost, cold_start_cost, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.AgentID, msg.ChatID, msg.AuthorID, string(msg.AuthorType), msg.Message, attachments, calls,
		msg.InputTokens, msg.OutputTokens, msg.TimeCost, msg.ColdStartCost, msg.CreatedAt); err != nil {
		return storageErr(err, "写入聊天消息失败")
	}
	return nil
}

// ListByChat 按创建顺序返回会话中的消息，limit<=0 表示不限制。
func (s *MessageStore) ListByChat(ctx context.Context, agentID, chatID string, limit int) ([]*chat.Message, error) {
	query := `SELECT id, agent_id, chat_id, author_id, author_type, message, attachments, skill_calls,
        input_tokens, output_tokens, time_cost, cold_start_cost, created_at
        FROM chat_messages WHERE agent_id = ? AND chat_id = ? ORDER BY created_at ASC, id ASC`
	args := []any{agentID, chatID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "查询聊天消息失败")
	}
	defer rows.Close()

	out := []*chat.Message{}
	for rows.Next() {
		var (
			m           chat.Message
			author      string
			body        sql.NullString
			attachments []byte
			calls       []byte
		)
		if err := rows.Scan(&m.ID, &m.AgentID, &m.ChatID, &m.AuthorID, &author, &body, &attachments, &calls,
			&m.InputTokens, &m.OutputTokens, &m.TimeCost, &m.ColdStartCost, &m.CreatedAt); err != nil {
			return nil, storageErr(err, "解析聊天消息失败")
		}
		m.AuthorType = chat.AuthorType(author)
		m.Message = body.String
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
				return nil, storageErr(err, "解析附件失败")
			}
		}
		if len(calls) > 0 {
			if err := json.Unmarshal(calls, &m.SkillCalls); err != nil {
				return nil, storageErr(err, "解析技能调用失败")
			}
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "遍历聊天消息失败")
	}
	return out, nil
}

// marshalNullable 在 present 为 false 时返回 nil，使 JSON 列存为 NULL。
func marshalNullable(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
