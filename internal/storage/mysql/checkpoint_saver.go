package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"AgentHub/internal/checkpoint"
	xerrors "AgentHub/internal/errors"
)

// messagesChannel 是检查点快照在 checkpoint_blobs 中使用的通道名。
const messagesChannel = "messages"

// CheckpointSaver 实现 checkpoint.Saver：元数据写入 checkpoints，
// 消息快照写入 checkpoint_blobs，增量写入 checkpoint_writes。
type CheckpointSaver struct {
	db *sql.DB
}

var _ checkpoint.Saver = (*CheckpointSaver)(nil)

// NewCheckpointSaver 创建检查点存储。
func NewCheckpointSaver(db *sql.DB) *CheckpointSaver {
	return &CheckpointSaver{db: db}
}

// Latest 返回线程步数最大的检查点。
func (s *CheckpointSaver) Latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT c.checkpoint_id, c.parent_checkpoint_id, c.step, c.source, c.created_at, b.value
        FROM checkpoints c
        JOIN checkpoint_blobs b ON b.thread_id = c.thread_id AND b.channel = ? AND b.version = c.checkpoint_id
        WHERE c.thread_id = ?
        ORDER BY c.step DESC, c.checkpoint_id DESC LIMIT 1`, messagesChannel, threadID)
	cp := checkpoint.Checkpoint{ThreadID: threadID}
	var blob []byte
	err := row.Scan(&cp.ID, &cp.ParentID, &cp.Step, &cp.Source, &cp.CreatedAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "查询检查点失败")
	}
	if err := json.Unmarshal(blob, &cp.Messages); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析检查点消息失败",
			xerrors.WithMetadata("thread_id", threadID))
	}
	return &cp, nil
}

// Put 在单个事务内追加检查点、快照与增量写入。
func (s *CheckpointSaver) Put(ctx context.Context, cp *checkpoint.Checkpoint, writes []checkpoint.Write) error {
	if cp == nil || cp.ThreadID == "" || cp.AgentID == "" || cp.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "检查点缺少 thread_id、agent_id 或 id")
	}
	blob, err := json.Marshal(cp.Messages)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化检查点消息失败")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "开启事务失败")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoints
        (thread_id, agent_id, checkpoint_id, parent_checkpoint_id, step, source, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.AgentID, cp.ID, cp.ParentID, cp.Step, cp.Source, cp.CreatedAt); err != nil {
		return storageErr(err, "写入检查点失败")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoint_blobs (thread_id, agent_id, channel, version, value) VALUES (?, ?, ?, ?, ?)`,
		cp.ThreadID, cp.AgentID, messagesChannel, cp.ID, blob); err != nil {
		return storageErr(err, "写入检查点快照失败")
	}
	for i, w := range writes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoint_writes
            (thread_id, agent_id, checkpoint_id, task_id, idx, channel, value) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cp.ThreadID, cp.AgentID, cp.ID, w.TaskID, i, w.Channel, []byte(w.Value)); err != nil {
			return storageErr(err, "写入检查点增量失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err, "提交检查点失败")
	}
	return nil
}
