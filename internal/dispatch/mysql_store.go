package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentHub/internal/errors"
)

// MySQLStore 使用 chat_jobs 表记录任务状态，表结构由存储层迁移创建。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 基于已打开的连接创建任务存储。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MySQL 连接未初始化")
	}
	return &MySQLStore{db: db, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}, nil
}

const jobColumns = `id, agent_id, chat_id, user_id, message, attachments, debug, status, message_ids, last_error, created_at, updated_at`

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = StatusPending
	}
	attachments, err := marshalJSON(job.Attachments)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务附件失败")
	}

	const stmt = `INSERT INTO chat_jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, '', ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		job.ID, job.AgentID, job.ChatID, job.UserID, job.Message, attachments, job.Debug, job.Status,
		job.CreatedAt, job.UpdatedAt,
	); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	return nil
}

// Get 查询任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM chat_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return job, nil
}

// Claim 通过条件更新保证同一任务只被一个 worker 领取。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusRunning, s.now(), id, StatusPending)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "领取任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return job, ErrJobConflict
	}
	return job, nil
}

// MarkSucceeded 写入成功状态。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, messageIDs []string) error {
	return s.finish(ctx, id, StatusSucceeded, "", messageIDs)
}

// MarkFailed 写入失败状态。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, lastError string, messageIDs []string) error {
	return s.finish(ctx, id, StatusFailed, lastError, messageIDs)
}

func (s *MySQLStore) finish(ctx context.Context, id string, status Status, lastError string, messageIDs []string) error {
	ids, err := marshalJSON(messageIDs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码消息 ID 失败")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_jobs SET status = ?, last_error = ?, message_ids = ?, updated_at = ? WHERE id = ?`,
		status, lastError, ids, s.now(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	var (
		clauses []string
		args    []any
	)
	if opts.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	if opts.ChatID != "" {
		clauses = append(clauses, "chat_id = ?")
		args = append(args, opts.ChatID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + jobColumns + ` FROM chat_jobs`)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	if opts.Order == SortByUpdatedAsc {
		b.WriteString(" ORDER BY updated_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY updated_at DESC, id ASC")
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务记录失败")
	}
	return jobs, nil
}

// Close 连接由调用方持有，这里不做处理。
func (s *MySQLStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		message     sql.NullString
		attachments []byte
		messageIDs  []byte
		lastError   sql.NullString
		status      string
	)
	if err := row.Scan(&job.ID, &job.AgentID, &job.ChatID, &job.UserID, &message, &attachments,
		&job.Debug, &status, &messageIDs, &lastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.Message = message.String
	job.LastError = lastError.String
	job.Status = Status(status)
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &job.Attachments); err != nil {
			return nil, err
		}
	}
	if len(messageIDs) > 0 {
		if err := json.Unmarshal(messageIDs, &job.MessageIDs); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func marshalJSON[T any](items []T) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return data, nil
}

var _ Store = (*MySQLStore)(nil)
