package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"AgentHub/internal/agentstore"
	xerrors "AgentHub/internal/errors"
)

const agentColumns = `id, number, name, ticker, owner, upstream_id, model, temperature, frequency_penalty,
        presence_penalty, purpose, personality, principles, prompt, prompt_append, network_id, skills,
        telegram_entrypoint_enabled, telegram_token, created_at, updated_at`

// AgentStore 实现 agentstore.Store。
type AgentStore struct {
	db *sql.DB
}

var _ agentstore.Store = (*AgentStore)(nil)

// NewAgentStore 基于已打开的连接池创建存储。
func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*agentstore.Agent, error) {
	var (
		a            agentstore.Agent
		upstream     sql.NullString
		purpose      sql.NullString
		personality  sql.NullString
		principles   sql.NullString
		prompt       sql.NullString
		promptAppend sql.NullString
		skills       []byte
		temperature  float64
		frequency    float64
		presence     float64
	)
	if err := row.Scan(&a.ID, &a.Number, &a.Name, &a.Ticker, &a.Owner, &upstream, &a.Model,
		&temperature, &frequency, &presence, &purpose, &personality, &principles, &prompt, &promptAppend,
		&a.NetworkID, &skills, &a.TelegramEntrypointEnabled, &a.TelegramToken, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.UpstreamID = upstream.String
	a.Purpose, a.Personality, a.Principles = purpose.String, personality.String, principles.String
	a.Prompt, a.PromptAppend = prompt.String, promptAppend.String
	a.Temperature, a.FrequencyPenalty, a.PresencePenalty = float32(temperature), float32(frequency), float32(presence)
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &a.Skills); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 agent "+a.ID+" 的技能配置失败")
		}
	}
	return &a, nil
}

// Get 查询单个 agent。
func (s *AgentStore) Get(ctx context.Context, id string) (*agentstore.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, agentstore.NotFound(id)
	}
	if err != nil {
		return nil, storageErr(err, "查询 agent 失败")
	}
	return a, nil
}

// GetByUpstreamID 按上游幂等键查询。
func (s *AgentStore) GetByUpstreamID(ctx context.Context, upstreamID string) (*agentstore.Agent, error) {
	if upstreamID == "" {
		return nil, xerrors.New(agentstore.CodeAgentNotFound, "upstream_id 为空")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE upstream_id = ?`, upstreamID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xerrors.New(agentstore.CodeAgentNotFound, "upstream_id "+upstreamID+" 没有对应的 agent")
	}
	if err != nil {
		return nil, storageErr(err, "查询 agent 失败")
	}
	return a, nil
}

// List 按 number 升序分页列出 agent。
func (s *AgentStore) List(ctx context.Context, opts agentstore.ListOptions) ([]*agentstore.Agent, error) {
	var (
		where []string
		args  []any
	)
	if opts.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, opts.Owner)
	}
	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY number ASC"
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "查询 agent 列表失败")
	}
	defer rows.Close()
	out := []*agentstore.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, storageErr(err, "解析 agent 失败")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "遍历 agent 列表失败")
	}
	return out, nil
}

// Create 插入 agent，number 由自增列分配。
func (s *AgentStore) Create(ctx context.Context, a *agentstore.Agent) error {
	if a == nil || a.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	skills, err := json.Marshal(a.Skills)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能配置失败")
	}
	ts := now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO agents
        (id, name, ticker, owner, upstream_id, model, temperature, frequency_penalty, presence_penalty,
        purpose, personality, principles, prompt, prompt_append, network_id, skills,
        telegram_entrypoint_enabled, telegram_token, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Ticker, a.Owner, nullString(a.UpstreamID), a.Model,
		a.Temperature, a.FrequencyPenalty, a.PresencePenalty,
		a.Purpose, a.Personality, a.Principles, a.Prompt, a.PromptAppend, a.NetworkID, skills,
		a.TelegramEntrypointEnabled, a.TelegramToken, ts, ts)
	if err != nil {
		if isDuplicate(err) {
			return xerrors.New(agentstore.CodeAgentExists, "agent "+a.ID+" 已存在")
		}
		return storageErr(err, "写入 agent 失败")
	}
	number, err := res.LastInsertId()
	if err != nil {
		return storageErr(err, "读取 agent number 失败")
	}
	a.Number = number
	a.CreatedAt, a.UpdatedAt = ts, ts
	return nil
}

// Update 在事务内锁定原记录，保证 updated_at 严格递增。
func (s *AgentStore) Update(ctx context.Context, a *agentstore.Agent) error {
	if a == nil || a.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	skills, err := json.Marshal(a.Skills)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能配置失败")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err, "开启事务失败")
	}
	defer tx.Rollback()

	var (
		number    int64
		createdAt time.Time
		prev      time.Time
	)
	err = tx.QueryRowContext(ctx, `SELECT number, created_at, updated_at FROM agents WHERE id = ? FOR UPDATE`, a.ID).
		Scan(&number, &createdAt, &prev)
	if errors.Is(err, sql.ErrNoRows) {
		return agentstore.NotFound(a.ID)
	}
	if err != nil {
		return storageErr(err, "锁定 agent 失败")
	}
	updated := agentstore.NextUpdatedAt(prev, time.Now())
	if _, err := tx.ExecContext(ctx, `UPDATE agents SET name = ?, ticker = ?, owner = ?, upstream_id = ?, model = ?,
        temperature = ?, frequency_penalty = ?, presence_penalty = ?, purpose = ?, personality = ?, principles = ?,
        prompt = ?, prompt_append = ?, network_id = ?, skills = ?, telegram_entrypoint_enabled = ?,
        telegram_token = ?, updated_at = ? WHERE id = ?`,
		a.Name, a.Ticker, a.Owner, nullString(a.UpstreamID), a.Model,
		a.Temperature, a.FrequencyPenalty, a.PresencePenalty, a.Purpose, a.Personality, a.Principles,
		a.Prompt, a.PromptAppend, a.NetworkID, skills, a.TelegramEntrypointEnabled,
		a.TelegramToken, updated, a.ID); err != nil {
		if isDuplicate(err) {
			return xerrors.New(xerrors.CodeConflict, "upstream_id "+a.UpstreamID+" 已被占用")
		}
		return storageErr(err, "更新 agent 失败")
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err, "提交事务失败")
	}
	a.Number, a.CreatedAt, a.UpdatedAt = number, createdAt, updated
	return nil
}

const dataColumns = `id, wallet_data, twitter_id, twitter_username, twitter_name, twitter_access_token,
        telegram_id, telegram_username, telegram_name, created_at, updated_at`

func scanData(row rowScanner) (*agentstore.AgentData, error) {
	var (
		d      agentstore.AgentData
		wallet []byte
		token  sql.NullString
	)
	if err := row.Scan(&d.ID, &wallet, &d.TwitterID, &d.TwitterUsername, &d.TwitterName, &token,
		&d.TelegramID, &d.TelegramUsername, &d.TelegramName, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if len(wallet) > 0 {
		d.WalletData = json.RawMessage(wallet)
	}
	d.TwitterAccessToken = token.String
	return &d, nil
}

// GetData 查询 agent 状态，不存在时返回 nil, nil。
func (s *AgentStore) GetData(ctx context.Context, id string) (*agentstore.AgentData, error) {
	d, err := scanData(s.db.QueryRowContext(ctx, `SELECT `+dataColumns+` FROM agent_data WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err, "查询 agent 状态失败")
	}
	return d, nil
}

// SetData 在事务内读取、合并并写回 agent 状态。
func (s *AgentStore) SetData(ctx context.Context, id string, patch agentstore.DataPatch) (*agentstore.AgentData, error) {
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent ID 不能为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err, "开启事务失败")
	}
	defer tx.Rollback()

	ts := now()
	d, err := scanData(tx.QueryRowContext(ctx, `SELECT `+dataColumns+` FROM agent_data WHERE id = ? FOR UPDATE`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		d = &agentstore.AgentData{ID: id, CreatedAt: ts}
	case err != nil:
		return nil, storageErr(err, "锁定 agent 状态失败")
	}
	patch.Apply(d)
	d.UpdatedAt = ts

	var wallet any
	if len(d.WalletData) > 0 {
		wallet = []byte(d.WalletData)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO agent_data (`+dataColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE wallet_data = VALUES(wallet_data), twitter_id = VALUES(twitter_id),
        twitter_username = VALUES(twitter_username), twitter_name = VALUES(twitter_name),
        twitter_access_token = VALUES(twitter_access_token), telegram_id = VALUES(telegram_id),
        telegram_username = VALUES(telegram_username), telegram_name = VALUES(telegram_name),
        updated_at = VALUES(updated_at)`,
		d.ID, wallet, d.TwitterID, d.TwitterUsername, d.TwitterName, d.TwitterAccessToken,
		d.TelegramID, d.TelegramUsername, d.TelegramName, d.CreatedAt, d.UpdatedAt); err != nil {
		return nil, storageErr(err, "写入 agent 状态失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err, "提交事务失败")
	}
	return d, nil
}
