package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// SkillStore 实现 skill.Store。每条数据是一个 JSON 字符串键，
// 另用集合索引 agent 名下的键以便按 agent 或线程清理。
type SkillStore struct {
	client goredis.UniversalClient
	prefix string
}

var _ skill.Store = (*SkillStore)(nil)

// NewSkillStore 连接 Redis 并创建存储。
func NewSkillStore(ctx context.Context, cfg Config) (*SkillStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewSkillStoreWithClient(client, cfg.Prefix), nil
}

// NewSkillStoreWithClient 使用已有客户端创建存储。
func NewSkillStoreWithClient(client goredis.UniversalClient, prefix string) *SkillStore {
	if prefix == "" {
		prefix = "agenthub:skill"
	}
	return &SkillStore{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

// Close 关闭底层连接。
func (s *SkillStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *SkillStore) agentKey(agentID, skillName, key string) string {
	return fmt.Sprintf("%s:agent:%s:%s:%s", s.prefix, agentID, skillName, key)
}

func (s *SkillStore) threadPrefix(threadID string) string {
	return fmt.Sprintf("%s:thread:%s:", s.prefix, threadID)
}

func (s *SkillStore) threadKey(threadID, skillName, key string) string {
	return s.threadPrefix(threadID) + skillName + ":" + key
}

func (s *SkillStore) agentIndex(agentID string) string {
	return fmt.Sprintf("%s:index:agent:%s", s.prefix, agentID)
}

func (s *SkillStore) threadIndex(agentID string) string {
	return fmt.Sprintf("%s:index:thread:%s", s.prefix, agentID)
}

func (s *SkillStore) get(ctx context.Context, key string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取技能数据失败")
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析技能数据失败")
	}
	return data, nil
}

func (s *SkillStore) save(ctx context.Context, index, key string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码技能数据失败")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, raw, 0)
		pipe.SAdd(ctx, index, key)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入技能数据失败")
	}
	return nil
}

func (s *SkillStore) GetAgentSkillData(ctx context.Context, agentID, skillName, key string) (map[string]any, error) {
	return s.get(ctx, s.agentKey(agentID, skillName, key))
}

func (s *SkillStore) SaveAgentSkillData(ctx context.Context, agentID, skillName, key string, data map[string]any) error {
	return s.save(ctx, s.agentIndex(agentID), s.agentKey(agentID, skillName, key), data)
}

func (s *SkillStore) CleanAgentSkillData(ctx context.Context, agentID string) error {
	return s.purge(ctx, s.agentIndex(agentID), "")
}

func (s *SkillStore) GetThreadSkillData(ctx context.Context, threadID, skillName, key string) (map[string]any, error) {
	return s.get(ctx, s.threadKey(threadID, skillName, key))
}

func (s *SkillStore) SaveThreadSkillData(ctx context.Context, agentID, threadID, skillName, key string, data map[string]any) error {
	return s.save(ctx, s.threadIndex(agentID), s.threadKey(threadID, skillName, key), data)
}

func (s *SkillStore) CleanThreadSkillData(ctx context.Context, agentID, threadID string) error {
	prefix := ""
	if threadID != "" {
		prefix = s.threadPrefix(threadID)
	}
	return s.purge(ctx, s.threadIndex(agentID), prefix)
}

// purge 删除索引中以 prefix 开头的键，prefix 为空时删除全部并移除索引。
func (s *SkillStore) purge(ctx context.Context, index, prefix string) error {
	members, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取技能数据索引失败")
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		if prefix == "" || strings.HasPrefix(m, prefix) {
			keys = append(keys, m)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		if prefix == "" {
			pipe.Del(ctx, index)
			return nil
		}
		members := make([]any, len(keys))
		for i, k := range keys {
			members[i] = k
		}
		pipe.SRem(ctx, index, members...)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除技能数据失败")
	}
	return nil
}
