// Package telegram resolves the bot identity behind an agent's Telegram
// entrypoint token.
package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"

	xerrors "AgentHub/internal/errors"
)

// Identity 是机器人的身份信息。
type Identity struct {
	ID       string
	Username string
	// Name 由 first_name 与 last_name 拼接。
	Name string
}

// Resolver 通过 getMe 查询机器人身份。
type Resolver struct {
	serverURL string
}

// Option 配置 Resolver。
type Option func(*Resolver)

// WithServerURL 替换 Bot API 地址，测试或自建网关时使用。
func WithServerURL(url string) Option {
	return func(r *Resolver) { r.serverURL = url }
}

// NewResolver 创建解析器。
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 返回 token 对应的机器人身份。
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, xerrors.New(xerrors.CodeInvalidArgument, "telegram token 不能为空")
	}
	opts := []bot.Option{bot.WithSkipGetMe()}
	if r.serverURL != "" {
		opts = append(opts, bot.WithServerURL(r.serverURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return Identity{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "telegram token 无效")
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		return Identity{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "查询 telegram 机器人信息失败")
	}
	return Identity{
		ID:       strconv.FormatInt(me.ID, 10),
		Username: me.Username,
		Name:     strings.TrimSpace(me.FirstName + " " + me.LastName),
	}, nil
}
