// Package twitter binds an agent's linked X (Twitter) account to a set of
// tools backed by the v2 REST API.
package twitter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
	"AgentHub/internal/skills/httpjson"
)

const Category = "twitter"

const (
	SkillTimeline = "get_timeline"
	SkillSearch   = "search_tweets"
	SkillPost     = "post_tweet"
	SkillReply    = "reply_tweet"
	SkillMentions = "get_mentions"
)

const (
	maxResults       = 10
	sinceIDStaleDays = 6
	lastKey          = "last"
)

// Options 是分类级别的系统配置。
type Options struct {
	BaseURL     string
	BearerToken string
}

// Tweet 是工具返回给模型的推文结构。
type Tweet struct {
	ID               string            `json:"id"`
	Text             string            `json:"text"`
	AuthorID         string            `json:"author_id,omitempty"`
	CreatedAt        string            `json:"created_at,omitempty"`
	ReferencedTweets []ReferencedTweet `json:"referenced_tweets,omitempty"`
}

type ReferencedTweet struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type listResponse struct {
	Data     []Tweet `json:"data"`
	Includes struct {
		Users []User `json:"users,omitempty"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

// NewCategory 返回推特技能分类。凭据优先取分类配置中的 bearer_token（不限流），
// 其次取 agent 绑定的访问令牌，最后取系统令牌。
func NewCategory(opts Options) skill.Category {
	return skill.Category{
		Name:   Category,
		Skills: []string{SkillTimeline, SkillSearch, SkillPost, SkillReply, SkillMentions},
		New: func(name string, env skill.Env) (skill.Tool, error) {
			c, err := newClient(opts, env)
			if err != nil {
				return nil, err
			}
			switch name {
			case SkillTimeline:
				return skill.NewTool("twitter_get_timeline", "Get tweets from the authenticated user's timeline", c.timeline), nil
			case SkillSearch:
				return skill.NewTool("twitter_search_tweets", "Search for recent tweets on Twitter using a query keyword.", c.search), nil
			case SkillPost:
				return skill.NewTool("twitter_post_tweet", "Post a new tweet to Twitter.", c.post), nil
			case SkillReply:
				return skill.NewTool("twitter_reply_tweet", "Reply to an existing tweet on Twitter.", c.reply), nil
			case SkillMentions:
				return skill.NewTool("twitter_get_mentions", "Get tweets that mention the authenticated user.", c.mentions), nil
			}
			return nil, xerrors.New(skill.CodeSkillUnknown, "Unknown Twitter skill: "+name)
		},
	}
}

type client struct {
	api     *httpjson.Client
	agentID string
	selfID  string
	useKey  bool
	store   skill.Store
	limiter *skill.RateLimiter
	now     func() time.Time
}

func newClient(opts Options, env skill.Env) (*client, error) {
	token, useKey := env.Config.Option("bearer_token"), true
	if token == "" {
		useKey = false
		if env.Data != nil && env.Data.TwitterAccessToken != "" {
			token = env.Data.TwitterAccessToken
		} else {
			token = opts.BearerToken
		}
	}
	if token == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "推特凭据未配置")
	}
	api := httpjson.New("Twitter", opts.BaseURL)
	api.Header.Set("Authorization", "Bearer "+token)
	c := &client{api: api, agentID: env.AgentID, useKey: useKey, store: env.Store, now: time.Now}
	if env.Data != nil {
		c.selfID = env.Data.TwitterID
	}
	if env.Store != nil {
		c.limiter = skill.NewRateLimiter(env.Store)
	}
	return c, nil
}

// checkRate 仅在使用平台凭据时限流。
func (c *client) checkRate(ctx context.Context, tool string, max int, window time.Duration) error {
	if c.useKey || c.limiter == nil {
		return nil
	}
	return c.limiter.Allow(ctx, c.agentID, tool, max, window)
}

func (c *client) requireSelf() error {
	if c.selfID == "" {
		return xerrors.New(xerrors.CodeConfigInvalid, "Failed to get Twitter user ID.")
	}
	return nil
}

func (c *client) loadLast(ctx context.Context, tool, key string) map[string]any {
	if c.store == nil {
		return map[string]any{}
	}
	last, err := c.store.GetAgentSkillData(ctx, c.agentID, tool, key)
	if err != nil || last == nil {
		return map[string]any{}
	}
	return last
}

func (c *client) saveNewest(ctx context.Context, tool, key string, last map[string]any, resp *listResponse) error {
	if c.store == nil || resp.Meta.NewestID == "" {
		return nil
	}
	last["since_id"] = resp.Meta.NewestID
	last["timestamp"] = c.now().UTC().Format(time.RFC3339)
	return c.store.SaveAgentSkillData(ctx, c.agentID, tool, key, last)
}

func listQuery(sinceID string) url.Values {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(maxResults))
	q.Set("expansions", "referenced_tweets.id,attachments.media_keys,author_id")
	q.Set("tweet.fields", "created_at,author_id,text,referenced_tweets,attachments")
	q.Set("user.fields", "username,name,description,public_metrics,location")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	return q
}

func (c *client) timeline(ctx context.Context, _ skill.NoArgs) (string, error) {
	return c.listOwn(ctx, "twitter_get_timeline", "tweets", 3, 24*time.Hour)
}

func (c *client) mentions(ctx context.Context, _ skill.NoArgs) (string, error) {
	return c.listOwn(ctx, "twitter_get_mentions", "mentions", 1, 4*time.Hour)
}

func (c *client) listOwn(ctx context.Context, tool, resource string, max int, window time.Duration) (string, error) {
	if err := c.checkRate(ctx, tool, max, window); err != nil {
		return "", err
	}
	if err := c.requireSelf(); err != nil {
		return "", err
	}
	last := c.loadLast(ctx, tool, lastKey)
	sinceID, _ := last["since_id"].(string)

	var resp listResponse
	path := fmt.Sprintf("/users/%s/%s?%s", url.PathEscape(c.selfID), resource, listQuery(sinceID).Encode())
	if err := c.api.Get(ctx, path, &resp); err != nil {
		return "", err
	}
	if err := c.saveNewest(ctx, tool, lastKey, last, &resp); err != nil {
		return "", err
	}
	return skill.JSON(resp.Data)
}

type searchArgs struct {
	Query string `json:"query" jsonschema_description:"The search query to find tweets"`
}

func (c *client) search(ctx context.Context, args searchArgs) (string, error) {
	const tool = "twitter_search_tweets"
	if args.Query == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "query 不能为空")
	}
	if err := c.checkRate(ctx, tool, 3, 24*time.Hour); err != nil {
		return "", err
	}
	last := c.loadLast(ctx, tool, args.Query)
	sinceID, _ := last["since_id"].(string)
	// 超过 6 天的 since_id 会被接口拒绝，直接丢弃。
	if ts, ok := last["timestamp"].(string); ok && sinceID != "" {
		saved, err := time.Parse(time.RFC3339, ts)
		if err != nil || c.now().Sub(saved) > sinceIDStaleDays*24*time.Hour {
			sinceID = ""
		}
	}
	q := listQuery(sinceID)
	q.Set("query", args.Query)

	var resp listResponse
	if err := c.api.Get(ctx, "/tweets/search/recent?"+q.Encode(), &resp); err != nil {
		return "", err
	}
	if err := c.saveNewest(ctx, tool, args.Query, last, &resp); err != nil {
		return "", err
	}
	return skill.JSON(resp)
}

type postArgs struct {
	Text string `json:"text" jsonschema:"maxLength=25000" jsonschema_description:"Tweet text (280 chars for regular users)"`
}

type replyArgs struct {
	TweetID string `json:"tweet_id" jsonschema_description:"The ID of the tweet to reply to"`
	Text    string `json:"text" jsonschema:"maxLength=25000" jsonschema_description:"Reply text"`
}

type createTweetRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func (c *client) post(ctx context.Context, args postArgs) (string, error) {
	if err := c.checkRate(ctx, "twitter_post_tweet", 24, 24*time.Hour); err != nil {
		return "", err
	}
	return c.create(ctx, createTweetRequest{Text: args.Text})
}

// reply 在同一线程内对同一推文只回复一次，重复调用返回已发出的回复。
func (c *client) reply(ctx context.Context, args replyArgs) (string, error) {
	const tool = "twitter_reply_tweet"
	if args.TweetID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "tweet_id 不能为空")
	}
	run, _ := skill.RunFrom(ctx)
	dedupe := c.store != nil && run.ThreadID != ""
	if dedupe {
		prev, err := c.store.GetThreadSkillData(ctx, run.ThreadID, tool, args.TweetID)
		if err == nil && prev != nil {
			if id, _ := prev["reply_id"].(string); id != "" {
				var resp createTweetResponse
				resp.Data.ID = id
				resp.Data.Text, _ = prev["text"].(string)
				return skill.JSON(resp)
			}
		}
	}
	if err := c.checkRate(ctx, tool, 48, 24*time.Hour); err != nil {
		return "", err
	}
	req := createTweetRequest{Text: args.Text}
	req.Reply = &struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	}{InReplyToTweetID: args.TweetID}
	resp, err := c.createTweet(ctx, req)
	if err != nil {
		return "", err
	}
	if dedupe {
		// 回复已发出，去重记录写入失败不影响结果。
		_ = c.store.SaveThreadSkillData(ctx, c.agentID, run.ThreadID, tool, args.TweetID, map[string]any{
			"reply_id": resp.Data.ID,
			"text":     resp.Data.Text,
		})
	}
	return skill.JSON(resp)
}

func (c *client) create(ctx context.Context, req createTweetRequest) (string, error) {
	resp, err := c.createTweet(ctx, req)
	if err != nil {
		return "", err
	}
	return skill.JSON(resp)
}

func (c *client) createTweet(ctx context.Context, req createTweetRequest) (*createTweetResponse, error) {
	if req.Text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "推文内容不能为空")
	}
	var resp createTweetResponse
	if err := c.api.Post(ctx, "/tweets", req, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "Failed to post tweet.")
	}
	return &resp, nil
}
