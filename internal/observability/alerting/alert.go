package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/slack-go/slack"

	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelSlack Channel = "slack"
	ChannelLog   Channel = "log"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code     xerrors.Code
	Message  string
	Severity xerrors.Severity
	// Subject 是事件关联的对象，例如 agent ID 或对话任务 ID。
	Subject    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// FromError 根据错误码属性构造告警事件。
func FromError(err error, subject string, metadata map[string]string) Event {
	code := xerrors.CodeOf(err)
	return Event{
		Code:       code,
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		Subject:    subject,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 把告警写入审计日志，未配置 Slack 时作为兜底渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入审计日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("subject", event.Subject),
		slog.String("message", event.Message),
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	logger.Audit().Warn("alert", attrs...)
	return nil
}

// SlackPoster 是 SlackNotifier 依赖的 Slack API 子集，*slack.Client 满足该接口。
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

var _ SlackPoster = (*slack.Client)(nil)

// Field 是 Slack 附件中的一个键值字段。
type Field struct {
	Title string
	Value string
	Short bool
}

// SlackNotifier 通过 Slack 发送告警与运营通知。
type SlackNotifier struct {
	Client    SlackPoster
	ChannelID string
}

// NewSlackNotifier 使用 bot token 创建通知器。token 或频道为空时返回 nil。
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	if token == "" || channelID == "" {
		return nil
	}
	return &SlackNotifier{Client: slack.New(token), ChannelID: channelID}
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 告警。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	fields := []Field{
		{Title: "Code", Value: string(event.Code), Short: true},
		{Title: "Severity", Value: string(event.Severity), Short: true},
	}
	if event.Subject != "" {
		fields = append(fields, Field{Title: "Subject", Value: event.Subject, Short: true})
	}
	for _, k := range sortedKeys(event.Metadata) {
		fields = append(fields, Field{Title: k, Value: event.Metadata[k]})
	}
	return n.Post(ctx, event.Message, severityColor(event.Severity), fields)
}

// Post 发送带字段的附件消息。未配置时只记录警告。
func (n *SlackNotifier) Post(ctx context.Context, title, color string, fields []Field) error {
	if n == nil || n.Client == nil || n.ChannelID == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("title", title))
		return nil
	}
	attachment := slack.Attachment{Title: title, Color: color}
	for _, f := range fields {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{Title: f.Title, Value: f.Value, Short: f.Short})
	}
	if _, _, err := n.Client.PostMessageContext(ctx, n.ChannelID, slack.MsgOptionAttachments(attachment)); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "发送 Slack 消息失败")
	}
	return nil
}

func severityColor(s xerrors.Severity) string {
	switch s {
	case xerrors.SeverityCritical:
		return "danger"
	case xerrors.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
