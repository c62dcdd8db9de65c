package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/slack-go/slack"

	xerrors "AgentHub/internal/errors"
)

type recordingPoster struct {
	channel string
	options []slack.MsgOption
	err     error
}

func (r *recordingPoster) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	r.channel = channelID
	r.options = options
	return channelID, "1700000000.000100", r.err
}

func (r *recordingPoster) attachments(t *testing.T) string {
	t.Helper()
	_, values, err := slack.UnsafeApplyMsgOptions("token", r.channel, "https://slack.com/api/", r.options...)
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	return values.Get("attachments")
}

func TestSlackNotifierPostsFields(t *testing.T) {
	poster := &recordingPoster{}
	n := &SlackNotifier{Client: poster, ChannelID: "C1"}
	err := n.Post(context.Background(), "Agent Created", "good", []Field{{Title: "ID", Value: "alpha", Short: true}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if poster.channel != "C1" {
		t.Fatalf("unexpected channel %q", poster.channel)
	}
	body := poster.attachments(t)
	if !strings.Contains(body, "Agent Created") || !strings.Contains(body, "alpha") {
		t.Fatalf("attachment missing content: %s", body)
	}
}

func TestSlackNotifierWrapsFailure(t *testing.T) {
	n := &SlackNotifier{Client: &recordingPoster{err: errors.New("channel_not_found")}, ChannelID: "C1"}
	err := n.Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure, Message: "boom"})
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}

func TestUnconfiguredSlackIsNoop(t *testing.T) {
	if n := NewSlackNotifier("", "C1"); n != nil {
		t.Fatalf("missing token must disable notifier")
	}
	var n *SlackNotifier
	if err := n.Post(context.Background(), "x", "", nil); err != nil {
		t.Fatalf("nil notifier must be a no-op: %v", err)
	}
}

type countingNotifier struct {
	channel Channel
	calls   int
	err     error
}

func (c *countingNotifier) Channel() Channel { return c.channel }
func (c *countingNotifier) Notify(context.Context, Event) error {
	c.calls++
	return c.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &countingNotifier{channel: ChannelLog}
	bad := &countingNotifier{channel: ChannelSlack, err: errors.New("down")}
	err := NewFanout(ok, bad, nil).Notify(context.Background(), FromError(xerrors.New(xerrors.CodeStorageFailure, "x"), "alpha", nil))
	if err == nil || !strings.Contains(err.Error(), "channel slack") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Fatalf("every notifier must be called")
	}
}
