package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "OpenAgent-Chain/internal/errors"
)

type fakeEmailSender struct {
	subject string
	content string
	to      []string
	err     error
}

func (s *fakeEmailSender) Send(_ context.Context, subject, content string, to []string) error {
	s.subject = subject
	s.content = content
	s.to = to
	return s.err
}

type fakeSlackSender struct {
	channel string
	content string
}

func (s *fakeSlackSender) Send(_ context.Context, channel, content string) error {
	s.channel = channel
	s.content = content
	return nil
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	email := &fakeEmailSender{}
	slack := &fakeSlackSender{}
	dispatcher := NewFanout(
		&EmailNotifier{Sender: email, To: []string{"ops@example.com"}, SubjectPrefix: "[agent-chain]"},
		&SlackNotifier{Sender: slack, ChannelID: "C123"},
		nil,
	)

	event := Event{
		Code:       xerrors.CodeSchemaViolation,
		Message:    "stage fetch output rejected",
		Severity:   xerrors.SeverityCritical,
		RunID:      "run-1",
		Pipeline:   "user_profile",
		Attempts:   3,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
		OccurredAt: time.Now(),
	}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if !strings.Contains(email.subject, string(xerrors.CodeSchemaViolation)) {
		t.Fatalf("unexpected email subject: %q", email.subject)
	}
	if !strings.Contains(email.content, "run-1") || !strings.Contains(email.content, "user_profile") {
		t.Fatalf("unexpected email content: %q", email.content)
	}
	if len(email.to) != 1 || email.to[0] != "ops@example.com" {
		t.Fatalf("unexpected recipients: %v", email.to)
	}
	if slack.channel != "C123" || !strings.Contains(slack.content, "stage fetch output rejected") {
		t.Fatalf("unexpected slack message: %q on %q", slack.content, slack.channel)
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	email := &fakeEmailSender{err: errors.New("smtp down")}
	dispatcher := NewFanout(&EmailNotifier{Sender: email, To: []string{"ops@example.com"}})

	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeUnknown, Message: "boom"})
	if err == nil || !strings.Contains(err.Error(), "smtp down") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
	if !strings.Contains(err.Error(), string(ChannelEmail)) {
		t.Fatalf("expected channel name in error, got %v", err)
	}
}

func TestUnconfiguredNotifierIsSkipped(t *testing.T) {
	notifier := &DingTalkNotifier{}
	if err := notifier.Notify(context.Background(), Event{RunID: "run-2"}); err != nil {
		t.Fatalf("expected unconfigured notifier to be a no-op, got %v", err)
	}
}
