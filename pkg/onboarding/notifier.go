package onboarding

import (
	"context"
	"log/slog"
)

// Notification channels used by the onboarding steps.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Notifier is the outbound communication capability steps call to reach
// clients and admins. Real deployments plug in an e-mail/SMS provider; the
// engine neither knows nor cares how a message travels.
type Notifier interface {
	Notify(ctx context.Context, channel, recipient, message string) error
}

// LogNotifier writes notifications to a structured log instead of sending
// them. It is the default for tests and local development.
type LogNotifier struct {
	Logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. If logger is nil, slog.Default()
// is used.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, channel, recipient, message string) error {
	n.Logger.InfoContext(ctx, "notify",
		slog.String("channel", channel),
		slog.String("recipient", recipient),
		slog.String("message", message),
	)
	return nil
}
