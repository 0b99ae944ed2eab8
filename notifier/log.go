package notifier

import (
	"context"
	"log/slog"
)

// LogNotifier emits every event as a structured log line. It is the
// always-on default — other Notifiers (e.g. WebhookDispatcher) are
// additive, never a replacement for the audit trail a log line leaves.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, event Event) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("proposal_id", event.ProposalID),
	}
	for k, v := range event.Fields {
		args = append(args, slog.String(k, v))
	}
	logger.Info(event.Message, args...)
}
