package notifierxmpp

import (
	"context"
	"log/slog"
	"strings"
)

const helpText = "I deliver issue notifications and do not take commands. Try \"ping\"."

// bot answers chat messages sent to the notifier account.
type bot struct {
	logger *slog.Logger
}

func (b *bot) handle(ctx context.Context, from, body string) string {
	cmd := strings.ToLower(strings.TrimSpace(body))
	if b.logger != nil {
		b.logger.DebugContext(ctx, "Inbound XMPP message", "from", from, "command", cmd)
	}
	switch cmd {
	case "":
		return ""
	case "ping":
		return "pong"
	default:
		return helpText
	}
}
