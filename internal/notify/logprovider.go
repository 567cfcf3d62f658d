package notify

import (
	"context"

	"github.com/google/uuid"

	"booking-service/internal/logger"
)

// LogProvider writes messages to the log instead of sending them; used when no API key is configured
type LogProvider struct{}

func (LogProvider) Name() string { return "log" }

func (LogProvider) Send(ctx context.Context, msg Message) (string, error) {
	id := "log-" + uuid.NewString()
	logger.C(ctx).Info().
		Str("component", "notify").
		Str("id", id).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("email not sent (log provider)")
	return id, nil
}
