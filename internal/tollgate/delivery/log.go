package delivery

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/tollgate/pkg/redact"
)

// LogSender is the development sender. It records that a message went out
// but never logs the body, which carries the secret.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendMessage(ctx context.Context, destination, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "message delivered",
		"destination", redact.Destination(destination),
		"subject", subject,
		"body_bytes", len(body),
	)
	return nil
}
