package email

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/mockmailer/pkg/logger"
)

// LogSender writes emails to the application log instead of delivering them.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender returns a sender that logs at info level. Nil uses slog.Default().
func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log.With(logger.Component("email.log_sender"))}
}

func (s *LogSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email sent",
		logger.Recipient(params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("tag", params.Tag),
		slog.String("body", params.BodyText),
	)
	return nil
}
