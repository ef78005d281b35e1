package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes mails to the log instead of delivering them. It is used
// when no provider key is configured.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender { return &LogSender{logger: logger} }

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Infow("mail not delivered, no provider configured", "to", msg.To, "subject", msg.Subject)
	s.logger.Debugw("mail body", "to", msg.To, "html", msg.HTML)
	return nil
}
