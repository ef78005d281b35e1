package mailer

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ResendSender delivers mail through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
	logger *zap.SugaredLogger
}

func NewResendSender(apiKey, from string, logger *zap.SugaredLogger) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from, logger: logger}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	sent, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	s.logger.Debugw("mail accepted", "provider_id", sent.Id, "subject", msg.Subject)
	return nil
}
