package notifications

import (
	"context"

	"github.com/pro-cess/subscriptions-backend/pkg/config"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

// Message is a rendered customer email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// Mailer delivers customer email. Implementations must be safe for
// concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the structured log instead of sending them.
// It is the default in development and when no mail provider is configured;
// billing never depends on email delivery.
type LogMailer struct {
	logg *logger.Logger
	from string
}

func NewLogMailer(logg *logger.Logger, cfg config.MailConfig) *LogMailer {
	return &LogMailer{logg: logg, from: cfg.FromAddress}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"mail_from":    m.from,
		"mail_to":      msg.To,
		"mail_subject": msg.Subject,
	}), "outbound email (log mailer)")
	return nil
}
