package mail

import (
	"context"

	"github.com/gelozr/signin/log"
)

// LogMailer writes messages to the logger instead of sending them. It is the
// default driver for local runs.
type LogMailer struct {
	logger log.Logger
}

var _ Mailer = (*LogMailer)(nil)

func NewLogMailer(logger log.Logger) *LogMailer {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogMailer{logger: logger.With("component", "mail")}
}

func (l *LogMailer) Send(ctx context.Context, m *Message) error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}

	to := make([]string, len(m.To))
	for i, a := range m.To {
		to[i] = a.Address
	}

	l.logger.InfoContext(ctx, "mail",
		"from", m.From.Address,
		"to", to,
		"subject", m.Subject,
		"text", m.Text,
	)
	return nil
}
