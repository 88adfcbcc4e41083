package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	client *gomail.Client
	host   string
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.MailPort),
		gomail.WithTimeout(30 * time.Second),
		gomail.WithTLSConfig(&tls.Config{
			ServerName:         cfg.MailHost,
			InsecureSkipVerify: cfg.MailSkipTLSVerify,
		}),
	}

	if cfg.MailUser != "" && cfg.MailPass != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.MailUser),
			gomail.WithPassword(cfg.MailPass),
		)
	}

	switch {
	case cfg.MailPort == 465:
		opts = append(opts, gomail.WithSSL())
	case cfg.MailTLS:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	default:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}

	client, err := gomail.NewClient(cfg.MailHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("new smtp client: %w", err)
	}

	return &SMTPMailer{client: client, host: cfg.MailHost}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, m *Message) error {
	msg, err := buildMsg(m)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send via %s: %w", s.host, err)
	}
	return nil
}

func buildMsg(m *Message) (*gomail.Msg, error) {
	if len(m.To) == 0 {
		return nil, ErrNoRecipients
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(m.From.Name, m.From.Address); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	for _, a := range m.To {
		if err := msg.AddToFormat(a.Name, a.Address); err != nil {
			return nil, fmt.Errorf("to %s: %w", a.Address, err)
		}
	}
	msg.Subject(m.Subject)
	msg.SetMessageID()
	msg.SetDate()

	for k, v := range m.Headers {
		msg.SetGenHeader(gomail.Header(k), v)
	}

	switch {
	case m.Text != "" && m.HTML != "":
		msg.SetBodyString(gomail.TypeTextPlain, m.Text)
		msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)
	case m.HTML != "":
		msg.SetBodyString(gomail.TypeTextHTML, m.HTML)
	default:
		msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	}

	return msg, nil
}
