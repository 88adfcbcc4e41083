package mail

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

const recoverySubject = "Your password recovery code"

const recoveryText = `Hello,

Use this one-time password to reset your password: {{.OTP}}

If you did not ask for it, ignore this message.
`

const recoveryHTML = `<!doctype html>
<html><body>
<p>Hello,</p>
<p>Use this one-time password to reset your password: <strong>{{.OTP}}</strong></p>
<p>If you did not ask for it, ignore this message.</p>
</body></html>
`

var (
	recoveryTextTmpl = texttemplate.Must(texttemplate.New("recovery_text").Parse(recoveryText))
	recoveryHTMLTmpl = htmltemplate.Must(htmltemplate.New("recovery_html").Parse(recoveryHTML))
)

// RecoveryMailer sends the password recovery message.
type RecoveryMailer struct {
	mailer Mailer
	from   Address
}

func NewRecoveryMailer(mailer Mailer, from Address) *RecoveryMailer {
	return &RecoveryMailer{mailer: mailer, from: from}
}

func (r *RecoveryMailer) SendPasswordRecoveryEmail(ctx context.Context, email, otp string) error {
	data := struct {
		Email string
		OTP   string
	}{Email: email, OTP: otp}

	var text, html bytes.Buffer
	if err := recoveryTextTmpl.Execute(&text, data); err != nil {
		return fmt.Errorf("render recovery text: %w", err)
	}
	if err := recoveryHTMLTmpl.Execute(&html, data); err != nil {
		return fmt.Errorf("render recovery html: %w", err)
	}

	msg := &Message{
		From:    r.from,
		To:      []Address{{Address: email}},
		Subject: recoverySubject,
		Text:    text.String(),
		HTML:    html.String(),
	}

	if err := r.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send recovery mail: %w", err)
	}
	return nil
}
