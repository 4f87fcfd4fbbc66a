package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	mail "github.com/go-mail/mail"
)

// EmailDeliverer sends the signed document as an SMTP attachment.
type EmailDeliverer struct {
	host string
	port int
	user string
	pass string
	from string
}

func NewEmail(host string, port int, user, pass, from string) *EmailDeliverer {
	return &EmailDeliverer{host: host, port: port, user: user, pass: pass, from: from}
}

func (e *EmailDeliverer) Channel() string { return "email" }

func (e *EmailDeliverer) Deliver(ctx context.Context, recipient, message string, att Attachment) error {
	if e.host == "" {
		return errors.New("smtp host not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", "Your signed document")
	m.SetBody("text/plain", message)
	m.Attach(att.Filename, mail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(att.Data)
		return err
	}))

	d := mail.NewDialer(e.host, e.port, e.user, e.pass)
	d.TLSConfig = &tls.Config{ServerName: e.host}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
