// Package mail delivers transactional messages for the auth flows. The
// engine treats delivery as fire-and-forget: a failed send is logged by the
// caller, never propagated as a flow failure.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"gatehouse.org/internal/obs"
)

// Dispatcher sends a single message to one recipient.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPDispatcher sends mail through a plain SMTP relay.
type SMTPDispatcher struct {
	Addr string // host:port
	From string
	Auth smtp.Auth // nil for unauthenticated relays
}

// NewSMTPDispatcher configures a dispatcher for the given relay. Username
// may be empty for relays that do not require authentication.
func NewSMTPDispatcher(addr, from, username, password string) *SMTPDispatcher {
	d := &SMTPDispatcher{Addr: addr, From: from}
	if username != "" {
		host := addr
		if i := strings.IndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		d.Auth = smtp.PlainAuth("", username, password, host)
	}
	return d
}

func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		d.From, to, subject, body)
	if err := smtp.SendMail(d.Addr, d.Auth, d.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("mail: send to %s: %w", to, err)
	}
	return nil
}

// LogDispatcher writes messages to the structured log instead of sending
// them. Used when no SMTP relay is configured, and in tests.
type LogDispatcher struct{}

func (LogDispatcher) Send(_ context.Context, to, subject, body string) error {
	obs.LogRequest(map[string]any{
		"type":    "mail",
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	return nil
}
