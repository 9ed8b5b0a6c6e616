// Package mailer sends transactional mail over SMTP. The server treats
// mail as best effort: failures are logged, never surfaced to the user.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/walletgate/apiserver/config"
)

// Mailer delivers transactional mail.
type Mailer interface {
	SendWelcome(ctx context.Context, to string) error
}

// New returns an SMTP mailer, or a noop one when mail is not configured.
func New(cfg config.MailConfig) Mailer {
	if cfg.Host == "" {
		return noopMailer{}
	}
	return &smtpMailer{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from: cfg.From,
	}
}

type smtpMailer struct {
	addr string
	from string
}

func (m *smtpMailer) SendWelcome(ctx context.Context, to string) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Welcome\r\n\r\nYour account has been created.\r\n",
		m.from, to,
	)
	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send welcome mail: %w", err)
	}
	return nil
}

type noopMailer struct{}

func (noopMailer) SendWelcome(ctx context.Context, to string) error { return nil }
