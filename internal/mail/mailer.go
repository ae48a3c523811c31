// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CyberNet Contributors

// Package mail sends the templated CyberNet notification emails.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

//go:embed templates/*.html
var templatesFS embed.FS

const resetSubject = "CyberNet - Password Reset Request"

// sendAttempts bounds the retry loop around one SMTP dispatch.
const sendAttempts = 3

// Config holds SMTP transport settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SendFunc matches smtp.SendMail; injectable for testing.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer implements auth.ResetNotifier over plain SMTP with a bounded
// exponential backoff per message.
type SMTPMailer struct {
	cfg    Config
	send   SendFunc
	tmpl   *template.Template
	logger *slog.Logger
}

// NewSMTPMailer creates an SMTPMailer.
func NewSMTPMailer(cfg Config, logger *slog.Logger) (*SMTPMailer, error) {
	return newSMTPMailer(cfg, smtp.SendMail, logger)
}

func newSMTPMailer(cfg Config, send SendFunc, logger *slog.Logger) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("SMTP host and port are required")
	}
	if cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("SMTP from address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_INVALID").
			With("operation", "parse email templates").
			Wrap(err)
	}

	return &SMTPMailer{cfg: cfg, send: send, tmpl: tmpl, logger: logger}, nil
}

// SendPasswordReset mails the time-limited reset link to the recipient.
// The recipient address is logged, never the link: the token inside it is a
// live credential.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, email, resetLink string) error {
	var body bytes.Buffer
	err := m.tmpl.ExecuteTemplate(&body, "reset_email.html", struct{ ResetLink string }{resetLink})
	if err != nil {
		// No code here: the reset service wraps delivery failures with its
		// own, and Code() reports the deepest code in the chain.
		return oops.With("operation", "render reset email").Wrap(err)
	}

	msg := m.buildMessage(email, resetSubject, body.Bytes())

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	backoff := retry.WithMaxRetries(sendAttempts-1, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(_ context.Context) error {
		if sendErr := m.send(m.cfg.Addr(), auth, m.cfg.From, []string{email}, msg); sendErr != nil {
			return retry.RetryableError(sendErr)
		}
		return nil
	})
	if err != nil {
		return oops.With("smtp_addr", m.cfg.Addr()).
			With("recipient", email).
			Wrap(err)
	}

	m.logger.Info("password reset email sent", "recipient", email)
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject string, htmlBody []byte) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.Write(htmlBody)
	msg.WriteString("\r\n")
	return msg.Bytes()
}
