// Package notify sends transactional email to shoppers over SMTP.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/opensource-finance/returnguard/internal/domain"
)

var (
	// ErrEmailServiceDisabled is returned when email is switched off.
	ErrEmailServiceDisabled = errors.New("email service disabled")

	// ErrEmailServiceNotConfigured is returned when host, port or sender is missing.
	ErrEmailServiceNotConfigured = errors.New("email service not configured")

	// ErrInvalidEmail is returned for an unparseable recipient.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrEmailRecipientRejected is returned when the server refuses the recipient.
	ErrEmailRecipientRejected = errors.New("email recipient rejected")
)

// Sender delivers return confirmations.
type Sender interface {
	SendConfirmation(ctx context.Context, c Confirmation) error
}

// Mailer sends HTML email through an SMTP relay.
type Mailer struct {
	cfg domain.EmailConfig
}

// NewMailer creates a mailer. A disabled config yields a mailer whose sends
// return ErrEmailServiceDisabled.
func NewMailer(cfg domain.EmailConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

// Enabled reports whether email is switched on.
func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg.Enabled
}

// SendConfirmation renders and sends a return confirmation.
func (m *Mailer) SendConfirmation(ctx context.Context, c Confirmation) error {
	subject, body, err := buildConfirmationContent(c)
	if err != nil {
		return err
	}
	return m.send(ctx, c.To, subject, body)
}

func (m *Mailer) send(ctx context.Context, toEmail, subject, body string) error {
	if !m.Enabled() {
		return ErrEmailServiceDisabled
	}
	if m.cfg.Host == "" || m.cfg.Port == 0 || m.cfg.From == "" {
		return ErrEmailServiceNotConfigured
	}
	if _, err := mail.ParseAddress(toEmail); err != nil {
		return ErrInvalidEmail
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := buildFromAddress(m.cfg.From, m.cfg.FromName)
	msg := []byte(buildEmailMessage(from, toEmail, subject, body))

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" || m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	to := []string{toEmail}
	switch {
	case m.cfg.UseSSL:
		return normalizeSendError(sendMailWithSSL(addr, auth, m.cfg.Host, m.cfg.From, to, msg))
	case m.cfg.UseTLS:
		return normalizeSendError(sendMailWithStartTLS(addr, auth, m.cfg.Host, m.cfg.From, to, msg))
	default:
		return normalizeSendError(sendMailPlain(addr, auth, m.cfg.From, to, msg))
	}
}

func buildFromAddress(from, name string) string {
	if strings.TrimSpace(name) == "" {
		return from
	}
	encoded := mime.QEncoding.Encode("UTF-8", name)
	return (&mail.Address{Name: encoded, Address: from}).String()
}

func buildEmailMessage(from, to, subject, body string) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.String()
}

func sendMailWithSSL(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := authenticate(client, auth); err != nil {
		return err
	}
	return sendSMTPData(client, from, to, msg)
}

func sendMailWithStartTLS(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return err
	}
	if err := authenticate(client, auth); err != nil {
		return err
	}
	return sendSMTPData(client, from, to, msg)
}

func sendMailPlain(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := authenticate(client, auth); err != nil {
		return err
	}
	return sendSMTPData(client, from, to, msg)
}

func authenticate(client *smtp.Client, auth smtp.Auth) error {
	if auth == nil {
		return nil
	}
	if ok, _ := client.Extension("AUTH"); !ok {
		return nil
	}
	return client.Auth(auth)
}

func sendSMTPData(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func normalizeSendError(err error) error {
	if err == nil {
		return nil
	}
	if isRecipientRejected(err) {
		return fmt.Errorf("%w: %v", ErrEmailRecipientRejected, err)
	}
	return err
}

func isRecipientRejected(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	for _, keyword := range []string{
		"no such recipient",
		"no such user",
		"recipient not found",
		"recipient address rejected",
		"invalid recipient",
		"user unknown",
		"mailbox unavailable",
	} {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return false
}
