// Package mail delivers transactional emails over SMTP. The only message the
// service sends today is the password-reset email; the Mailer is a no-op when
// notifications are disabled or the SMTP host is unset, so callers never need
// to guard their own sends.
package mail

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/telemetry"
)

// Mailer sends transactional emails using the configured SMTP server.
type Mailer struct {
	cfg       *config.NotificationsConfig
	publicURL string
}

// NewMailer creates a Mailer. publicURL is the externally visible base URL
// used when composing links (no trailing slash).
func NewMailer(cfg *config.NotificationsConfig, publicURL string) *Mailer {
	return &Mailer{
		cfg:       cfg,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Enabled reports whether the mailer will actually deliver messages.
func (m *Mailer) Enabled() bool {
	return m.cfg.Enabled && m.cfg.SMTP.Host != ""
}

// SendPasswordReset emails the raw reset token to the user as a link. The
// token in the email is the only place the raw value ever leaves the process;
// the database stores its hash. The link expires after ttl.
func (m *Mailer) SendPasswordReset(toEmail, userName, rawToken string, ttl time.Duration) error {
	if !m.Enabled() {
		slog.Debug("mailer disabled, skipping password reset email", "email", toEmail)
		return nil
	}

	resetURL := fmt.Sprintf("%s/reset-password/%s", m.publicURL, rawToken)
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}

	subject := "Password Reset Request"
	body := strings.Join([]string{
		fmt.Sprintf("Hello %s,", userName),
		"",
		"We received a request to reset the password for your account.",
		"If you made this request, open the link below to choose a new password:",
		"",
		"  " + resetURL,
		"",
		fmt.Sprintf("The link expires in %d minute(s). If you did not request a reset,", minutes),
		"you can safely ignore this email; your password will not change.",
	}, "\r\n")

	if err := m.send(toEmail, subject, body); err != nil {
		return fmt.Errorf("send password reset email: %w", err)
	}
	telemetry.PasswordResetEmailsSentTotal.Inc()
	return nil
}

// send composes the RFC 5322 message and delivers it through SMTP.
func (m *Mailer) send(toEmail, subject, body string) error {
	smtpCfg := &m.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, toEmail, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, []string{toEmail}, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, []string{toEmail}, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically; we
// still try the implicit-TLS path first so UseTLS=true always means an
// encrypted connection regardless of port.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path (port 587 pattern)
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
