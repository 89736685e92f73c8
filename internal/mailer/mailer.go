// Package mailer sends invitation notifications over SMTP.
package mailer

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/crewsync/backend/config"
)

// Mailer sends transactional email. Dispatch failures are reported to the
// caller but never undo the roster write that preceded them.
type Mailer struct {
	cfg    config.EmailConfig
	logger *zap.Logger
}

// New creates a mailer.
func New(cfg config.EmailConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// SendInvitation emails a membership offer to the recipient.
func (m *Mailer) SendInvitation(to, entityType, entityName, code string) error {
	if m.cfg.SMTPHost == "" {
		m.logger.Warn("smtp not configured, invitation email skipped", zap.String("to", to))
		return nil
	}

	subject := fmt.Sprintf("You have been invited to the %s %q", entityType, entityName)
	body := fmt.Sprintf(`<html><body>
<p>You have been invited to join the %s <strong>%s</strong>.</p>
<p>Log in to accept the invitation.</p>`, entityType, entityName)
	if code != "" {
		body += fmt.Sprintf(`<p>Your verification code: <strong>%s</strong></p>`, code)
	}
	body += `</body></html>`

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.FromAddress, m.cfg.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	dialer := gomail.NewDialer(m.cfg.SMTPHost, m.cfg.SMTPPort, m.cfg.SMTPUser, m.cfg.SMTPPass)
	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send invitation email: %w", err)
	}
	return nil
}
