package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
)

// Sender delivers a complete message. rawMessage holds headers and body.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, rawMessage []byte) error
}

// BuildMessage renders a plain text message with the headers every sender expects.
func BuildMessage(from string, to []string, subject, body string, now time.Time) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	sb.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(strings.TrimRight(body, "\r\n"), "\n", "\r\n"))
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

type SMTPSender struct {
	from string
	auth smtp.Auth
	addr string
}

// NewSMTPSender falls back to a LoggingSender when no SMTP host is configured.
func NewSMTPSender(cfg *config.Config) Sender {
	if cfg.SmtpHost == "" {
		logger.Infof("SMTP host not configured, emails will only be logged")
		return &LoggingSender{}
	}
	return &SMTPSender{
		from: cfg.SmtpFromAddress,
		auth: smtp.PlainAuth("", cfg.SmtpUsername, cfg.SmtpPassword, cfg.SmtpHost),
		addr: fmt.Sprintf("%s:%d", cfg.SmtpHost, cfg.SmtpPort),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if err := smtp.SendMail(s.addr, s.auth, s.from, to, rawMessage); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	logger.Infof("Email sent via SMTP to %v (Subject: %s)", to, subject)
	return nil
}

// LoggingSender writes messages to the application log instead of sending them.
type LoggingSender struct{}

func (s *LoggingSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	logger.With("to", to, "subject", subject).Infof("Email (not sent):\n%s", rawMessage)
	return nil
}
