package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
)

// SMTPNotifier sends staff alerts via SMTP.
//
// Works with Mailhog in development (no auth) and any standard SMTP relay
// with username/password auth in production.
type SMTPNotifier struct {
	config    SMTPConfig
	templates *template.Template
	logger    *slog.Logger
	sendMail  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

const contactNeededHTML = `<!DOCTYPE html>
<html><body>
<h2>Subscription needs attention</h2>
<p>{{.Reason}}</p>
<table>
<tr><td>Subscription</td><td>{{.SubscriptionID}}</td></tr>
{{if .OrderID}}<tr><td>Order</td><td>{{.OrderID}}</td></tr>{{end}}
<tr><td>Platform</td><td>{{.PlatformID}}</td></tr>
<tr><td>Profiles</td><td>{{.RequiredProfiles}}</td></tr>
<tr><td>Ends</td><td>{{.EndDate.Format "2006-01-02 15:04 MST"}}</td></tr>
</table>
</body></html>`

// NewSMTPNotifier creates a new SMTP-based notifier.
func NewSMTPNotifier(config SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}
	if len(config.To) == 0 {
		return nil, fmt.Errorf("smtp notifier: no recipients configured")
	}

	templates, err := template.New("email").Parse(`{{define "contact_needed.html"}}` + contactNeededHTML + `{{end}}`)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &SMTPNotifier{
		config:    config,
		templates: templates,
		logger:    logger,
		sendMail:  smtp.SendMail,
	}, nil
}

// SendContactNeeded emails the staff recipients about a parked subscription.
func (s *SMTPNotifier) SendContactNeeded(ctx context.Context, alert ContactNeededAlert) error {
	htmlBody, err := s.renderTemplate("contact_needed.html", alert)
	if err != nil {
		return fmt.Errorf("failed to render contact needed template: %w", err)
	}

	order := "-"
	if alert.OrderID != nil {
		order = alert.OrderID.String()
	}
	textBody := fmt.Sprintf(`Subscription needs attention.

%s

Subscription: %s
Order:        %s
Platform:     %s
Profiles:     %d
Ends:         %s
`, alert.Reason, alert.SubscriptionID, order, alert.PlatformID, alert.RequiredProfiles,
		alert.EndDate.Format("2006-01-02 15:04 MST"))

	return s.send(ctx, Email{
		To:       s.config.To,
		Subject:  fmt.Sprintf("Contact needed: subscription %s", alert.SubscriptionID),
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

func (s *SMTPNotifier) send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.buildMessage(email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := s.sendMail(addr, auth, s.config.From, email.To, msg); err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)
	return nil
}

// buildMessage constructs the raw multipart message with headers.
func (s *SMTPNotifier) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s <%s>\r\n", s.config.FromName, s.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(email.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", email.Subject)
	buf.WriteString("MIME-Version: 1.0\r\n")

	boundary := "===============STREAMSHARE_BOUNDARY==============="
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

func (s *SMTPNotifier) renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var _ Notifier = (*SMTPNotifier)(nil)
