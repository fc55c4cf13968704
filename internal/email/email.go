// Package email sends staff alerts about subscriptions that need a person to
// step in, such as an auto-renewal that found no capacity.
package email

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Notifier delivers staff alerts.
type Notifier interface {
	// SendContactNeeded tells staff that a subscription was parked as
	// contact needed and the customer has to be reached out to.
	SendContactNeeded(ctx context.Context, alert ContactNeededAlert) error
}

// ContactNeededAlert describes a subscription parked as contact needed.
type ContactNeededAlert struct {
	SubscriptionID   uuid.UUID
	OrderID          *uuid.UUID
	PlatformID       uuid.UUID
	RequiredProfiles int
	EndDate          time.Time
	Reason           string
}

// Email represents a single email message.
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // e.g. "localhost" for Mailhog
	Port     int
	Username string // empty for Mailhog
	Password string
	From     string
	FromName string
	To       []string // staff recipients
}

// Enabled reports whether alerts can be sent over SMTP.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

const (
	DefaultFromEmail = "alerts@streamshare.local"
	DefaultFromName  = "StreamShare"
)

// LogNotifier writes alerts to the log. Used when SMTP is not configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendContactNeeded(ctx context.Context, alert ContactNeededAlert) error {
	n.logger.WarnContext(ctx, "Contact needed",
		"subscription_id", alert.SubscriptionID,
		"order_id", alert.OrderID,
		"platform_id", alert.PlatformID,
		"required_profiles", alert.RequiredProfiles,
		"end_date", alert.EndDate,
		"reason", alert.Reason,
	)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
