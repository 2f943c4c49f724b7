// Package alert emails operators about settlements that need manual work.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
)

var ErrNotConfigured = errors.New("alert: sender or recipient missing")

// Sender is the subset of *sendgrid.Client used here.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
	ToEmail   string
	Sandbox   bool
}

type EmailAlerter struct {
	sender Sender
	cfg    Config
}

func NewEmailAlerter(cfg Config) *EmailAlerter {
	return NewEmailAlerterWithSender(sendgrid.NewSendClient(cfg.APIKey), cfg)
}

func NewEmailAlerterWithSender(s Sender, cfg Config) *EmailAlerter {
	if cfg.FromName == "" {
		cfg.FromName = "Escrow Settlement"
	}
	return &EmailAlerter{sender: s, cfg: cfg}
}

func (a *EmailAlerter) SettlementNeedsAttention(ctx context.Context, p models.PaymentRecord, reason string) error {
	if a.sender == nil || a.cfg.FromEmail == "" || a.cfg.ToEmail == "" {
		return ErrNotConfigured
	}

	from := mail.NewEmail(a.cfg.FromName, a.cfg.FromEmail)
	to := mail.NewEmail("Finance", a.cfg.ToEmail)
	subject := fmt.Sprintf("[escrow] %s: hold %s", p.SettlementFlag, p.Hold.ID)
	plain := fmt.Sprintf(
		"Hold %s (intent %s) for consultant %s needs attention.\n\nStatus: %s\nFlag: %s\nPending action: %s\nAmount: %s\nNet to consultant: %s\nAttempts: %d\nReason: %s\n",
		p.Hold.ID, p.IntentID, p.ConsultantID,
		p.Status, p.SettlementFlag, p.PendingAction,
		formatMinor(p.Amount, p.Currency), formatMinor(p.NetAmount, p.Currency),
		p.Attempts, reason,
	)
	html := fmt.Sprintf(alertHTML,
		p.Hold.ID, p.IntentID, p.ConsultantID,
		p.Status, p.SettlementFlag, p.PendingAction,
		formatMinor(p.Amount, p.Currency), formatMinor(p.NetAmount, p.Currency),
		p.Attempts, reason,
	)

	msg := mail.NewSingleEmail(from, subject, to, plain, html)
	if a.cfg.Sandbox {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		msg.MailSettings = ms
	}

	resp, err := a.sender.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	if resp != nil && resp.StatusCode >= 300 {
		return fmt.Errorf("send alert: sendgrid status %d", resp.StatusCode)
	}
	slog.Default().InfoContext(ctx, "settlement alert sent",
		"module", "alert",
		"operation", "send",
		"outcome", "success",
		"hold_id", p.Hold.ID,
	)
	return nil
}

func formatMinor(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, currency)
}

const alertHTML = `<p>Hold <b>%s</b> (intent %s) for consultant %s needs attention.</p>
<table>
<tr><td>Status</td><td>%s</td></tr>
<tr><td>Flag</td><td>%s</td></tr>
<tr><td>Pending action</td><td>%s</td></tr>
<tr><td>Amount</td><td>%s</td></tr>
<tr><td>Net to consultant</td><td>%s</td></tr>
<tr><td>Attempts</td><td>%d</td></tr>
<tr><td>Reason</td><td>%s</td></tr>
</table>`
