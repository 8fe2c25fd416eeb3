package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

// EmailConfig holds Mailgun settings
type EmailConfig struct {
	Domain    string
	APIKey    string
	FromEmail string
	FromName  string
	EU        bool
}

// EmailNotifier sends email via Mailgun; the channel target is the recipient address
type EmailNotifier struct {
	mg   *mailgun.MailgunImpl
	from string
}

// NewEmailNotifier creates a new Mailgun-backed notifier
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if cfg.EU {
		mg.SetAPIBase(mailgun.APIBaseEU)
	}
	return &EmailNotifier{
		mg:   mg,
		from: fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
	}
}

// Send implements Notifier
func (n *EmailNotifier) Send(ctx context.Context, ch Channel, msg Message) error {
	if ch.Target == "" {
		return errors.New("email: no recipient")
	}

	message := n.mg.NewMessage(n.from, msg.Subject, msg.Text, ch.Target)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, _, err := n.mg.Send(ctxWithTimeout, message); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", ch.Target, err)
	}
	return nil
}
