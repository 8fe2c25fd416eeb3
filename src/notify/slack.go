package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SlackNotifier posts to Slack incoming webhooks. The channel target is the webhook URL;
// DefaultURL is used when the target is empty.
type SlackNotifier struct {
	client     *resty.Client
	DefaultURL string
}

// NewSlackNotifier creates a Slack notifier with a bounded request timeout
func NewSlackNotifier(defaultURL string, timeout time.Duration) *SlackNotifier {
	c := resty.New()
	c.SetTimeout(timeout)
	c.SetHeader("Content-Type", "application/json")
	return &SlackNotifier{client: c, DefaultURL: defaultURL}
}

type slackPayload struct {
	Text string `json:"text"`
}

// Send implements Notifier
func (n *SlackNotifier) Send(ctx context.Context, ch Channel, msg Message) error {
	url := ch.Target
	if url == "" {
		url = n.DefaultURL
	}
	if url == "" {
		return errors.New("slack: no webhook url configured")
	}

	text := msg.Text
	if msg.Subject != "" {
		text = "*" + msg.Subject + "*\n" + msg.Text
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(slackPayload{Text: text}).
		Post(url)
	if err != nil {
		return fmt.Errorf("slack: post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
