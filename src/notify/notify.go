// Package notify delivers reminders and digests over the channels a company has configured.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/khabaroff/pcn-tracker/src/logging"
)

// ErrUnsupportedChannel is returned for a channel kind with no registered notifier
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

// ChannelKind selects the delivery mechanism
type ChannelKind string

const (
	ChannelSlack ChannelKind = "slack"
	ChannelEmail ChannelKind = "email"
	ChannelLog   ChannelKind = "log"
)

// Channel is one delivery target: a Slack incoming-webhook URL or an email address
type Channel struct {
	Kind   ChannelKind
	Target string
}

// Message is a rendered notification
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Notifier delivers one message to one channel
type Notifier interface {
	Send(ctx context.Context, ch Channel, msg Message) error
}

// Router dispatches a message to the notifier registered for the channel kind
type Router struct {
	notifiers map[ChannelKind]Notifier
}

// NewRouter creates a router with only the log channel registered
func NewRouter() *Router {
	return &Router{notifiers: map[ChannelKind]Notifier{ChannelLog: LogNotifier{}}}
}

// Register sets the notifier used for kind
func (r *Router) Register(kind ChannelKind, n Notifier) {
	r.notifiers[kind] = n
}

// Supports reports whether kind has a notifier
func (r *Router) Supports(kind ChannelKind) bool {
	_, ok := r.notifiers[kind]
	return ok
}

// Send implements Notifier
func (r *Router) Send(ctx context.Context, ch Channel, msg Message) error {
	n, ok := r.notifiers[ch.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, ch.Kind)
	}
	return n.Send(ctx, ch, msg)
}

// LogNotifier writes the message to the application log; used when a company has no channel
type LogNotifier struct{}

// Send implements Notifier
func (LogNotifier) Send(ctx context.Context, ch Channel, msg Message) error {
	logger := logging.FromContext(ctx, "notify")
	logger.Info().
		Str("channel", string(ch.Kind)).
		Str("target", ch.Target).
		Str("subject", msg.Subject).
		Msg(msg.Text)
	return nil
}

var (
	_ Notifier = (*Router)(nil)
	_ Notifier = LogNotifier{}
)
