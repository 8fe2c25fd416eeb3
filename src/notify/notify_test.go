package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []Message
}

func (r *recordingNotifier) Send(_ context.Context, _ Channel, msg Message) error {
	r.sent = append(r.sent, msg)
	return nil
}

func TestRouter_Dispatch(t *testing.T) {
	router := NewRouter()
	rec := &recordingNotifier{}
	router.Register(ChannelSlack, rec)

	require.NoError(t, router.Send(context.Background(), Channel{Kind: ChannelSlack}, Message{Text: "hi"}))
	assert.Len(t, rec.sent, 1)
	assert.True(t, router.Supports(ChannelLog))

	err := router.Send(context.Background(), Channel{Kind: ChannelEmail, Target: "a@b.c"}, Message{})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
}

func TestSlackNotifier_Send(t *testing.T) {
	var got slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	n := NewSlackNotifier("", 5*time.Second)
	err := n.Send(context.Background(), Channel{Kind: ChannelSlack, Target: server.URL}, Message{Subject: "PCN overdue", Text: "Discovery call"})
	require.NoError(t, err)
	assert.Equal(t, "*PCN overdue*\nDiscovery call", got.Text)
}

func TestSlackNotifier_DefaultURLAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("invalid_token"))
	}))
	defer server.Close()

	n := NewSlackNotifier(server.URL, 5*time.Second)
	err := n.Send(context.Background(), Channel{Kind: ChannelSlack}, Message{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	empty := NewSlackNotifier("", time.Second)
	assert.Error(t, empty.Send(context.Background(), Channel{Kind: ChannelSlack}, Message{Text: "x"}))
}

func TestEmailNotifier_RequiresRecipient(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{Domain: "mg.example.com", APIKey: "key", FromEmail: "noreply@example.com", FromName: "PCN"})
	err := n.Send(context.Background(), Channel{Kind: ChannelEmail}, Message{Subject: "s", Text: "t"})
	assert.Error(t, err)
}
