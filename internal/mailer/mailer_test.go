package mailer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taliaapp/apiserver/config"
	"github.com/taliaapp/apiserver/internal/mq"
)

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	messages []mq.Message
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, msg mq.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, msg)
	return "msg-1", nil
}

func (p *recordingPublisher) published() []mq.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.Message(nil), p.messages...)
}

func newTestMailer(publisher Publisher) *Mailer {
	return New(publisher, config.MailConfig{
		From:      "support@taliaapp.co",
		Channel:   "mail",
		QueueSize: 8,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnqueuePublishesEnvelope(t *testing.T) {
	publisher := &recordingPublisher{}
	m := newTestMailer(publisher)

	m.Enqueue(TemplateVerify, "user@example.com", "Validate your account!", map[string]string{
		"fullname": "Test User",
		"code":     "ABC123",
	})
	m.Close()

	published := publisher.published()
	require.Len(t, published, 1)

	var mail Mail
	require.NoError(t, json.Unmarshal(published[0].Data, &mail))
	assert.Equal(t, TemplateVerify, mail.Template)
	assert.Equal(t, "support@taliaapp.co", mail.From)
	assert.Equal(t, "user@example.com", mail.Recipient)
	assert.Equal(t, "Validate your account!", mail.Subject)
	assert.Equal(t, "ABC123", mail.Data["code"])
	assert.Equal(t, TemplateVerify, published[0].Attributes["template"])
}

func TestCloseDrainsQueue(t *testing.T) {
	publisher := &recordingPublisher{}
	m := newTestMailer(publisher)

	for i := 0; i < 5; i++ {
		m.Enqueue(TemplateForget, "user@example.com", "Recover your password!", nil)
	}
	m.Close()

	assert.Len(t, publisher.published(), 5)
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	publisher := &recordingPublisher{}
	m := newTestMailer(publisher)
	m.Close()

	m.Enqueue(TemplateVerify, "user@example.com", "Validate your account!", nil)

	assert.Empty(t, publisher.published())
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestMailer(&recordingPublisher{})
	m.Close()
	m.Close()
}
