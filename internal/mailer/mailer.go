// Package mailer is the outbound notification dispatcher. Messages are
// enqueued fire-and-forget: callers never block on broker I/O and never see
// delivery errors.
package mailer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/taliaapp/apiserver/config"
	"github.com/taliaapp/apiserver/internal/mq"
)

const publishTimeout = 10 * time.Second

// Template names understood by the mail worker.
const (
	TemplateVerify = "verify"
	TemplateForget = "forget"
)

// Mail is one outbound notification job.
type Mail struct {
	Template  string            `json:"template"`
	From      string            `json:"from"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Data      map[string]string `json:"data"`
}

// Publisher is the broker operation the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg mq.Message) (string, error)
}

// Mailer drains a bounded in-process queue into the message broker.
type Mailer struct {
	publisher Publisher
	channel   string
	from      string
	logger    *slog.Logger

	queue chan Mail
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New constructs a Mailer and starts its worker goroutine.
func New(publisher Publisher, cfg config.MailConfig, logger *slog.Logger) *Mailer {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	m := &Mailer{
		publisher: publisher,
		channel:   cfg.Channel,
		from:      cfg.From,
		logger:    logger,
		queue:     make(chan Mail, size),
	}
	m.wg.Add(1)
	go m.work()
	return m
}

// Enqueue queues a notification for delivery. It never blocks: when the
// queue is full the mail is dropped and logged, matching the no-guarantee
// contract of the dispatcher.
func (m *Mailer) Enqueue(template, recipient, subject string, data map[string]string) {
	mail := Mail{
		Template:  template,
		From:      m.from,
		Recipient: recipient,
		Subject:   subject,
		Data:      data,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- mail:
	default:
		m.logger.Warn("mail queue full, dropping notification",
			"template", template, "recipient", recipient)
	}
}

// Close stops accepting mail, drains the queue, and waits for the worker.
func (m *Mailer) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Mailer) work() {
	defer m.wg.Done()
	for mail := range m.queue {
		data, err := json.Marshal(mail)
		if err != nil {
			m.logger.Error("marshal mail", "err", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		_, err = m.publisher.Publish(ctx, m.channel, mq.Message{
			Data:       data,
			Attributes: map[string]string{"template": mail.Template},
		})
		cancel()
		if err != nil {
			m.logger.Error("publish mail", "template", mail.Template, "err", err)
		}
	}
}
