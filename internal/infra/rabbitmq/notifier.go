package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"quizroom/internal/domain"
)

// DefaultQueue receives alerts for the out-of-band pager.
const DefaultQueue = "security-alerts"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Notifier publishes alerts as persistent JSON messages to a durable queue.
type Notifier struct {
	conn  *amqp.Connection
	ch    publisher
	queue string

	mu  sync.Mutex
	now func() time.Time
}

// Dial connects, opens a channel and declares the queue.
func Dial(url, queue string) (*Notifier, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &Notifier{conn: conn, ch: ch, queue: queue, now: time.Now}, nil
}

func newNotifier(ch publisher, queue string, now func() time.Time) *Notifier {
	return &Notifier{ch: ch, queue: queue, now: now}
}

func (n *Notifier) Notify(ctx context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	err = n.ch.PublishWithContext(ctx,
		"",      // default exchange
		n.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    alert.ID,
			Type:         alert.Type,
			Timestamp:    n.now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func (n *Notifier) Close() error {
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
