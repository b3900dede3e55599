package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"quizroom/internal/domain"
)

type recordingPublisher struct {
	key  string
	msgs []amqp.Publishing
	err  error
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.key = key
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestNotifyPublishesPersistentJSON(t *testing.T) {
	pub := &recordingPublisher{}
	now := time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)
	n := newNotifier(pub, DefaultQueue, func() time.Time { return now })

	alert := domain.Alert{
		ID:         "alert-1",
		SecurityID: "sec-1",
		Type:       domain.SecurityAnswerSpamDetected,
		Severity:   domain.SeverityHigh,
		Payload:    map[string]any{"roomId": "ABC123"},
		CreatedAt:  now,
	}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if pub.key != DefaultQueue || len(pub.msgs) != 1 {
		t.Fatalf("expected one message on %s, got %d on %s", DefaultQueue, len(pub.msgs), pub.key)
	}
	msg := pub.msgs[0]
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" || msg.MessageId != "alert-1" {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	var got domain.Alert
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.SecurityID != "sec-1" || got.Notified || got.Payload["roomId"] != "ABC123" {
		t.Fatalf("unexpected alert body: %+v", got)
	}
}

func TestNotifyWrapsPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	n := newNotifier(&recordingPublisher{err: boom}, DefaultQueue, time.Now)
	if err := n.Notify(context.Background(), domain.Alert{ID: "a"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped publish error, got %v", err)
	}
}
