package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quizroom/internal/domain"
)

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) error {
	if err := s.requireRoom(ctx, event.RoomID); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventsKey(event.RoomID),
		MaxLen: s.opts.EventsMaxLen,
		Approx: true,
		Values: map[string]any{
			"id":      event.ID,
			"type":    string(event.Type),
			"payload": string(payload),
			"ts":      millis(event.Timestamp),
		},
	}).Err()
}

// Events returns the retained room events in append order.
func (s *Store) Events(ctx context.Context, roomID string) ([]domain.Event, error) {
	msgs, err := s.client.XRange(ctx, eventsKey(roomID), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeEvent(roomID, msg))
	}
	return out, nil
}

// SubscribeEvents tails the room stream from its current end with blocking
// XREAD calls. The channel closes when ctx ends or cancel is called.
func (s *Store) SubscribeEvents(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, nil, err
	}
	key := eventsKey(roomID)
	last := "0-0"
	tail, err := s.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return nil, nil, err
	}
	if len(tail) > 0 {
		last = tail[0].ID
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan domain.Event, 16)
	go func() {
		defer close(ch)
		for subCtx.Err() == nil {
			streams, err := s.client.XRead(subCtx, &redis.XReadArgs{
				Streams: []string{key, last},
				Count:   64,
				Block:   s.opts.Block,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					last = msg.ID
					select {
					case ch <- decodeEvent(roomID, msg):
					case <-subCtx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, cancel, nil
}

func decodeEvent(roomID string, msg redis.XMessage) domain.Event {
	event := domain.Event{
		ID:        str(msg.Values["id"]),
		RoomID:    roomID,
		Type:      domain.EventType(str(msg.Values["type"])),
		Timestamp: fromMillis(str(msg.Values["ts"])),
	}
	if raw := str(msg.Values["payload"]); raw != "" {
		event.Payload = json.RawMessage(raw)
	}
	return event
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
