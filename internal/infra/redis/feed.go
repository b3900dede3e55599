package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"quizroom/internal/domain"
)

func (s *Store) publish(ctx context.Context, pipe redis.Pipeliner, change domain.Change) {
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.opts.Stream,
		Values: changeValues(change),
	})
}

func changeValues(change domain.Change) map[string]any {
	return map[string]any{
		"kind": string(change.Kind),
		"room": change.RoomID,
		"doc":  change.DocID,
	}
}

func decodeChange(msg redis.XMessage) domain.Change {
	return domain.Change{
		Kind:   domain.ChangeKind(str(msg.Values["kind"])),
		RoomID: str(msg.Values["room"]),
		DocID:  str(msg.Values["doc"]),
		Token:  msg.ID,
	}
}

// Next blocks until the consumer group hands this replica a change. On idle
// timeouts it also reclaims deliveries another replica took but never acked.
func (s *Store) Next(ctx context.Context) (domain.Change, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Change{}, err
		}
		if msg, ok := s.popReclaimed(); ok {
			return decodeChange(msg), nil
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			Streams:  []string{s.opts.Stream, ">"},
			Count:    1,
			Block:    s.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if err := s.reclaim(ctx); err != nil && ctx.Err() == nil {
				return domain.Change{}, err
			}
			continue
		}
		if err != nil {
			return domain.Change{}, err
		}
		for _, stream := range streams {
			if len(stream.Messages) > 0 {
				return decodeChange(stream.Messages[0]), nil
			}
		}
	}
}

// Ack settles the delivery and drops the entry: the engine group is the only
// reader, so a settled change has no further use in the stream.
func (s *Store) Ack(ctx context.Context, change domain.Change) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.settle(ctx, pipe, change)
		return nil
	})
	return err
}

// Nack re-appends the change to the tail of the stream and settles the
// failed delivery in one transaction.
func (s *Store) Nack(ctx context.Context, change domain.Change) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.publish(ctx, pipe, change)
		s.settle(ctx, pipe, change)
		return nil
	})
	return err
}

func (s *Store) settle(ctx context.Context, pipe redis.Pipeliner, change domain.Change) {
	pipe.XAck(ctx, s.opts.Stream, s.opts.Group, change.Token)
	pipe.XDel(ctx, s.opts.Stream, change.Token)
}

func (s *Store) reclaim(ctx context.Context) error {
	msgs, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.opts.Stream,
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		MinIdle:  s.opts.ClaimIdle,
		Start:    "0-0",
		Count:    16,
	}).Result()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.reclaimed = append(s.reclaimed, msgs...)
	s.mu.Unlock()
	return nil
}

func (s *Store) popReclaimed() (redis.XMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reclaimed) == 0 {
		return redis.XMessage{}, false
	}
	msg := s.reclaimed[0]
	s.reclaimed = s.reclaimed[1:]
	return msg, true
}

// Backlog reports how many entries the change stream holds, delivered or not.
func (s *Store) Backlog(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.opts.Stream).Result()
}

// Pending reports deliveries handed out but not acked yet.
func (s *Store) Pending(ctx context.Context) (int64, error) {
	p, err := s.client.XPending(ctx, s.opts.Stream, s.opts.Group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}
