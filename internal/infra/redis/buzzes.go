package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quizroom/internal/domain"
)

const maxRankAttempts = 8

func (s *Store) AddBuzz(ctx context.Context, buzz domain.BuzzEvent) (domain.BuzzEvent, error) {
	if err := s.requireRoom(ctx, buzz.RoomID); err != nil {
		return domain.BuzzEvent{}, err
	}
	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return domain.BuzzEvent{}, err
	}
	buzz.ID = uuid.NewString()
	buzz.Seq = seq
	buzz.Order = 0
	buzz.CreatedAt = s.opts.Now().UTC().Truncate(time.Millisecond)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, buzzKey(buzz.RoomID, buzz.ID), buzzFields(buzz)...)
		pipe.ZAdd(ctx, buzzesKey(buzz.RoomID), redis.Z{Score: float64(seq), Member: buzz.ID})
		s.publish(ctx, pipe, domain.Change{Kind: domain.ChangeBuzzCreated, RoomID: buzz.RoomID, DocID: buzz.ID})
		return nil
	})
	if err != nil {
		return domain.BuzzEvent{}, err
	}
	return buzz, nil
}

func (s *Store) GetBuzz(ctx context.Context, roomID, buzzID string) (domain.BuzzEvent, error) {
	h, err := s.client.HGetAll(ctx, buzzKey(roomID, buzzID)).Result()
	if err != nil {
		return domain.BuzzEvent{}, err
	}
	if len(h) == 0 {
		return domain.BuzzEvent{}, domain.ErrBuzzNotFound
	}
	return decodeBuzz(h), nil
}

// RankBuzzes reads every buzz under WATCH on the room's buzz index and writes
// all orders in one EXEC. A buzz added meanwhile aborts the EXEC and the
// ranking is recomputed, so concurrent rankers converge on the same orders.
func (s *Store) RankBuzzes(ctx context.Context, roomID string) ([]domain.BuzzEvent, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	index := buzzesKey(roomID)
	for attempt := 0; attempt < maxRankAttempts; attempt++ {
		var ranked []domain.BuzzEvent
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.ZRange(ctx, index, 0, -1).Result()
			if err != nil {
				return err
			}
			ranked = make([]domain.BuzzEvent, 0, len(ids))
			for _, id := range ids {
				h, err := tx.HGetAll(ctx, buzzKey(roomID, id)).Result()
				if err != nil {
					return err
				}
				if len(h) > 0 {
					ranked = append(ranked, decodeBuzz(h))
				}
			}
			sort.Slice(ranked, func(i, j int) bool {
				if ranked[i].Timestamp != ranked[j].Timestamp {
					return ranked[i].Timestamp < ranked[j].Timestamp
				}
				return ranked[i].Seq < ranked[j].Seq
			})
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for i := range ranked {
					ranked[i].Order = i + 1
					pipe.HSet(ctx, buzzKey(roomID, ranked[i].ID), "order", i+1)
				}
				return nil
			})
			return err
		}, index)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return ranked, nil
	}
	return nil, redis.TxFailedErr
}
