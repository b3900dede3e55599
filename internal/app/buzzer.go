package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quizroom/internal/domain"
)

// BuzzerSequencer assigns arrival order to buzz events. Every arrival re-ranks
// the whole room, so orders converge to a permutation of 1..N even when
// deliveries interleave.
type BuzzerSequencer struct {
	buzzes  BuzzStore
	emitter emitter
	logger  *slog.Logger
	now     func() time.Time
}

func NewBuzzerSequencer(buzzes BuzzStore, events EventStore, logger *slog.Logger, now func() time.Time) *BuzzerSequencer {
	if now == nil {
		now = time.Now
	}
	return &BuzzerSequencer{buzzes: buzzes, emitter: emitter{events: events, logger: logger}, logger: logger, now: now}
}

func (b *BuzzerSequencer) Handle(ctx context.Context, roomID, buzzID string) error {
	if _, err := b.buzzes.GetBuzz(ctx, roomID, buzzID); err != nil {
		if errors.Is(err, domain.ErrBuzzNotFound) {
			return nil
		}
		return fmt.Errorf("load buzz: %w", err)
	}

	ranked, err := b.buzzes.RankBuzzes(ctx, roomID)
	if err != nil {
		return fmt.Errorf("rank buzzes: %w", err)
	}
	for _, buzz := range ranked {
		if buzz.ID != buzzID {
			continue
		}
		_ = b.emitter.emit(ctx, roomID, domain.EventBuzzerUpdate, domain.BuzzerUpdatePayload{
			BuzzID: buzz.ID,
			UserID: buzz.UserID,
			Order:  buzz.Order,
		}, b.now())
		return nil
	}
	return nil
}
