package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quizroom/internal/domain"
)

// emitter appends room-scoped broadcast records. Delivery is at-least-once;
// a failed append is logged and never fails the calling transition.
type emitter struct {
	events EventStore
	logger *slog.Logger
}

func (e emitter) emit(ctx context.Context, roomID string, typ domain.EventType, payload any, at time.Time) error {
	err := e.events.AppendEvent(ctx, domain.Event{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Type:      typ,
		Payload:   payload,
		Timestamp: at,
	})
	if err != nil {
		e.logger.Error("append event failed",
			slog.String("room", roomID),
			slog.String("type", string(typ)),
			slog.Any("err", err))
	}
	return err
}
