package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"quizroom/internal/domain"
)

// ChangeHandler reacts to one document of the change feed.
type ChangeHandler interface {
	Handle(ctx context.Context, roomID, docID string) error
}

// Reactor pulls changes off the feed and runs the handlers bound to each
// kind. Handlers for the same change run independently of each other; the
// change is acked only when all of them succeeded.
type Reactor struct {
	feed     ChangeFeed
	handlers map[domain.ChangeKind][]ChangeHandler
	workers  int
	logger   *slog.Logger
}

func NewReactor(feed ChangeFeed, workers int, logger *slog.Logger) *Reactor {
	if workers <= 0 {
		workers = 4
	}
	return &Reactor{
		feed:     feed,
		handlers: make(map[domain.ChangeKind][]ChangeHandler),
		workers:  workers,
		logger:   logger,
	}
}

// On binds h to kind.
func (r *Reactor) On(kind domain.ChangeKind, h ChangeHandler) *Reactor {
	r.handlers[kind] = append(r.handlers[kind], h)
	return r
}

// Run blocks until ctx is canceled.
func (r *Reactor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			r.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (r *Reactor) loop(ctx context.Context) {
	for {
		change, err := r.feed.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Error("change feed read failed", slog.Any("err", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.Process(ctx, change)
	}
}

// Process runs every handler for change and acks or nacks it.
func (r *Reactor) Process(ctx context.Context, change domain.Change) {
	handlers := r.handlers[change.Kind]
	if len(handlers) == 0 {
		r.logger.Warn("no handler for change", slog.String("kind", string(change.Kind)))
	}

	errs := make([]error, len(handlers))
	var g errgroup.Group
	for i, h := range handlers {
		g.Go(func() error {
			errs[i] = h.Handle(ctx, change.RoomID, change.DocID)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		r.logger.Error("change handling failed, scheduling redelivery",
			slog.String("kind", string(change.Kind)),
			slog.String("room", change.RoomID),
			slog.String("doc", change.DocID),
			slog.Any("err", err))
		if err := r.feed.Nack(ctx, change); err != nil {
			r.logger.Error("nack failed", slog.Any("err", err))
		}
		return
	}
	if err := r.feed.Ack(ctx, change); err != nil {
		r.logger.Error("ack failed", slog.Any("err", err))
	}
}
