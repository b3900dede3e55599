package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"quizroom/internal/app"
	"quizroom/internal/domain"
	"quizroom/internal/infra/memory"
)

type flakyHandler struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyHandler) Handle(context.Context, string, string) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("store unavailable")
	}
	return nil
}

func TestReactorRedeliversOnTransientError(t *testing.T) {
	store := memory.NewStore()
	if err := store.CreateRoom(context.Background(), domain.Room{ID: "R1", HostID: "h"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	handler := &flakyHandler{}
	handler.failures.Store(2)

	reactor := app.NewReactor(store, 2, slog.New(slog.NewTextHandler(io.Discard, nil))).
		On(domain.ChangeBuzzCreated, handler)

	if _, err := store.AddBuzz(context.Background(), domain.BuzzEvent{RoomID: "R1", UserID: "u1"}); err != nil {
		t.Fatalf("buzz: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reactor.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for store.PendingChanges() > 0 || handler.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("change not settled: pending=%d calls=%d", store.PendingChanges(), handler.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := handler.calls.Load(); got != 3 {
		t.Fatalf("expected 2 failures then success, got %d calls", got)
	}
}
