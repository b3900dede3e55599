package app_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"quizroom/internal/app"
	"quizroom/internal/domain"
	"quizroom/internal/infra/memory"
	"quizroom/internal/integrity"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine *app.Engine
	store  *memory.Store
	sink   *memory.AuditSink
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewStoreWithClock(clock.Now)
	sink := memory.NewAuditSink()
	engine := app.NewEngine(app.EngineDeps{
		Store:     store,
		Questions: memory.NewQuestionCacheWithClock(store, time.Minute, clock.Now),
		Sink:      sink,
		Roles:     memory.NewStaticRoles("admin-1"),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       clock.Now,
	}, app.EngineConfig{DigestBuckets: 2})
	return &harness{engine: engine, store: store, sink: sink, clock: clock}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
		{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectIndex: 0},
	}
}

// liveRoom creates a room hosted by "host" with the given players and starts it.
func (h *harness) liveRoom(t *testing.T, players ...string) domain.Room {
	t.Helper()
	room := h.waitingRoom(t, players...)
	if _, err := h.engine.Lifecycle.Start(context.Background(), room.ID, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	room, err := h.store.GetRoom(context.Background(), room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	return room
}

func (h *harness) waitingRoom(t *testing.T, players ...string) domain.Room {
	t.Helper()
	ctx := context.Background()
	room, err := h.engine.Rooms.CreateRoom(ctx, "host", app.RoomDraft{Questions: sampleQuestions()})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, p := range players {
		if _, err := h.engine.Rooms.Join(ctx, room.ID, p, "name-"+p); err != nil {
			t.Fatalf("join %s: %v", p, err)
		}
	}
	return room
}

func (h *harness) submit(t *testing.T, roomID, userID string, questionIndex, answerIndex int) domain.AnswerSubmission {
	t.Helper()
	digest := integrity.DigestAt(integrity.Tuple{
		RoomID:        roomID,
		UserID:        userID,
		QuestionIndex: questionIndex,
		AnswerIndex:   answerIndex,
	}, h.clock.Now())
	sub, err := h.engine.Rooms.SubmitAnswer(context.Background(), roomID, userID, questionIndex, answerIndex, digest)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return sub
}

// drain delivers every queued change through the reactor.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; h.store.PendingChanges() > 0; i++ {
		if i > 100 {
			t.Fatalf("change feed did not drain")
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		change, err := h.store.Next(ctx)
		cancel()
		if err != nil {
			t.Fatalf("next change: %v", err)
		}
		h.engine.Reactor.Process(context.Background(), change)
	}
}

func (h *harness) player(t *testing.T, roomID, userID string) domain.Player {
	t.Helper()
	p, err := h.store.GetPlayer(context.Background(), roomID, userID)
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	return p
}

func eventsOfType(events []domain.Event, typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
