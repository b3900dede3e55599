package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quizroom/internal/app"
	"quizroom/internal/domain"
)

func TestCreateRoomValidatesQuestions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := []app.RoomDraft{
		{},
		{Questions: []domain.Question{{Prompt: "q", Options: []string{"only"}}}},
		{Questions: []domain.Question{{Prompt: "q", Options: []string{"a", "b"}, CorrectIndex: 2}}},
		{Questions: []domain.Question{{Prompt: " ", Options: []string{"a", "b"}}}},
	}
	for i, draft := range bad {
		if _, err := h.engine.Rooms.CreateRoom(ctx, "host", draft); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("draft %d: expected validation error, got %v", i, err)
		}
	}

	room, err := h.engine.Rooms.CreateRoom(ctx, "host", app.RoomDraft{Questions: sampleQuestions()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(room.ID) != 6 || room.State() != domain.StateWaiting || room.CurrentQuestionIndex != -1 {
		t.Fatalf("unexpected room: %+v", room)
	}
}

func TestCreateRoomRetriesCodeCollision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	h.engine.Rooms.WithCodeGenerator(func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	})

	first, err := h.engine.Rooms.CreateRoom(ctx, "host", app.RoomDraft{Questions: sampleQuestions()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := h.engine.Rooms.CreateRoom(ctx, "host", app.RoomDraft{Questions: sampleQuestions()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != "AAAAAA" || second.ID != "BBBBBB" {
		t.Fatalf("unexpected codes %s %s", first.ID, second.ID)
	}
}

func TestJoinRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room, err := h.engine.Rooms.CreateRoom(ctx, "host", app.RoomDraft{Questions: sampleQuestions(), MaxPlayers: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := h.engine.Rooms.Join(ctx, room.ID, "u1", "Alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := h.engine.Rooms.Join(ctx, room.ID, "u2", "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := h.engine.Rooms.Join(ctx, room.ID, "u3", "Carol"); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("expected room full, got %v", err)
	}
	renamed, err := h.engine.Rooms.Join(ctx, room.ID, "u1", "Alicia")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if renamed.DisplayName != "Alicia" {
		t.Fatalf("rejoin should refresh the name, got %+v", renamed)
	}
	if n := len(eventsOfType(h.store.Events(room.ID), domain.EventPlayerJoined)); n != 2 {
		t.Fatalf("expected 2 PLAYER_JOINED events, got %d", n)
	}

	if _, err := h.engine.Lifecycle.Start(ctx, room.ID, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.engine.Rooms.Join(ctx, room.ID, "u4", "Dan"); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.liveRoom(t, "u1", "u2", "u3")

	h.submit(t, room.ID, "u2", 0, 1)
	h.drain(t)
	h.clock.Advance(time.Second)
	h.submit(t, room.ID, "u3", 0, 1)
	h.submit(t, room.ID, "u1", 0, 0)
	h.drain(t)

	lb, err := h.engine.Rooms.Leaderboard(ctx, room.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	order := []string{lb.Entries[0].UserID, lb.Entries[1].UserID, lb.Entries[2].UserID}
	if order[0] != "u2" || order[1] != "u3" || order[2] != "u1" {
		t.Fatalf("unexpected order %v", order)
	}
	if lb.Entries[0].Rank != 1 || lb.Entries[0].Score != 10 {
		t.Fatalf("unexpected leader entry %+v", lb.Entries[0])
	}
}

func TestSubscribeReceivesRoomEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.waitingRoom(t, "u1")

	ch, cancel, err := h.engine.Rooms.Subscribe(ctx, room.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := h.engine.Lifecycle.Start(ctx, room.ID, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Type != domain.EventQuizStarted {
			t.Fatalf("expected QUIZ_STARTED, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room, err := h.engine.Rooms.CreateRoom(ctx, "host", app.RoomDraft{Questions: sampleQuestions(), MaxPlayers: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Rooms.Join(ctx, room.ID, fmt.Sprintf("u%d", i), "player")
		}(i)
	}
	wg.Wait()

	joined := 0
	for _, err := range errs {
		switch {
		case err == nil:
			joined++
		case !errors.Is(err, domain.ErrRoomFull):
			t.Fatalf("expected room full, got %v", err)
		}
	}
	if joined != 1 {
		t.Fatalf("expected one seat taken, got %d", joined)
	}
	if n, _ := h.store.CountPlayers(ctx, room.ID); n != 1 {
		t.Fatalf("expected one stored player, got %d", n)
	}
}

func TestJoinAfterShutdownIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.waitingRoom(t, "u1")

	if _, err := h.engine.Lifecycle.EmergencyShutdown(ctx, room.ID, "admin-1", "abuse"); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := h.engine.Rooms.Join(ctx, room.ID, "u2", "Bob"); !errors.Is(err, domain.ErrRoomFinished) {
		t.Fatalf("expected finished, got %v", err)
	}
}
