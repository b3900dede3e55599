package app_test

import (
	"context"
	"testing"
	"time"

	"quizroom/internal/domain"
)

func TestSpamSuppression(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	for i := 0; i < 3; i++ {
		h.submit(t, room.ID, "u1", 0, 1)
		h.clock.Advance(time.Second)
	}
	h.drain(t)

	remaining := h.store.Answers(room.ID)
	if len(remaining) != 1 || !remaining[0].Finalized() {
		t.Fatalf("expected exactly one finalized submission, got %+v", remaining)
	}
	spam := h.sink.SecurityLogsOfType(domain.SecurityAnswerSpamDetected)
	if len(spam) < 1 {
		t.Fatalf("expected at least one spam entry")
	}
	if spam[0].Severity != domain.SeverityHigh {
		t.Fatalf("spam must be HIGH severity, got %s", spam[0].Severity)
	}
	if len(h.sink.Alerts()) < 1 {
		t.Fatalf("HIGH severity spam should raise an alert")
	}
	if p := h.player(t, room.ID, "u1"); p.Score != 10 || p.CorrectAnswers != 1 {
		t.Fatalf("expected a single award, got %+v", p)
	}
}

func TestSpamGuardRunsBeforeValidator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.liveRoom(t, "u1")

	first := h.submit(t, room.ID, "u1", 0, 1)
	second := h.submit(t, room.ID, "u1", 0, 1)

	// The later submission is judged first, by both handlers.
	if err := h.engine.SpamGuard.Handle(ctx, room.ID, second.ID); err != nil {
		t.Fatalf("spam guard: %v", err)
	}
	if err := h.engine.Validator.Handle(ctx, room.ID, second.ID); err != nil {
		t.Fatalf("validator: %v", err)
	}
	if err := h.engine.SpamGuard.Handle(ctx, room.ID, first.ID); err != nil {
		t.Fatalf("spam guard: %v", err)
	}
	if err := h.engine.Validator.Handle(ctx, room.ID, first.ID); err != nil {
		t.Fatalf("validator: %v", err)
	}

	remaining := h.store.Answers(room.ID)
	if len(remaining) != 1 || remaining[0].ID != first.ID || !remaining[0].Finalized() {
		t.Fatalf("expected only the first submission finalized, got %+v", remaining)
	}
}

func TestSubmissionsOutsideWindowAreNotSpam(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1", "u2")

	h.submit(t, room.ID, "u1", 0, 1)
	h.submit(t, room.ID, "u2", 0, 1)
	h.drain(t)

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityAnswerSpamDetected)); n != 0 {
		t.Fatalf("answers from different players are not spam, got %d entries", n)
	}
	if p := h.player(t, room.ID, "u2"); p.Score != 10 {
		t.Fatalf("expected u2 scored, got %+v", p)
	}
}

func TestValidatorRunsBeforeSpamGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.liveRoom(t, "u1")

	var subs []domain.AnswerSubmission
	for i := 0; i < 3; i++ {
		subs = append(subs, h.submit(t, room.ID, "u1", 0, 1))
		h.clock.Advance(time.Second)
	}
	for _, s := range subs {
		if err := h.engine.Validator.Handle(ctx, room.ID, s.ID); err != nil {
			t.Fatalf("validator: %v", err)
		}
	}
	for _, s := range subs {
		if err := h.engine.SpamGuard.Handle(ctx, room.ID, s.ID); err != nil {
			t.Fatalf("spam guard: %v", err)
		}
	}

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityAnswerSpamDetected)); n != 2 {
		t.Fatalf("expected one spam entry per repeated submission, got %d", n)
	}
	if n := len(h.sink.SecurityLogsOfType(domain.SecurityDuplicateAnswer)); n != 0 {
		t.Fatalf("repeats inside the window are spam, not duplicates, got %d", n)
	}
	remaining := h.store.Answers(room.ID)
	if len(remaining) != 1 || remaining[0].ID != subs[0].ID || !remaining[0].Finalized() {
		t.Fatalf("expected only the first submission finalized, got %+v", remaining)
	}
}

func TestSpamAttemptIsRecordedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.liveRoom(t, "u1")

	h.submit(t, room.ID, "u1", 0, 1)
	second := h.submit(t, room.ID, "u1", 0, 1)

	// Both handlers judge the repeat before either deletes it.
	sub, err := h.store.GetAnswer(ctx, room.ID, second.ID)
	if err != nil {
		t.Fatalf("get answer: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.engine.Security.RecordFor(ctx, sub.ID, domain.SecurityAnswerSpamDetected, map[string]any{"answerId": sub.ID}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := h.engine.Validator.Handle(ctx, room.ID, second.ID); err != nil {
		t.Fatalf("validator: %v", err)
	}

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityAnswerSpamDetected)); n != 1 {
		t.Fatalf("expected a single spam entry, got %d", n)
	}
	if n := len(h.sink.Alerts()); n != 1 {
		t.Fatalf("expected a single alert, got %d", n)
	}
}
