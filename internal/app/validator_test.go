package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizroom/internal/domain"
)

func TestCorrectAnswerIsScoredOnce(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	sub := h.submit(t, room.ID, "u1", 0, 1)
	h.drain(t)

	p := h.player(t, room.ID, "u1")
	if p.Score != 10 || p.CorrectAnswers != 1 || p.IncorrectAnswers != 0 {
		t.Fatalf("unexpected player after correct answer: %+v", p)
	}
	got, err := h.store.GetAnswer(context.Background(), room.ID, sub.ID)
	if err != nil {
		t.Fatalf("answer should remain: %v", err)
	}
	if !got.Correct || got.CorrectIndex != 1 || got.ValidatedAt.IsZero() {
		t.Fatalf("answer not finalized: %+v", got)
	}

	validated := eventsOfType(h.store.Events(room.ID), domain.EventAnswerValidated)
	if len(validated) != 1 {
		t.Fatalf("expected one ANSWER_VALIDATED, got %d", len(validated))
	}
	payload := validated[0].Payload.(domain.AnswerValidatedPayload)
	if payload.UserID != "u1" || !payload.IsCorrect || payload.Points != 10 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWrongAnswerCountsIncorrect(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	h.submit(t, room.ID, "u1", 0, 2)
	h.drain(t)

	p := h.player(t, room.ID, "u1")
	if p.Score != 0 || p.CorrectAnswers != 0 || p.IncorrectAnswers != 1 {
		t.Fatalf("unexpected player after wrong answer: %+v", p)
	}
}

func TestRedeliveryDoesNotDoubleScore(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")
	sub := h.submit(t, room.ID, "u1", 0, 1)

	const deliveries = 10
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.engine.Validator.Handle(context.Background(), room.ID, sub.ID); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := h.player(t, room.ID, "u1"); p.Score != 10 {
		t.Fatalf("expected exactly one award, got score %d", p.Score)
	}
	if n := len(eventsOfType(h.store.Events(room.ID), domain.EventAnswerValidated)); n != 1 {
		t.Fatalf("expected one ANSWER_VALIDATED event, got %d", n)
	}
}

func TestDigestMismatchIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	sub, err := h.engine.Rooms.SubmitAnswer(context.Background(), room.ID, "u1", 0, 1, "forgedDigest")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.drain(t)

	if _, err := h.store.GetAnswer(context.Background(), room.ID, sub.ID); err == nil {
		t.Fatalf("tampered submission should be deleted")
	}
	logs := h.sink.SecurityLogsOfType(domain.SecurityAnswerValidationError)
	if len(logs) != 1 || logs[0].Severity != domain.SeverityMedium {
		t.Fatalf("expected one MEDIUM validation error, got %+v", logs)
	}
	if p := h.player(t, room.ID, "u1"); p.Score != 0 || p.IncorrectAnswers != 0 {
		t.Fatalf("rejected answer must not touch the ledger: %+v", p)
	}
}

func TestStaleDigestIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	h.submit(t, room.ID, "u1", 0, 1)
	h.clock.Advance(25 * time.Second)
	h.drain(t)

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityAnswerValidationError)); n != 1 {
		t.Fatalf("expected stale digest rejection, got %d entries", n)
	}
}

func TestOutOfRangeQuestionIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	h.submit(t, room.ID, "u1", 5, 0)
	// Question 1 exists but has not been revealed yet.
	h.submit(t, room.ID, "u1", 1, 0)
	h.drain(t)

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityInvalidQuestionAccess)); n != 2 {
		t.Fatalf("expected two INVALID_QUESTION_ACCESS entries, got %d", n)
	}
	if len(h.store.Answers(room.ID)) != 0 {
		t.Fatalf("rejected submissions should be deleted")
	}
}

func TestAnswerAfterFinishIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")
	if _, err := h.engine.Lifecycle.Finish(context.Background(), room.ID, "host"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	h.submit(t, room.ID, "u1", 0, 1)
	h.drain(t)

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityAnswerRoomClosed)); n != 1 {
		t.Fatalf("expected ANSWER_ROOM_CLOSED, got %d", n)
	}
	if p := h.player(t, room.ID, "u1"); p.Score != 0 {
		t.Fatalf("closed room must not score, got %d", p.Score)
	}
}

func TestAnswerFromNonPlayerIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	h.submit(t, room.ID, "stranger", 0, 1)
	h.drain(t)

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityUnknownPlayerAnswer)); n != 1 {
		t.Fatalf("expected UNKNOWN_PLAYER_ANSWER, got %d", n)
	}
}

func TestDuplicateOutsideSpamWindowIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	h.submit(t, room.ID, "u1", 0, 1)
	h.drain(t)
	h.clock.Advance(45 * time.Second)
	h.submit(t, room.ID, "u1", 0, 2)
	h.drain(t)

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityDuplicateAnswer)); n != 1 {
		t.Fatalf("expected DUPLICATE_ANSWER, got %d", n)
	}
	if p := h.player(t, room.ID, "u1"); p.Score != 10 || p.IncorrectAnswers != 0 {
		t.Fatalf("duplicate must not change the ledger: %+v", p)
	}
}

func TestValidatorToleratesDeletedSubmission(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")
	sub := h.submit(t, room.ID, "u1", 0, 1)

	if err := h.store.DeleteAnswer(context.Background(), room.ID, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.engine.Validator.Handle(context.Background(), room.ID, sub.ID); err != nil {
		t.Fatalf("missing submission should be a no-op, got %v", err)
	}
	if err := h.engine.SpamGuard.Handle(context.Background(), room.ID, sub.ID); err != nil {
		t.Fatalf("missing submission should be a no-op for spam guard, got %v", err)
	}
}

func TestLateRedeliveryOfValidAnswerIsScored(t *testing.T) {
	h := newHarness(t)
	room := h.liveRoom(t, "u1")

	h.submit(t, room.ID, "u1", 0, 1)
	// The change sits in the feed well past the digest buckets, as after a
	// nack or an idle-delivery reclaim.
	h.clock.Advance(30 * time.Second)
	h.drain(t)

	if n := len(h.sink.SecurityLogsOfType(domain.SecurityAnswerValidationError)); n != 0 {
		t.Fatalf("valid answer judged late must not be flagged, got %d entries", n)
	}
	if p := h.player(t, room.ID, "u1"); p.Score != 10 || p.CorrectAnswers != 1 {
		t.Fatalf("expected award after late redelivery, got %+v", p)
	}
	remaining := h.store.Answers(room.ID)
	if len(remaining) != 1 || !remaining[0].Finalized() {
		t.Fatalf("expected the submission finalized, got %+v", remaining)
	}
}
