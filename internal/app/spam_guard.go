package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quizroom/internal/domain"
)

// DefaultSpamWindow is the trailing window for repeated submissions.
const DefaultSpamWindow = 30 * time.Second

// SpamGuard deletes every submission that is not the first one for its
// (room, user, question) inside the trailing window.
type SpamGuard struct {
	answers  AnswerStore
	security *SecurityLog
	window   time.Duration
	logger   *slog.Logger
}

func NewSpamGuard(answers AnswerStore, security *SecurityLog, window time.Duration, logger *slog.Logger) *SpamGuard {
	if window <= 0 {
		window = DefaultSpamWindow
	}
	return &SpamGuard{answers: answers, security: security, window: window, logger: logger}
}

func (g *SpamGuard) Handle(ctx context.Context, roomID, answerID string) error {
	sub, err := g.answers.GetAnswer(ctx, roomID, answerID)
	if errors.Is(err, domain.ErrSubmissionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load answer: %w", err)
	}
	if sub.Finalized() {
		// The scored answer is never the spam.
		return nil
	}
	_, err = g.suppress(ctx, sub)
	return err
}

// suppress deletes sub when an earlier submission for the same question
// arrived inside the window. The validator calls it too, so the verdict does
// not depend on which handler sees the submission first; the entry is keyed
// by submission and recorded once.
func (g *SpamGuard) suppress(ctx context.Context, sub domain.AnswerSubmission) (bool, error) {
	since := sub.SubmittedAt.Add(-g.window)
	prior, err := g.answers.CountPriorAnswers(ctx, sub.RoomID, sub.UserID, sub.QuestionIndex, sub.Seq, since)
	if err != nil {
		return false, fmt.Errorf("count prior answers: %w", err)
	}
	if prior == 0 {
		return false, nil
	}

	payload := submissionPayload(sub, "repeated submission inside spam window")
	payload["count"] = prior + 1
	payload["windowSeconds"] = int(g.window / time.Second)
	if _, err := g.security.RecordFor(ctx, sub.ID, domain.SecurityAnswerSpamDetected, payload); err != nil {
		return false, err
	}
	if err := g.answers.DeleteAnswer(ctx, sub.RoomID, sub.ID); err != nil {
		return false, fmt.Errorf("delete spam answer: %w", err)
	}
	g.logger.Info("spam answer suppressed", slog.String("room", sub.RoomID), slog.String("user", sub.UserID), slog.Int("count", prior+1))
	return true, nil
}
