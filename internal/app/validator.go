package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quizroom/internal/domain"
	"quizroom/internal/integrity"
)

// AnswerValidator judges each new submission exactly once. It is safe to run
// again on the same submission and tolerates the spam guard deleting it.
type AnswerValidator struct {
	answers   AnswerStore
	rooms     RoomStore
	questions QuestionRepository
	ledger    *ScoreLedger
	security  *SecurityLog
	spam      *SpamGuard
	verifier  *integrity.Verifier
	emitter   emitter
	logger    *slog.Logger
	now       func() time.Time
}

type ValidatorDeps struct {
	Answers   AnswerStore
	Rooms     RoomStore
	Events    EventStore
	Questions QuestionRepository
	Ledger    *ScoreLedger
	Security  *SecurityLog
	// Spam classifies repeats inside the spam window. Defaults to a guard
	// with DefaultSpamWindow.
	Spam     *SpamGuard
	Verifier *integrity.Verifier
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewAnswerValidator(deps ValidatorDeps) *AnswerValidator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	spam := deps.Spam
	if spam == nil {
		spam = NewSpamGuard(deps.Answers, deps.Security, DefaultSpamWindow, deps.Logger)
	}
	return &AnswerValidator{
		answers:   deps.Answers,
		rooms:     deps.Rooms,
		questions: deps.Questions,
		ledger:    deps.Ledger,
		security:  deps.Security,
		spam:      spam,
		verifier:  deps.Verifier,
		emitter:   emitter{events: deps.Events, logger: deps.Logger},
		logger:    deps.Logger,
		now:       now,
	}
}

// Handle validates rooms/{roomID}/answers/{answerID}. A returned error is
// transient and asks for redelivery; rejections return nil.
func (v *AnswerValidator) Handle(ctx context.Context, roomID, answerID string) error {
	sub, err := v.answers.GetAnswer(ctx, roomID, answerID)
	if errors.Is(err, domain.ErrSubmissionNotFound) {
		v.logger.Debug("answer gone before validation", slog.String("room", roomID), slog.String("answer", answerID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load answer: %w", err)
	}
	if sub.Finalized() {
		return nil
	}

	tuple := integrity.Tuple{
		RoomID:        sub.RoomID,
		UserID:        sub.UserID,
		QuestionIndex: sub.QuestionIndex,
		AnswerIndex:   sub.AnswerIndex,
	}
	if !v.verifier.VerifyAt(tuple, sub.Digest, receivedAt(sub, v.now)) {
		return v.reject(ctx, sub, domain.SecurityAnswerValidationError, "integrity digest mismatch")
	}

	room, err := v.rooms.GetRoom(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return v.answers.DeleteAnswer(ctx, roomID, answerID)
	}
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	if room.State() != domain.StateLive {
		return v.reject(ctx, sub, domain.SecurityAnswerRoomClosed, "room is "+string(room.State()))
	}

	questions, err := v.questions.GetQuestions(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	if sub.QuestionIndex < 0 || sub.QuestionIndex >= len(questions) || sub.QuestionIndex > room.CurrentQuestionIndex {
		return v.reject(ctx, sub, domain.SecurityInvalidQuestionAccess, "question index out of range")
	}

	if _, err := v.rooms.GetPlayer(ctx, roomID, sub.UserID); err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			return v.reject(ctx, sub, domain.SecurityUnknownPlayerAnswer, "user has not joined the room")
		}
		return fmt.Errorf("load player: %w", err)
	}

	spam, err := v.spam.suppress(ctx, sub)
	if err != nil {
		return err
	}
	if spam {
		return nil
	}
	prior, err := v.answers.CountPriorAnswers(ctx, roomID, sub.UserID, sub.QuestionIndex, sub.Seq, time.Time{})
	if err != nil {
		return fmt.Errorf("count prior answers: %w", err)
	}
	if prior > 0 {
		return v.reject(ctx, sub, domain.SecurityDuplicateAnswer, "question already answered")
	}
	holder, err := v.answers.ClaimAnswerSlot(ctx, roomID, sub.UserID, sub.QuestionIndex, sub.ID)
	if err != nil {
		return fmt.Errorf("claim answer slot: %w", err)
	}
	if holder != sub.ID {
		return v.reject(ctx, sub, domain.SecurityDuplicateAnswer, "question already answered")
	}

	question := questions[sub.QuestionIndex]
	correct := sub.AnswerIndex == question.CorrectIndex
	at := v.now()
	won, err := v.answers.FinalizeAnswer(ctx, roomID, sub.ID, correct, question.CorrectIndex, at)
	if err != nil {
		return fmt.Errorf("finalize answer: %w", err)
	}
	if !won {
		// Another delivery finalized it, or the spam guard removed it.
		return nil
	}

	points, err := v.ledger.Award(ctx, roomID, sub.UserID, correct, at)
	if err != nil {
		v.logger.Error("score increment failed after finalize",
			slog.String("room", roomID), slog.String("user", sub.UserID), slog.Any("err", err))
		return fmt.Errorf("award: %w", err)
	}

	_ = v.emitter.emit(ctx, roomID, domain.EventAnswerValidated, domain.AnswerValidatedPayload{
		UserID:        sub.UserID,
		QuestionIndex: sub.QuestionIndex,
		IsCorrect:     correct,
		Points:        points,
	}, at)
	return nil
}

func (v *AnswerValidator) reject(ctx context.Context, sub domain.AnswerSubmission, eventType, reason string) error {
	if _, err := v.security.RecordFor(ctx, sub.ID, eventType, submissionPayload(sub, reason)); err != nil {
		return err
	}
	if err := v.answers.DeleteAnswer(ctx, sub.RoomID, sub.ID); err != nil {
		return fmt.Errorf("delete rejected answer: %w", err)
	}
	return nil
}

// receivedAt is the server stamp of the submission, so a late redelivery is
// judged against the bucket the answer arrived in.
func receivedAt(sub domain.AnswerSubmission, now func() time.Time) time.Time {
	if sub.SubmittedAt.IsZero() {
		return now()
	}
	return sub.SubmittedAt
}

func submissionPayload(sub domain.AnswerSubmission, reason string) map[string]any {
	return map[string]any{
		"roomId":        sub.RoomID,
		"userId":        sub.UserID,
		"answerId":      sub.ID,
		"questionIndex": sub.QuestionIndex,
		"answerIndex":   sub.AnswerIndex,
		"reason":        reason,
	}
}
