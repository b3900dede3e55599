package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quizroom/internal/domain"
)

func (s *Store) AddAnswer(ctx context.Context, answer domain.AnswerSubmission) (domain.AnswerSubmission, error) {
	if err := s.requireRoom(ctx, answer.RoomID); err != nil {
		return domain.AnswerSubmission{}, err
	}
	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return domain.AnswerSubmission{}, err
	}
	answer.ID = uuid.NewString()
	answer.Seq = seq
	answer.SubmittedAt = s.opts.Now().UTC().Truncate(time.Millisecond)
	answer.Correct = false
	answer.ValidatedAt = time.Time{}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, answerKey(answer.RoomID, answer.ID), answerFields(answer)...)
		pipe.ZAdd(ctx, answersKey(answer.RoomID), redis.Z{Score: float64(seq), Member: answer.ID})
		s.publish(ctx, pipe, domain.Change{Kind: domain.ChangeAnswerCreated, RoomID: answer.RoomID, DocID: answer.ID})
		return nil
	})
	if err != nil {
		return domain.AnswerSubmission{}, err
	}
	return answer, nil
}

func (s *Store) GetAnswer(ctx context.Context, roomID, answerID string) (domain.AnswerSubmission, error) {
	h, err := s.client.HGetAll(ctx, answerKey(roomID, answerID)).Result()
	if err != nil {
		return domain.AnswerSubmission{}, err
	}
	if len(h) == 0 {
		return domain.AnswerSubmission{}, domain.ErrSubmissionNotFound
	}
	return decodeAnswer(h), nil
}

func (s *Store) DeleteAnswer(ctx context.Context, roomID, answerID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, answerKey(roomID, answerID))
		pipe.ZRem(ctx, answersKey(roomID), answerID)
		return nil
	})
	return err
}

func (s *Store) CountPriorAnswers(ctx context.Context, roomID, userID string, questionIndex int, seq int64, since time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, answersKey(roomID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(seq, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	hashes, err := s.hashes(ctx, ids, func(aid string) string { return answerKey(roomID, aid) })
	if err != nil {
		return 0, err
	}
	count := 0
	for _, h := range hashes {
		a := decodeAnswer(h)
		if a.UserID != userID || a.QuestionIndex != questionIndex {
			continue
		}
		if a.SubmittedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// ClaimAnswerSlot sets the slot only when empty and reads it back in the
// same transaction, so every caller sees the single winner.
func (s *Store) ClaimAnswerSlot(ctx context.Context, roomID, userID string, questionIndex int, answerID string) (string, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return "", err
	}
	field := slotField(userID, questionIndex)
	var holder *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, slotsKey(roomID), field, answerID)
		holder = pipe.HGet(ctx, slotsKey(roomID), field)
		return nil
	})
	if err != nil {
		return "", err
	}
	return holder.Val(), nil
}

func (s *Store) FinalizeAnswer(ctx context.Context, roomID, answerID string, correct bool, correctIndex int, at time.Time) (bool, error) {
	status, err := finalizeScript.Run(ctx, s.client,
		[]string{answerKey(roomID, answerID)}, flag(correct), correctIndex, millis(at)).Text()
	if err != nil {
		return false, err
	}
	return status == statusOK, nil
}

// Answers lists the stored submissions of a room in insertion order.
func (s *Store) Answers(ctx context.Context, roomID string) ([]domain.AnswerSubmission, error) {
	ids, err := s.client.ZRange(ctx, answersKey(roomID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	hashes, err := s.hashes(ctx, ids, func(aid string) string { return answerKey(roomID, aid) })
	if err != nil {
		return nil, err
	}
	out := make([]domain.AnswerSubmission, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, decodeAnswer(h))
	}
	return out, nil
}
