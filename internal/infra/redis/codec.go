package redis

import (
	"encoding/json"
	"strconv"
	"time"

	"quizroom/internal/domain"
)

// Timestamps are stored as unix millis; an empty field is the zero time.
func millis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func fromMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func roomFields(room domain.Room) ([]any, error) {
	topics, err := json.Marshal(room.Topics)
	if err != nil {
		return nil, err
	}
	return []any{
		"host_id", room.HostID,
		"current_index", strconv.Itoa(room.CurrentQuestionIndex),
		"started", flag(room.Started),
		"finished", flag(room.Finished),
		"question_start", millis(room.QuestionStartTime),
		"finished_at", millis(room.FinishedAt),
		"emergency", flag(room.EmergencyShutdown),
		"reason", room.ShutdownReason,
		"created_at", millis(room.CreatedAt),
		"public", flag(room.Public),
		"topics", string(topics),
		"skill_level", room.SkillLevel,
		"difficulty", room.Difficulty,
		"max_players", strconv.Itoa(room.MaxPlayers),
	}, nil
}

func decodeRoom(id string, h map[string]string) domain.Room {
	room := domain.Room{
		ID:                   id,
		HostID:               h["host_id"],
		CurrentQuestionIndex: atoi(h["current_index"]),
		Started:              h["started"] == "1",
		Finished:             h["finished"] == "1",
		QuestionStartTime:    fromMillis(h["question_start"]),
		FinishedAt:           fromMillis(h["finished_at"]),
		EmergencyShutdown:    h["emergency"] == "1",
		ShutdownReason:       h["reason"],
		CreatedAt:            fromMillis(h["created_at"]),
		Public:               h["public"] == "1",
		SkillLevel:           h["skill_level"],
		Difficulty:           h["difficulty"],
		MaxPlayers:           atoi(h["max_players"]),
	}
	if raw := h["topics"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &room.Topics)
	}
	return room
}

func decodePlayer(h map[string]string) domain.Player {
	return domain.Player{
		UserID:           h["user_id"],
		DisplayName:      h["display_name"],
		Score:            atoi(h["score"]),
		CorrectAnswers:   atoi(h["correct"]),
		IncorrectAnswers: atoi(h["incorrect"]),
		JoinedAt:         fromMillis(h["joined_at"]),
		LastCorrectAt:    fromMillis(h["last_correct_at"]),
	}
}

func answerFields(a domain.AnswerSubmission) []any {
	return []any{
		"id", a.ID,
		"room_id", a.RoomID,
		"user_id", a.UserID,
		"question_index", strconv.Itoa(a.QuestionIndex),
		"answer_index", strconv.Itoa(a.AnswerIndex),
		"digest", a.Digest,
		"submitted_at", millis(a.SubmittedAt),
		"seq", strconv.FormatInt(a.Seq, 10),
	}
}

func decodeAnswer(h map[string]string) domain.AnswerSubmission {
	return domain.AnswerSubmission{
		ID:            h["id"],
		RoomID:        h["room_id"],
		UserID:        h["user_id"],
		QuestionIndex: atoi(h["question_index"]),
		AnswerIndex:   atoi(h["answer_index"]),
		Digest:        h["digest"],
		SubmittedAt:   fromMillis(h["submitted_at"]),
		Seq:           atoi64(h["seq"]),
		Correct:       h["correct"] == "1",
		CorrectIndex:  atoi(h["correct_index"]),
		ValidatedAt:   fromMillis(h["validated_at"]),
	}
}

func buzzFields(b domain.BuzzEvent) []any {
	return []any{
		"id", b.ID,
		"room_id", b.RoomID,
		"user_id", b.UserID,
		"timestamp", strconv.FormatInt(b.Timestamp, 10),
		"seq", strconv.FormatInt(b.Seq, 10),
		"order", "0",
		"created_at", millis(b.CreatedAt),
	}
}

func decodeBuzz(h map[string]string) domain.BuzzEvent {
	return domain.BuzzEvent{
		ID:        h["id"],
		RoomID:    h["room_id"],
		UserID:    h["user_id"],
		Timestamp: atoi64(h["timestamp"]),
		Seq:       atoi64(h["seq"]),
		Order:     atoi(h["order"]),
		CreatedAt: fromMillis(h["created_at"]),
	}
}
