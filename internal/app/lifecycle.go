package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quizroom/internal/domain"
)

// RoomLifecycle owns the room state machine:
//
//	Waiting -> Live -> Finished
//	Waiting|Live -> EmergencyShutdown
//
// Races between concurrent callers are settled by conditional writes in the
// store, never by in-process locks.
type RoomLifecycle struct {
	rooms     RoomStore
	questions QuestionRepository
	roles     RoleDirectory
	sink      AuditSink
	security  *SecurityLog
	ledger    *ScoreLedger
	emitter   emitter
	logger    *slog.Logger
	now       func() time.Time
}

type LifecycleDeps struct {
	Rooms     RoomStore
	Events    EventStore
	Questions QuestionRepository
	Roles     RoleDirectory
	Sink      AuditSink
	Security  *SecurityLog
	Ledger    *ScoreLedger
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewRoomLifecycle(deps LifecycleDeps) *RoomLifecycle {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RoomLifecycle{
		rooms:     deps.Rooms,
		questions: deps.Questions,
		roles:     deps.Roles,
		sink:      deps.Sink,
		security:  deps.Security,
		ledger:    deps.Ledger,
		emitter:   emitter{events: deps.Events, logger: deps.Logger},
		logger:    deps.Logger,
		now:       now,
	}
}

// Start moves a waiting room to live. Of two concurrent starts exactly one
// wins; the other gets ErrAlreadyStarted from the store.
func (m *RoomLifecycle) Start(ctx context.Context, roomID, callerID string) (domain.Room, error) {
	room, err := m.hostRoom(ctx, roomID, callerID)
	if err != nil {
		return domain.Room{}, err
	}
	switch room.State() {
	case domain.StateLive:
		return domain.Room{}, domain.ErrAlreadyStarted
	case domain.StateFinished, domain.StateEmergencyShutdown:
		return domain.Room{}, domain.ErrRoomFinished
	}

	count, err := m.rooms.CountPlayers(ctx, roomID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("count players: %w", err)
	}
	if count < 1 {
		return domain.Room{}, domain.ErrNoPlayers
	}
	questions, err := m.questions.GetQuestions(ctx, roomID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("load questions: %w", err)
	}
	if len(questions) == 0 {
		return domain.Room{}, fmt.Errorf("%w: room has no questions", domain.ErrValidation)
	}

	at := m.now()
	if err := m.rooms.StartRoom(ctx, roomID, at); err != nil {
		return domain.Room{}, err
	}
	room.Started = true
	room.CurrentQuestionIndex = 0
	room.QuestionStartTime = at

	m.logger.Info("room started", slog.String("room", roomID), slog.Int("players", count))
	_ = m.emitter.emit(ctx, roomID, domain.EventQuizStarted, questionPayload(questions, 0, at), at)
	return room, nil
}

// NextQuestion advances a live room by one question.
func (m *RoomLifecycle) NextQuestion(ctx context.Context, roomID, callerID string) (domain.Room, error) {
	room, err := m.hostRoom(ctx, roomID, callerID)
	if err != nil {
		return domain.Room{}, err
	}
	if err := requireLive(room); err != nil {
		return domain.Room{}, err
	}

	questions, err := m.questions.GetQuestions(ctx, roomID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("load questions: %w", err)
	}
	next := room.CurrentQuestionIndex + 1
	if next >= len(questions) {
		return domain.Room{}, domain.ErrNoMoreQuestions
	}

	at := m.now()
	if err := m.rooms.AdvanceQuestion(ctx, roomID, room.CurrentQuestionIndex, at); err != nil {
		return domain.Room{}, err
	}
	room.CurrentQuestionIndex = next
	room.QuestionStartTime = at

	m.logger.Info("question advanced", slog.String("room", roomID), slog.Int("index", next))
	_ = m.emitter.emit(ctx, roomID, domain.EventQuestionAdvanced, questionPayload(questions, next, at), at)
	return room, nil
}

// Finish closes a live room for good.
func (m *RoomLifecycle) Finish(ctx context.Context, roomID, callerID string) (domain.Room, error) {
	room, err := m.hostRoom(ctx, roomID, callerID)
	if err != nil {
		return domain.Room{}, err
	}
	if err := requireLive(room); err != nil {
		return domain.Room{}, err
	}

	at := m.now()
	if err := m.rooms.FinishRoom(ctx, roomID, at, false, ""); err != nil {
		return domain.Room{}, err
	}
	room.Finished = true
	room.FinishedAt = at

	m.logger.Info("room finished", slog.String("room", roomID))
	m.complete(ctx, room, at)
	return room, nil
}

// EmergencyShutdown lets an administrator close a waiting or live room,
// bypassing host authorization.
func (m *RoomLifecycle) EmergencyShutdown(ctx context.Context, roomID, adminID, reason string) (domain.Room, error) {
	if adminID == "" {
		return domain.Room{}, domain.ErrNotAdmin
	}
	ok, err := m.roles.IsAdmin(ctx, adminID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("role lookup: %w", err)
	}
	if !ok {
		return domain.Room{}, domain.ErrNotAdmin
	}

	room, err := m.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.Finished {
		return domain.Room{}, domain.ErrRoomFinished
	}

	at := m.now()
	if err := m.rooms.FinishRoom(ctx, roomID, at, true, reason); err != nil {
		return domain.Room{}, err
	}
	room.Finished = true
	room.FinishedAt = at
	room.EmergencyShutdown = true
	room.ShutdownReason = reason

	if _, err := m.security.RecordWithSeverity(ctx, domain.SecurityEmergencyShutdown, domain.SeverityHigh, map[string]any{
		"roomId":  roomID,
		"adminId": adminID,
		"reason":  reason,
	}); err != nil {
		m.logger.Error("security log for shutdown failed", slog.String("room", roomID), slog.Any("err", err))
	}
	m.logger.Warn("room shut down", slog.String("room", roomID), slog.String("admin", adminID), slog.String("reason", reason))
	m.complete(ctx, room, at)
	return room, nil
}

// complete writes the analytics records and the final broadcast. Failures are
// logged: the room is already terminal.
func (m *RoomLifecycle) complete(ctx context.Context, room domain.Room, at time.Time) {
	lb, players, err := m.ledger.Leaderboard(ctx, room.ID, at)
	if err != nil {
		m.logger.Error("final leaderboard failed", slog.String("room", room.ID), slog.Any("err", err))
	}
	questions, err := m.questions.GetQuestions(ctx, room.ID)
	if err != nil {
		m.logger.Error("load questions for completion failed", slog.String("room", room.ID), slog.Any("err", err))
	}

	if err := m.sink.RecordCompletion(ctx, domain.CompletedQuiz{
		RoomID:      room.ID,
		HostID:      room.HostID,
		Questions:   len(questions),
		Emergency:   room.EmergencyShutdown,
		Leaderboard: lb,
		CompletedAt: at,
	}); err != nil {
		m.logger.Error("record completion failed", slog.String("room", room.ID), slog.Any("err", err))
	}
	for _, p := range players {
		if err := m.sink.BumpUserStats(ctx, p); err != nil {
			m.logger.Error("user stats failed", slog.String("user", p.UserID), slog.Any("err", err))
		}
	}

	typ := domain.EventQuizFinished
	if room.EmergencyShutdown {
		typ = domain.EventEmergencyShutdown
	}
	_ = m.emitter.emit(ctx, room.ID, typ, domain.FinishedPayload{
		Leaderboard: lb,
		Emergency:   room.EmergencyShutdown,
		Reason:      room.ShutdownReason,
	}, at)
}

func (m *RoomLifecycle) hostRoom(ctx context.Context, roomID, callerID string) (domain.Room, error) {
	room, err := m.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if callerID == "" || room.HostID != callerID {
		return domain.Room{}, domain.ErrNotHost
	}
	return room, nil
}

func questionPayload(questions []domain.Question, index int, at time.Time) domain.QuestionPayload {
	return domain.QuestionPayload{
		QuestionIndex: index,
		QuestionCount: len(questions),
		Question:      questions[index].Public(),
		StartedAt:     at,
	}
}

func requireLive(room domain.Room) error {
	switch room.State() {
	case domain.StateWaiting:
		return domain.ErrNotStarted
	case domain.StateFinished, domain.StateEmergencyShutdown:
		return domain.ErrRoomFinished
	}
	return nil
}
