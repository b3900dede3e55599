package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizroom/internal/domain"
)

// RoomDraft is the host's room creation request.
type RoomDraft struct {
	Questions  []domain.Question
	Public     bool
	Topics     []string
	SkillLevel string
	Difficulty string
	MaxPlayers int
}

// RoomService holds the client-facing writes: create, join, answer, buzz.
// Clients never supply correct, order or score: those are derived by the
// reactive handlers.
type RoomService struct {
	store   Store
	ledger  *ScoreLedger
	emitter emitter
	logger  *slog.Logger
	now     func() time.Time
	newCode func() string
}

func NewRoomService(store Store, ledger *ScoreLedger, logger *slog.Logger, now func() time.Time) *RoomService {
	if now == nil {
		now = time.Now
	}
	return &RoomService{
		store:   store,
		ledger:  ledger,
		emitter: emitter{events: store, logger: logger},
		logger:  logger,
		now:     now,
		newCode: newRoomCode,
	}
}

// WithCodeGenerator replaces the room code generator (tests).
func (s *RoomService) WithCodeGenerator(gen func() string) *RoomService {
	s.newCode = gen
	return s
}

func newRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

const maxCodeAttempts = 5

// CreateRoom validates the draft and stores a waiting room hosted by hostID.
func (s *RoomService) CreateRoom(ctx context.Context, hostID string, draft RoomDraft) (domain.Room, error) {
	if hostID == "" {
		return domain.Room{}, domain.ErrPermission
	}
	if err := validateDraft(draft); err != nil {
		return domain.Room{}, err
	}

	room := domain.Room{
		HostID:               hostID,
		Questions:            draft.Questions,
		CurrentQuestionIndex: -1,
		CreatedAt:            s.now(),
		Public:               draft.Public,
		Topics:               draft.Topics,
		SkillLevel:           draft.SkillLevel,
		Difficulty:           draft.Difficulty,
		MaxPlayers:           draft.MaxPlayers,
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		room.ID = s.newCode()
		err := s.store.CreateRoom(ctx, room)
		if err == nil {
			s.logger.Info("room created", slog.String("room", room.ID), slog.String("host", hostID), slog.Int("questions", len(room.Questions)))
			return room, nil
		}
		if !errors.Is(err, domain.ErrRoomExists) {
			return domain.Room{}, fmt.Errorf("create room: %w", err)
		}
	}
	return domain.Room{}, domain.ErrRoomExists
}

func validateDraft(draft RoomDraft) error {
	if len(draft.Questions) == 0 {
		return fmt.Errorf("%w: at least one question required", domain.ErrInvalidRoom)
	}
	for i, q := range draft.Questions {
		if strings.TrimSpace(q.Prompt) == "" {
			return fmt.Errorf("%w: question %d has no prompt", domain.ErrInvalidRoom, i)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %d needs at least two options", domain.ErrInvalidRoom, i)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("%w: question %d correct index out of range", domain.ErrInvalidRoom, i)
		}
	}
	if draft.MaxPlayers < 0 {
		return fmt.Errorf("%w: maxPlayers must not be negative", domain.ErrInvalidRoom)
	}
	return nil
}

// Join registers userID in a waiting room. Re-joining only refreshes the name.
func (s *RoomService) Join(ctx context.Context, roomID, userID, displayName string) (domain.Player, error) {
	if userID == "" {
		return domain.Player{}, domain.ErrPermission
	}
	if strings.TrimSpace(displayName) == "" {
		return domain.Player{}, fmt.Errorf("%w: display name required", domain.ErrValidation)
	}
	// State and capacity are enforced by the store at write time.
	at := s.now()
	created, err := s.store.AddPlayer(ctx, roomID, domain.Player{UserID: userID, DisplayName: displayName, JoinedAt: at})
	if err != nil {
		return domain.Player{}, fmt.Errorf("add player: %w", err)
	}
	if created {
		_ = s.emitter.emit(ctx, roomID, domain.EventPlayerJoined, domain.PlayerJoinedPayload{UserID: userID, DisplayName: displayName}, at)
	}
	return s.store.GetPlayer(ctx, roomID, userID)
}

// SubmitAnswer writes a raw submission. It is judged asynchronously by the
// spam guard and the answer validator.
func (s *RoomService) SubmitAnswer(ctx context.Context, roomID, userID string, questionIndex, answerIndex int, digest string) (domain.AnswerSubmission, error) {
	if userID == "" {
		return domain.AnswerSubmission{}, domain.ErrPermission
	}
	if questionIndex < 0 || answerIndex < 0 || digest == "" {
		return domain.AnswerSubmission{}, fmt.Errorf("%w: malformed answer submission", domain.ErrValidation)
	}
	return s.store.AddAnswer(ctx, domain.AnswerSubmission{
		RoomID:        roomID,
		UserID:        userID,
		QuestionIndex: questionIndex,
		AnswerIndex:   answerIndex,
		Digest:        digest,
	})
}

// Buzz records a race-to-answer signal for a player of a live room.
func (s *RoomService) Buzz(ctx context.Context, roomID, userID string, clientTimestamp int64) (domain.BuzzEvent, error) {
	if userID == "" {
		return domain.BuzzEvent{}, domain.ErrPermission
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.BuzzEvent{}, err
	}
	if err := requireLive(room); err != nil {
		return domain.BuzzEvent{}, err
	}
	if _, err := s.store.GetPlayer(ctx, roomID, userID); err != nil {
		return domain.BuzzEvent{}, err
	}
	return s.store.AddBuzz(ctx, domain.BuzzEvent{RoomID: roomID, UserID: userID, Timestamp: clientTimestamp})
}

// Room returns the room state without questions.
func (s *RoomService) Room(ctx context.Context, roomID string) (domain.Room, error) {
	return s.store.GetRoom(ctx, roomID)
}

// CurrentQuestion returns the question a live room is on, without its answer.
func (s *RoomService) CurrentQuestion(ctx context.Context, roomID string) (domain.CurrentQuestion, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.CurrentQuestion{}, err
	}
	if err := requireLive(room); err != nil {
		return domain.CurrentQuestion{}, err
	}
	questions, err := s.store.GetQuestions(ctx, roomID)
	if err != nil {
		return domain.CurrentQuestion{}, fmt.Errorf("load questions: %w", err)
	}
	if room.CurrentQuestionIndex < 0 || room.CurrentQuestionIndex >= len(questions) {
		return domain.CurrentQuestion{}, domain.ErrNoMoreQuestions
	}
	return domain.CurrentQuestion{
		QuestionIndex: room.CurrentQuestionIndex,
		QuestionCount: len(questions),
		Question:      questions[room.CurrentQuestionIndex].Public(),
		StartedAt:     room.QuestionStartTime,
	}, nil
}

// Leaderboard returns the current standings.
func (s *RoomService) Leaderboard(ctx context.Context, roomID string) (domain.Leaderboard, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return domain.Leaderboard{}, err
	}
	lb, _, err := s.ledger.Leaderboard(ctx, roomID, s.now())
	return lb, err
}

// Subscribe streams room events to a passive listener.
func (s *RoomService) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, nil, err
	}
	return s.store.SubscribeEvents(ctx, roomID)
}
