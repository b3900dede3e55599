package app

import (
	"context"
	"time"

	"quizroom/internal/domain"
)

// RoomStore abstracts the replicated document store holding rooms/{roomId}
// and its players sub-collection. Every mutation is field scoped: either a
// conditional set evaluated at write time or an atomic increment.
type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room) error
	// GetRoom returns the room without questions.
	GetRoom(ctx context.Context, roomID string) (domain.Room, error)
	GetQuestions(ctx context.Context, roomID string) ([]domain.Question, error)

	// StartRoom sets started, currentQuestionIndex=0 and questionStartTime
	// only if started is still false; otherwise ErrAlreadyStarted.
	StartRoom(ctx context.Context, roomID string, at time.Time) error
	// AdvanceQuestion moves from index `from` to from+1 only while the room is
	// live and still on `from`; otherwise ErrStaleTransition or ErrRoomFinished.
	AdvanceQuestion(ctx context.Context, roomID string, from int, at time.Time) error
	// FinishRoom sets finished (and the shutdown flag/reason when emergency)
	// only if the room is not finished yet; otherwise ErrRoomFinished.
	FinishRoom(ctx context.Context, roomID string, at time.Time, emergency bool, reason string) error

	// AddPlayer inserts the player, or only refreshes the display name when
	// the user already joined. Counters are never reset. The room state and
	// maxPlayers are checked at write time: ErrAlreadyStarted,
	// ErrRoomFinished or ErrRoomFull.
	AddPlayer(ctx context.Context, roomID string, player domain.Player) (created bool, err error)
	GetPlayer(ctx context.Context, roomID, userID string) (domain.Player, error)
	ListPlayers(ctx context.Context, roomID string) ([]domain.Player, error)
	CountPlayers(ctx context.Context, roomID string) (int, error)
	// IncrementScore atomically adds points and bumps one of the answer counters.
	IncrementScore(ctx context.Context, roomID, userID string, points int, correct bool, at time.Time) error

	// ListFinishedBefore returns up to limit ids of finished rooms whose
	// finishedAt is strictly before cutoff.
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// DeleteRooms removes rooms with all sub-collections in one transaction.
	DeleteRooms(ctx context.Context, roomIDs []string) error
	// ListOpenPublicRooms returns public rooms that are neither started nor finished.
	ListOpenPublicRooms(ctx context.Context, difficulty string) ([]domain.Room, error)
}

// AnswerStore holds rooms/{roomId}/answers.
type AnswerStore interface {
	// AddAnswer stamps ID, Seq and SubmittedAt, stores the submission and
	// publishes ChangeAnswerCreated.
	AddAnswer(ctx context.Context, answer domain.AnswerSubmission) (domain.AnswerSubmission, error)
	GetAnswer(ctx context.Context, roomID, answerID string) (domain.AnswerSubmission, error)
	// DeleteAnswer is idempotent: deleting a missing answer is not an error.
	DeleteAnswer(ctx context.Context, roomID, answerID string) error
	// CountPriorAnswers counts submissions for (room, user, question) inserted
	// before seq whose SubmittedAt is not before since.
	CountPriorAnswers(ctx context.Context, roomID, userID string, questionIndex int, seq int64, since time.Time) (int, error)
	// ClaimAnswerSlot records answerID as the one scored answer for
	// (room, user, question). It returns the current holder of the slot.
	ClaimAnswerSlot(ctx context.Context, roomID, userID string, questionIndex int, answerID string) (holder string, err error)
	// FinalizeAnswer writes correct, correctIndex and validatedAt only if the
	// submission exists and is not validated yet. won is false otherwise.
	FinalizeAnswer(ctx context.Context, roomID, answerID string, correct bool, correctIndex int, at time.Time) (won bool, err error)
}

// BuzzStore holds rooms/{roomId}/buzzes.
type BuzzStore interface {
	AddBuzz(ctx context.Context, buzz domain.BuzzEvent) (domain.BuzzEvent, error)
	GetBuzz(ctx context.Context, roomID, buzzID string) (domain.BuzzEvent, error)
	// RankBuzzes orders every buzz of the room by (timestamp, seq), writes the
	// 1-based rank as order in one atomic step and returns the ranked list.
	RankBuzzes(ctx context.Context, roomID string) ([]domain.BuzzEvent, error)
}

// EventStore holds rooms/{roomId}/events and serves live listeners.
type EventStore interface {
	AppendEvent(ctx context.Context, event domain.Event) error
	// SubscribeEvents streams events appended after the call. The returned
	// cancel func releases the subscription.
	SubscribeEvents(ctx context.Context, roomID string) (<-chan domain.Event, func(), error)
}

// ChangeFeed delivers store mutations at least once.
type ChangeFeed interface {
	Next(ctx context.Context) (domain.Change, error)
	Ack(ctx context.Context, change domain.Change) error
	// Nack schedules the change for redelivery.
	Nack(ctx context.Context, change domain.Change) error
}

// Store is the full backing store contract.
type Store interface {
	RoomStore
	AnswerStore
	BuzzStore
	EventStore
	ChangeFeed
}

// AuditSink receives the write-only security, system and analytics records.
type AuditSink interface {
	// AppendSecurityLog and CreateAlert are keyed by ID: appending an ID that
	// is already stored is a no-op reporting inserted=false.
	AppendSecurityLog(ctx context.Context, entry domain.SecurityLogEntry) (inserted bool, err error)
	AppendSystemLog(ctx context.Context, entry domain.SystemLogEntry) error
	CreateAlert(ctx context.Context, alert domain.Alert) (inserted bool, err error)
	RecordCompletion(ctx context.Context, completed domain.CompletedQuiz) error
	// BumpUserStats adds one played game and the given counters to user-stats/{userId}.
	BumpUserStats(ctx context.Context, player domain.Player) error
}

// RoleDirectory is the administrator authorization policy.
type RoleDirectory interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// QuestionRepository serves the immutable question list of a room.
type QuestionRepository interface {
	GetQuestions(ctx context.Context, roomID string) ([]domain.Question, error)
}

// Notifier hands an alert to the out-of-band pager.
type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}
