package domain

import (
	"strings"
	"time"
)

// EventType tags a room-scoped broadcast record.
type EventType string

const (
	EventPlayerJoined      EventType = "PLAYER_JOINED"
	EventQuizStarted       EventType = "QUIZ_STARTED"
	EventQuestionAdvanced  EventType = "QUESTION_ADVANCED"
	EventQuizFinished      EventType = "QUIZ_FINISHED"
	EventEmergencyShutdown EventType = "EMERGENCY_SHUTDOWN"
	EventAnswerValidated   EventType = "ANSWER_VALIDATED"
	EventBuzzerUpdate      EventType = "BUZZER_UPDATE"
)

// Event exists so passive listeners can render updates without re-reading the room.
type Event struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type AnswerValidatedPayload struct {
	UserID        string `json:"userId"`
	QuestionIndex int    `json:"questionIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	Points        int    `json:"points"`
}

type BuzzerUpdatePayload struct {
	BuzzID string `json:"buzzId"`
	UserID string `json:"userId"`
	Order  int    `json:"order"`
}

// QuestionPayload carries the revealed question so listeners can render it.
type QuestionPayload struct {
	QuestionIndex int            `json:"questionIndex"`
	QuestionCount int            `json:"questionCount"`
	Question      PublicQuestion `json:"question"`
	StartedAt     time.Time      `json:"startedAt"`
}

type PlayerJoinedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type FinishedPayload struct {
	Leaderboard Leaderboard `json:"leaderboard"`
	Emergency   bool        `json:"emergency"`
	Reason      string      `json:"reason,omitempty"`
}

// ChangeKind names the store mutation a Change reports.
type ChangeKind string

const (
	ChangeAnswerCreated ChangeKind = "answer_created"
	ChangeBuzzCreated   ChangeKind = "buzz_created"
)

// Change is one entry of the store change feed. Token identifies the delivery
// for Ack/Nack and is opaque to handlers.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	RoomID string     `json:"roomId"`
	DocID  string     `json:"docId"`
	Token  string     `json:"-"`
}

// Severity classifies security log entries.
type Severity string

const (
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Security event types.
const (
	SecurityAnswerValidationError = "ANSWER_VALIDATION_ERROR"
	SecurityInvalidQuestionAccess = "INVALID_QUESTION_ACCESS"
	SecurityAnswerSpamDetected    = "ANSWER_SPAM_DETECTED"
	SecurityDuplicateAnswer       = "DUPLICATE_ANSWER"
	SecurityAnswerRoomClosed      = "ANSWER_ROOM_CLOSED"
	SecurityUnknownPlayerAnswer   = "UNKNOWN_PLAYER_ANSWER"
	SecurityEmergencyShutdown     = "EMERGENCY_SHUTDOWN"
)

// SeverityFor derives severity from the type tag: SPAM or CHEAT means HIGH.
func SeverityFor(eventType string) Severity {
	upper := strings.ToUpper(eventType)
	if strings.Contains(upper, "SPAM") || strings.Contains(upper, "CHEAT") {
		return SeverityHigh
	}
	return SeverityMedium
}

// SecurityLogEntry is an append-only anomaly record.
type SecurityLogEntry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
}

// SystemLogEntry records operational summaries such as retention sweeps.
type SystemLogEntry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alert is created for every HIGH severity entry; paging flips Notified.
type Alert struct {
	ID         string         `json:"id"`
	SecurityID string         `json:"securityLogId"`
	Type       string         `json:"type"`
	Severity   Severity       `json:"severity"`
	Payload    map[string]any `json:"payload"`
	Notified   bool           `json:"notified"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// CompletedQuiz is the analytics record written when a room finishes.
type CompletedQuiz struct {
	RoomID      string      `json:"roomId"`
	HostID      string      `json:"hostId"`
	Questions   int         `json:"questions"`
	Emergency   bool        `json:"emergency"`
	Leaderboard Leaderboard `json:"leaderboard"`
	CompletedAt time.Time   `json:"completedAt"`
}
