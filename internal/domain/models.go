package domain

import "time"

// RoomState is derived from the Room flags, never stored.
type RoomState string

const (
	StateWaiting           RoomState = "waiting"
	StateLive              RoomState = "live"
	StateFinished          RoomState = "finished"
	StateEmergencyShutdown RoomState = "emergency_shutdown"
)

// Question is immutable once the room is created.
type Question struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// PublicQuestion is what players see: the answer key is left out.
type PublicQuestion struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

func (q Question) Public() PublicQuestion {
	return PublicQuestion{Prompt: q.Prompt, Options: q.Options}
}

// CurrentQuestion is the question a live room is on.
type CurrentQuestion struct {
	QuestionIndex int            `json:"questionIndex"`
	QuestionCount int            `json:"questionCount"`
	Question      PublicQuestion `json:"question"`
	StartedAt     time.Time      `json:"startedAt"`
}

// Room is one live trivia session.
type Room struct {
	ID                   string     `json:"id"`
	HostID               string     `json:"hostId"`
	Questions            []Question `json:"questions,omitempty"`
	CurrentQuestionIndex int        `json:"currentQuestionIndex"`
	Started              bool       `json:"started"`
	Finished             bool       `json:"finished"`
	QuestionStartTime    time.Time  `json:"questionStartTime"`
	FinishedAt           time.Time  `json:"finishedAt"`
	EmergencyShutdown    bool       `json:"emergencyShutdown"`
	ShutdownReason       string     `json:"shutdownReason,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`

	// Listing metadata used by matchmaking.
	Public     bool     `json:"public"`
	Topics     []string `json:"topics,omitempty"`
	SkillLevel string   `json:"skillLevel,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
	MaxPlayers int      `json:"maxPlayers"`
}

// State reports the lifecycle state implied by the room flags.
func (r Room) State() RoomState {
	switch {
	case r.EmergencyShutdown:
		return StateEmergencyShutdown
	case r.Finished:
		return StateFinished
	case r.Started:
		return StateLive
	default:
		return StateWaiting
	}
}

// Player is a participant of a room. Counters only ever grow.
type Player struct {
	UserID           string    `json:"userId"`
	DisplayName      string    `json:"displayName"`
	Score            int       `json:"score"`
	CorrectAnswers   int       `json:"correctAnswers"`
	IncorrectAnswers int       `json:"incorrectAnswers"`
	JoinedAt         time.Time `json:"joinedAt"`
	LastCorrectAt    time.Time `json:"lastCorrectAt"`
}

// AnswerSubmission is written by a client and finalized once by the validator.
// Seq and SubmittedAt are stamped by the store on insert.
type AnswerSubmission struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId"`
	UserID        string    `json:"userId"`
	QuestionIndex int       `json:"questionIndex"`
	AnswerIndex   int       `json:"answerIndex"`
	Digest        string    `json:"digest"`
	SubmittedAt   time.Time `json:"submittedAt"`
	Seq           int64     `json:"seq"`

	Correct      bool      `json:"correct"`
	CorrectIndex int       `json:"correctIndex"`
	ValidatedAt  time.Time `json:"validatedAt"`
}

// Finalized reports whether the validator already stamped the submission.
func (a AnswerSubmission) Finalized() bool { return !a.ValidatedAt.IsZero() }

// BuzzEvent is a race-to-answer signal. Order is assigned by the sequencer.
type BuzzEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Timestamp int64     `json:"timestamp"` // client clock, unix millis
	Seq       int64     `json:"seq"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
}

// LeaderboardEntry is a snapshot-friendly view of a player.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomID    string             `json:"roomId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// RoomSummary is what matchmaking hands back to a requester.
type RoomSummary struct {
	ID          string   `json:"id"`
	Topics      []string `json:"topics"`
	SkillLevel  string   `json:"skillLevel"`
	Difficulty  string   `json:"difficulty"`
	PlayerCount int      `json:"playerCount"`
	MaxPlayers  int      `json:"maxPlayers"`
	Score       int      `json:"score"`
}
