package app

import (
	"log/slog"
	"time"

	"quizroom/internal/domain"
	"quizroom/internal/integrity"
)

// EngineConfig holds the tunables of the orchestration engine.
type EngineConfig struct {
	AnswerPoints  int
	SpamWindow    time.Duration
	DigestBuckets int
	Workers       int
	Sweeper       SweeperConfig
}

// Engine wires every component around one store.
type Engine struct {
	Rooms      *RoomService
	Lifecycle  *RoomLifecycle
	Validator  *AnswerValidator
	SpamGuard  *SpamGuard
	Buzzer     *BuzzerSequencer
	Ledger     *ScoreLedger
	Security   *SecurityLog
	Alerts     *AlertDispatcher
	Sweeper    *RetentionSweeper
	Matchmaker *Matchmaker
	Reactor    *Reactor
}

type EngineDeps struct {
	Store     Store
	Questions QuestionRepository
	Sink      AuditSink
	Roles     RoleDirectory
	Notifier  Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	questions := deps.Questions
	if questions == nil {
		questions = deps.Store
	}
	buckets := cfg.DigestBuckets
	if buckets <= 0 {
		buckets = 2
	}

	security := NewSecurityLog(deps.Sink, deps.Logger, now)
	alerts := NewAlertDispatcher(deps.Sink, deps.Notifier, deps.Logger, now)
	security.AddListener(alerts)

	ledger := NewScoreLedger(deps.Store, cfg.AnswerPoints)
	spam := NewSpamGuard(deps.Store, security, cfg.SpamWindow, deps.Logger)
	validator := NewAnswerValidator(ValidatorDeps{
		Answers:   deps.Store,
		Rooms:     deps.Store,
		Events:    deps.Store,
		Questions: questions,
		Ledger:    ledger,
		Security:  security,
		Spam:      spam,
		Verifier:  integrity.NewVerifierWithClock(buckets, now),
		Logger:    deps.Logger,
		Now:       now,
	})
	buzzer := NewBuzzerSequencer(deps.Store, deps.Store, deps.Logger, now)

	reactor := NewReactor(deps.Store, cfg.Workers, deps.Logger).
		On(domain.ChangeAnswerCreated, spam).
		On(domain.ChangeAnswerCreated, validator).
		On(domain.ChangeBuzzCreated, buzzer)

	return &Engine{
		Rooms: NewRoomService(deps.Store, ledger, deps.Logger, now),
		Lifecycle: NewRoomLifecycle(LifecycleDeps{
			Rooms:     deps.Store,
			Events:    deps.Store,
			Questions: questions,
			Roles:     deps.Roles,
			Sink:      deps.Sink,
			Security:  security,
			Ledger:    ledger,
			Logger:    deps.Logger,
			Now:       now,
		}),
		Validator:  validator,
		SpamGuard:  spam,
		Buzzer:     buzzer,
		Ledger:     ledger,
		Security:   security,
		Alerts:     alerts,
		Sweeper:    NewRetentionSweeper(deps.Store, deps.Sink, cfg.Sweeper, deps.Logger, now),
		Matchmaker: NewMatchmaker(deps.Store),
		Reactor:    reactor,
	}
}
