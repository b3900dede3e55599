package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizroom/internal/domain"
)

// Store is an in-process implementation of app.Store. Every method takes the
// store lock, so each call is one atomic document operation, which is the
// granularity the engine relies on.
type Store struct {
	mu    sync.RWMutex
	now   func() time.Time
	seq   int64
	rooms map[string]*roomDoc

	subsMu sync.Mutex
	subs   map[string]map[chan domain.Event]struct{}

	changes *changeQueue
}

type roomDoc struct {
	room      domain.Room
	questions []domain.Question
	players   map[string]*domain.Player
	answers   map[string]*domain.AnswerSubmission
	slots     map[string]string
	buzzes    map[string]*domain.BuzzEvent
	events    []domain.Event
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:     now,
		rooms:   make(map[string]*roomDoc),
		subs:    make(map[string]map[chan domain.Event]struct{}),
		changes: newChangeQueue(),
	}
}

func (s *Store) CreateRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return domain.ErrRoomExists
	}
	questions := room.Questions
	room.Questions = nil
	s.rooms[room.ID] = &roomDoc{
		room:      room,
		questions: questions,
		players:   make(map[string]*domain.Player),
		answers:   make(map[string]*domain.AnswerSubmission),
		slots:     make(map[string]string),
		buzzes:    make(map[string]*domain.BuzzEvent),
	}
	return nil
}

func (s *Store) GetRoom(_ context.Context, roomID string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return doc.room, nil
}

func (s *Store) GetQuestions(_ context.Context, roomID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := make([]domain.Question, len(doc.questions))
	copy(out, doc.questions)
	return out, nil
}

func (s *Store) StartRoom(_ context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if doc.room.Finished {
		return domain.ErrRoomFinished
	}
	if doc.room.Started {
		return domain.ErrAlreadyStarted
	}
	doc.room.Started = true
	doc.room.CurrentQuestionIndex = 0
	doc.room.QuestionStartTime = at
	return nil
}

func (s *Store) AdvanceQuestion(_ context.Context, roomID string, from int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	switch {
	case doc.room.Finished:
		return domain.ErrRoomFinished
	case !doc.room.Started:
		return domain.ErrNotStarted
	case doc.room.CurrentQuestionIndex != from:
		return domain.ErrStaleTransition
	case from+1 >= len(doc.questions):
		return domain.ErrNoMoreQuestions
	}
	doc.room.CurrentQuestionIndex = from + 1
	doc.room.QuestionStartTime = at
	return nil
}

func (s *Store) FinishRoom(_ context.Context, roomID string, at time.Time, emergency bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if doc.room.Finished {
		return domain.ErrRoomFinished
	}
	if !emergency && !doc.room.Started {
		return domain.ErrNotStarted
	}
	doc.room.Finished = true
	doc.room.FinishedAt = at
	if emergency {
		doc.room.EmergencyShutdown = true
		doc.room.ShutdownReason = reason
	}
	return nil
}

func (s *Store) AddPlayer(_ context.Context, roomID string, player domain.Player) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	switch {
	case doc.room.Finished:
		return false, domain.ErrRoomFinished
	case doc.room.Started:
		return false, domain.ErrAlreadyStarted
	}
	if existing, ok := doc.players[player.UserID]; ok {
		existing.DisplayName = player.DisplayName
		return false, nil
	}
	if doc.room.MaxPlayers > 0 && len(doc.players) >= doc.room.MaxPlayers {
		return false, domain.ErrRoomFull
	}
	p := domain.Player{UserID: player.UserID, DisplayName: player.DisplayName, JoinedAt: player.JoinedAt}
	doc.players[player.UserID] = &p
	return true, nil
}

func (s *Store) GetPlayer(_ context.Context, roomID, userID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.Player{}, domain.ErrRoomNotFound
	}
	p, ok := doc.players[userID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return *p, nil
}

func (s *Store) ListPlayers(_ context.Context, roomID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	out := make([]domain.Player, 0, len(doc.players))
	for _, p := range doc.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) CountPlayers(_ context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return 0, domain.ErrRoomNotFound
	}
	return len(doc.players), nil
}

func (s *Store) IncrementScore(_ context.Context, roomID, userID string, points int, correct bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	p, ok := doc.players[userID]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	p.Score += points
	if correct {
		p.CorrectAnswers++
		p.LastCorrectAt = at
	} else {
		p.IncorrectAnswers++
	}
	return nil
}

func (s *Store) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type candidate struct {
		id string
		at time.Time
	}
	var found []candidate
	for id, doc := range s.rooms {
		if doc.room.Finished && doc.room.FinishedAt.Before(cutoff) {
			found = append(found, candidate{id: id, at: doc.room.FinishedAt})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]string, 0, len(found))
	for _, c := range found {
		ids = append(ids, c.id)
	}
	return ids, nil
}

func (s *Store) DeleteRooms(_ context.Context, roomIDs []string) error {
	s.mu.Lock()
	for _, id := range roomIDs {
		delete(s.rooms, id)
	}
	s.mu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, id := range roomIDs {
		for ch := range s.subs[id] {
			close(ch)
		}
		delete(s.subs, id)
	}
	return nil
}

func (s *Store) ListOpenPublicRooms(_ context.Context, difficulty string) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Room
	for _, doc := range s.rooms {
		r := doc.room
		if !r.Public || r.Started || r.Finished {
			continue
		}
		if difficulty != "" && r.Difficulty != difficulty {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddAnswer(_ context.Context, answer domain.AnswerSubmission) (domain.AnswerSubmission, error) {
	s.mu.Lock()
	doc, ok := s.rooms[answer.RoomID]
	if !ok {
		s.mu.Unlock()
		return domain.AnswerSubmission{}, domain.ErrRoomNotFound
	}
	s.seq++
	answer.ID = uuid.NewString()
	answer.Seq = s.seq
	answer.SubmittedAt = s.now()
	answer.Correct = false
	answer.ValidatedAt = time.Time{}
	stored := answer
	doc.answers[answer.ID] = &stored
	s.mu.Unlock()

	s.changes.push(domain.Change{Kind: domain.ChangeAnswerCreated, RoomID: answer.RoomID, DocID: answer.ID})
	return answer, nil
}

func (s *Store) GetAnswer(_ context.Context, roomID, answerID string) (domain.AnswerSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.AnswerSubmission{}, domain.ErrSubmissionNotFound
	}
	a, ok := doc.answers[answerID]
	if !ok {
		return domain.AnswerSubmission{}, domain.ErrSubmissionNotFound
	}
	return *a, nil
}

func (s *Store) DeleteAnswer(_ context.Context, roomID, answerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.rooms[roomID]; ok {
		delete(doc.answers, answerID)
	}
	return nil
}

func (s *Store) CountPriorAnswers(_ context.Context, roomID, userID string, questionIndex int, seq int64, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return 0, nil
	}
	count := 0
	for _, a := range doc.answers {
		if a.UserID != userID || a.QuestionIndex != questionIndex || a.Seq >= seq {
			continue
		}
		if a.SubmittedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) ClaimAnswerSlot(_ context.Context, roomID, userID string, questionIndex int, answerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	key := slotKey(userID, questionIndex)
	if holder, ok := doc.slots[key]; ok {
		return holder, nil
	}
	doc.slots[key] = answerID
	return answerID, nil
}

func slotKey(userID string, questionIndex int) string {
	return userID + ":" + strconv.Itoa(questionIndex)
}

func (s *Store) FinalizeAnswer(_ context.Context, roomID, answerID string, correct bool, correctIndex int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	a, ok := doc.answers[answerID]
	if !ok || a.Finalized() {
		return false, nil
	}
	a.Correct = correct
	a.CorrectIndex = correctIndex
	a.ValidatedAt = at
	return true, nil
}

// Answers lists the stored submissions of a room ordered by insertion.
func (s *Store) Answers(roomID string) []domain.AnswerSubmission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.AnswerSubmission, 0, len(doc.answers))
	for _, a := range doc.answers {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *Store) AddBuzz(_ context.Context, buzz domain.BuzzEvent) (domain.BuzzEvent, error) {
	s.mu.Lock()
	doc, ok := s.rooms[buzz.RoomID]
	if !ok {
		s.mu.Unlock()
		return domain.BuzzEvent{}, domain.ErrRoomNotFound
	}
	s.seq++
	buzz.ID = uuid.NewString()
	buzz.Seq = s.seq
	buzz.Order = 0
	buzz.CreatedAt = s.now()
	stored := buzz
	doc.buzzes[buzz.ID] = &stored
	s.mu.Unlock()

	s.changes.push(domain.Change{Kind: domain.ChangeBuzzCreated, RoomID: buzz.RoomID, DocID: buzz.ID})
	return buzz, nil
}

func (s *Store) GetBuzz(_ context.Context, roomID, buzzID string) (domain.BuzzEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return domain.BuzzEvent{}, domain.ErrBuzzNotFound
	}
	b, ok := doc.buzzes[buzzID]
	if !ok {
		return domain.BuzzEvent{}, domain.ErrBuzzNotFound
	}
	return *b, nil
}

func (s *Store) RankBuzzes(_ context.Context, roomID string) ([]domain.BuzzEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	ranked := make([]*domain.BuzzEvent, 0, len(doc.buzzes))
	for _, b := range doc.buzzes {
		ranked = append(ranked, b)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Timestamp != ranked[j].Timestamp {
			return ranked[i].Timestamp < ranked[j].Timestamp
		}
		return ranked[i].Seq < ranked[j].Seq
	})
	out := make([]domain.BuzzEvent, 0, len(ranked))
	for i, b := range ranked {
		b.Order = i + 1
		out = append(out, *b)
	}
	return out, nil
}

func (s *Store) AppendEvent(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	doc, ok := s.rooms[event.RoomID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	doc.events = append(doc.events, event)
	s.mu.Unlock()

	s.broadcast(event)
	return nil
}

// Events returns the room event feed in append order.
func (s *Store) Events(roomID string) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.Event, len(doc.events))
	copy(out, doc.events)
	return out
}

func (s *Store) SubscribeEvents(_ context.Context, roomID string) (<-chan domain.Event, func(), error) {
	s.mu.RLock()
	_, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}

	ch := make(chan domain.Event, 16)
	s.subsMu.Lock()
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[chan domain.Event]struct{})
	}
	s.subs[roomID][ch] = struct{}{}
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[roomID][ch]; ok {
			delete(s.subs[roomID], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (s *Store) broadcast(event domain.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs[event.RoomID] {
		select {
		case ch <- event:
		default:
			// Slow listener: drop the oldest event rather than block writers.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func (s *Store) Next(ctx context.Context) (domain.Change, error) {
	return s.changes.next(ctx)
}

func (s *Store) Ack(_ context.Context, change domain.Change) error {
	s.changes.ack(change)
	return nil
}

func (s *Store) Nack(_ context.Context, change domain.Change) error {
	s.changes.nack(change)
	return nil
}

// PendingChanges reports queued plus in-flight deliveries.
func (s *Store) PendingChanges() int {
	return s.changes.pending()
}
