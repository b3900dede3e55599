package memory

import (
	"context"
	"sync"

	"quizroom/internal/domain"
)

// AuditSink keeps security, system and analytics records in memory.
type AuditSink struct {
	mu          sync.RWMutex
	security    []domain.SecurityLogEntry
	system      []domain.SystemLogEntry
	alerts      []domain.Alert
	completions []domain.CompletedQuiz
	stats       map[string]UserStats
}

// UserStats mirrors user-stats/{userId}.
type UserStats struct {
	GamesPlayed      int
	TotalScore       int
	CorrectAnswers   int
	IncorrectAnswers int
}

func NewAuditSink() *AuditSink {
	return &AuditSink{stats: make(map[string]UserStats)}
}

func (a *AuditSink) AppendSecurityLog(_ context.Context, entry domain.SecurityLogEntry) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.security {
		if e.ID == entry.ID {
			return false, nil
		}
	}
	a.security = append(a.security, entry)
	return true, nil
}

func (a *AuditSink) AppendSystemLog(_ context.Context, entry domain.SystemLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.system = append(a.system, entry)
	return nil
}

func (a *AuditSink) CreateAlert(_ context.Context, alert domain.Alert) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.alerts {
		if existing.ID == alert.ID {
			return false, nil
		}
	}
	a.alerts = append(a.alerts, alert)
	return true, nil
}

func (a *AuditSink) RecordCompletion(_ context.Context, completed domain.CompletedQuiz) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completions = append(a.completions, completed)
	return nil
}

func (a *AuditSink) BumpUserStats(_ context.Context, player domain.Player) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.stats[player.UserID]
	st.GamesPlayed++
	st.TotalScore += player.Score
	st.CorrectAnswers += player.CorrectAnswers
	st.IncorrectAnswers += player.IncorrectAnswers
	a.stats[player.UserID] = st
	return nil
}

func (a *AuditSink) SecurityLogs() []domain.SecurityLogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]domain.SecurityLogEntry(nil), a.security...)
}

// SecurityLogsOfType filters SecurityLogs by type tag.
func (a *AuditSink) SecurityLogsOfType(eventType string) []domain.SecurityLogEntry {
	var out []domain.SecurityLogEntry
	for _, e := range a.SecurityLogs() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (a *AuditSink) SystemLogs() []domain.SystemLogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]domain.SystemLogEntry(nil), a.system...)
}

func (a *AuditSink) Alerts() []domain.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]domain.Alert(nil), a.alerts...)
}

func (a *AuditSink) Completions() []domain.CompletedQuiz {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]domain.CompletedQuiz(nil), a.completions...)
}

func (a *AuditSink) UserStats(userID string) UserStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats[userID]
}

// StaticRoles is a RoleDirectory backed by a fixed admin list.
type StaticRoles struct {
	admins map[string]struct{}
}

func NewStaticRoles(adminIDs ...string) *StaticRoles {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &StaticRoles{admins: admins}
}

func (r *StaticRoles) IsAdmin(_ context.Context, userID string) (bool, error) {
	_, ok := r.admins[userID]
	return ok, nil
}
