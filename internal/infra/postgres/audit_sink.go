package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizroom/internal/domain"
)

// AuditSink writes security, system and analytics records to Postgres.
// Records are append-only except user_stats, which is upserted.
type AuditSink struct {
	pool *pgxpool.Pool
}

func NewAuditSink(pool *pgxpool.Pool) *AuditSink {
	return &AuditSink{pool: pool}
}

func (s *AuditSink) AppendSecurityLog(ctx context.Context, entry domain.SecurityLogEntry) (bool, error) {
	payload, err := jsonText(entry.Payload)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO security_logs (id, type, severity, payload, created_at) VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.Type, string(entry.Severity), payload, entry.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert security log: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *AuditSink) AppendSystemLog(ctx context.Context, entry domain.SystemLogEntry) error {
	payload, err := jsonText(entry.Payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO system_logs (id, type, payload, created_at) VALUES ($1, $2, $3::jsonb, $4)`,
		entry.ID, entry.Type, payload, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert system log: %w", err)
	}
	return nil
}

func (s *AuditSink) CreateAlert(ctx context.Context, alert domain.Alert) (bool, error) {
	payload, err := jsonText(alert.Payload)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, security_log_id, type, severity, payload, notified, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		alert.ID, alert.SecurityID, alert.Type, string(alert.Severity), payload, alert.Notified, alert.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordCompletion is keyed by room, so a retried finish does not duplicate it.
func (s *AuditSink) RecordCompletion(ctx context.Context, completed domain.CompletedQuiz) error {
	leaderboard, err := jsonText(completed.Leaderboard)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO completed_quizzes (room_id, host_id, questions, emergency, leaderboard, completed_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 ON CONFLICT (room_id) DO NOTHING`,
		completed.RoomID, completed.HostID, completed.Questions, completed.Emergency, leaderboard, completed.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert completed quiz: %w", err)
	}
	return nil
}

func (s *AuditSink) BumpUserStats(ctx context.Context, player domain.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_stats (user_id, games_played, total_score, correct_answers, incorrect_answers, updated_at)
		 VALUES ($1, 1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   games_played      = user_stats.games_played + 1,
		   total_score       = user_stats.total_score + EXCLUDED.total_score,
		   correct_answers   = user_stats.correct_answers + EXCLUDED.correct_answers,
		   incorrect_answers = user_stats.incorrect_answers + EXCLUDED.incorrect_answers,
		   updated_at        = now()`,
		player.UserID, player.Score, player.CorrectAnswers, player.IncorrectAnswers)
	if err != nil {
		return fmt.Errorf("upsert user stats: %w", err)
	}
	return nil
}

// UserStats is one row of user_stats.
type UserStats struct {
	GamesPlayed      int
	TotalScore       int64
	CorrectAnswers   int
	IncorrectAnswers int
}

func (s *AuditSink) UserStats(ctx context.Context, userID string) (UserStats, error) {
	var st UserStats
	err := s.pool.QueryRow(ctx,
		`SELECT games_played, total_score, correct_answers, incorrect_answers FROM user_stats WHERE user_id=$1`,
		userID).Scan(&st.GamesPlayed, &st.TotalScore, &st.CorrectAnswers, &st.IncorrectAnswers)
	if err != nil {
		return UserStats{}, fmt.Errorf("load user stats: %w", err)
	}
	return st, nil
}

// CountSecurityLogs counts entries of one type.
func (s *AuditSink) CountSecurityLogs(ctx context.Context, eventType string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM security_logs WHERE type=$1`, eventType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count security logs: %w", err)
	}
	return n, nil
}

// PendingAlerts lists alerts the pager has not picked up yet, oldest first.
func (s *AuditSink) PendingAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, security_log_id, type, severity, payload, notified, created_at
		 FROM alerts WHERE NOT notified ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var (
			a        domain.Alert
			severity string
			payload  []byte
		)
		if err := rows.Scan(&a.ID, &a.SecurityID, &a.Type, &severity, &payload, &a.Notified, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = domain.Severity(severity)
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal alert payload: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func jsonText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}
