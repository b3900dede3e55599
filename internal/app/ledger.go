package app

import (
	"context"
	"sort"
	"time"

	"quizroom/internal/domain"
)

// ScoreLedger is the only code path allowed to touch score and answer
// counters. It never reads a score back before writing it.
type ScoreLedger struct {
	rooms  RoomStore
	points int
}

func NewScoreLedger(rooms RoomStore, points int) *ScoreLedger {
	if points <= 0 {
		points = DefaultAnswerPoints
	}
	return &ScoreLedger{rooms: rooms, points: points}
}

// DefaultAnswerPoints is the fixed award for a correct answer.
const DefaultAnswerPoints = 10

// Award applies the outcome of one finalized answer and returns the points granted.
func (l *ScoreLedger) Award(ctx context.Context, roomID, userID string, correct bool, at time.Time) (int, error) {
	points := 0
	if correct {
		points = l.points
	}
	if err := l.rooms.IncrementScore(ctx, roomID, userID, points, correct, at); err != nil {
		return 0, err
	}
	return points, nil
}

// Leaderboard orders players by score desc, then who reached it first, then name.
func (l *ScoreLedger) Leaderboard(ctx context.Context, roomID string, now time.Time) (domain.Leaderboard, []domain.Player, error) {
	players, err := l.rooms.ListPlayers(ctx, roomID)
	if err != nil {
		return domain.Leaderboard{}, nil, err
	}
	return buildLeaderboard(roomID, players, now), players, nil
}

func buildLeaderboard(roomID string, players []domain.Player, now time.Time) domain.Leaderboard {
	sorted := make([]domain.Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if !sorted[i].LastCorrectAt.Equal(sorted[j].LastCorrectAt) {
			return sorted[i].LastCorrectAt.Before(sorted[j].LastCorrectAt)
		}
		return sorted[i].DisplayName < sorted[j].DisplayName
	})

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		})
	}
	return domain.Leaderboard{RoomID: roomID, Entries: entries, UpdatedAt: now}
}
