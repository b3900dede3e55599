package app

import (
	"context"
	"fmt"
	"strings"

	"quizroom/internal/domain"
)

// MatchRequest is a requester's room preference.
type MatchRequest struct {
	SkillLevel string   `json:"skillLevel"`
	Topics     []string `json:"topics"`
	RoomSize   int      `json:"roomSize"`
	Difficulty string   `json:"difficulty"`
}

// RoomProfile is the part of a room the scorer looks at.
type RoomProfile struct {
	Topics      []string
	SkillLevel  string
	PlayerCount int
	MaxPlayers  int
}

const (
	skillMatchPoints = 30
	topicMatchPoints = 20
	fillRatioPoints  = 20
	maxMatchScore    = 100
)

// CompatibilityScore rates room against req in [0, 100].
func CompatibilityScore(room RoomProfile, req MatchRequest) int {
	score := 0
	if room.SkillLevel != "" && room.SkillLevel == req.SkillLevel {
		score += skillMatchPoints
	}
	for _, topic := range room.Topics {
		if topicMatches(topic, req.Topics) {
			score += topicMatchPoints
		}
	}
	if room.MaxPlayers > 0 {
		ratio := float64(room.PlayerCount) / float64(room.MaxPlayers)
		if ratio >= 0.3 && ratio <= 0.8 {
			score += fillRatioPoints
		}
	}
	return min(score, maxMatchScore)
}

func topicMatches(roomTopic string, wanted []string) bool {
	rt := strings.ToLower(roomTopic)
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(rt, w) {
			return true
		}
	}
	return false
}

// Matchmaker picks the best open public room for a requester.
type Matchmaker struct {
	rooms RoomStore
}

func NewMatchmaker(rooms RoomStore) *Matchmaker {
	return &Matchmaker{rooms: rooms}
}

// FindOptimalRoom returns nil when no candidate exists.
func (m *Matchmaker) FindOptimalRoom(ctx context.Context, req MatchRequest) (*domain.RoomSummary, error) {
	candidates, err := m.rooms.ListOpenPublicRooms(ctx, req.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("list public rooms: %w", err)
	}

	var best *domain.RoomSummary
	for _, room := range candidates {
		count, err := m.rooms.CountPlayers(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("count players: %w", err)
		}
		if room.MaxPlayers > 0 && count >= room.MaxPlayers {
			continue
		}
		summary := domain.RoomSummary{
			ID:          room.ID,
			Topics:      room.Topics,
			SkillLevel:  room.SkillLevel,
			Difficulty:  room.Difficulty,
			PlayerCount: count,
			MaxPlayers:  room.MaxPlayers,
			Score: CompatibilityScore(RoomProfile{
				Topics:      room.Topics,
				SkillLevel:  room.SkillLevel,
				PlayerCount: count,
				MaxPlayers:  room.MaxPlayers,
			}, req),
		}
		if best == nil || better(summary, *best, req.RoomSize) {
			s := summary
			best = &s
		}
	}
	return best, nil
}

// better breaks score ties by closeness to the requested room size, then id.
func better(a, b domain.RoomSummary, roomSize int) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if roomSize > 0 {
		da, db := abs(a.MaxPlayers-roomSize), abs(b.MaxPlayers-roomSize)
		if da != db {
			return da < db
		}
	}
	return a.ID < b.ID
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
