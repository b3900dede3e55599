package app_test

import (
	"context"
	"fmt"
	"testing"

	"quizroom/internal/app"
	"quizroom/internal/domain"
)

func TestCompatibilityScore(t *testing.T) {
	tests := []struct {
		name string
		room app.RoomProfile
		req  app.MatchRequest
		want int
	}{
		{
			name: "skill, topic and fill ratio",
			room: app.RoomProfile{SkillLevel: "intermediate", Topics: []string{"algebra", "geometry"}, PlayerCount: 6, MaxPlayers: 10},
			req:  app.MatchRequest{SkillLevel: "intermediate", Topics: []string{"Algebra"}},
			want: 70,
		},
		{
			name: "nothing matches",
			room: app.RoomProfile{SkillLevel: "expert", Topics: []string{"history"}, PlayerCount: 1, MaxPlayers: 10},
			req:  app.MatchRequest{SkillLevel: "beginner", Topics: []string{"art"}},
			want: 0,
		},
		{
			name: "substring topic match",
			room: app.RoomProfile{Topics: []string{"World History"}, PlayerCount: 9, MaxPlayers: 10},
			req:  app.MatchRequest{Topics: []string{"history"}},
			want: 20,
		},
		{
			name: "capped at 100",
			room: app.RoomProfile{SkillLevel: "pro", Topics: []string{"a1", "a2", "a3", "a4"}, PlayerCount: 5, MaxPlayers: 10},
			req:  app.MatchRequest{SkillLevel: "pro", Topics: []string{"a"}},
			want: 100,
		},
		{
			name: "fill ratio bounds are inclusive",
			room: app.RoomProfile{PlayerCount: 3, MaxPlayers: 10},
			want: 20,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := app.CompatibilityScore(tt.room, tt.req); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestFindOptimalRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	create := func(id string, room domain.Room, players int) {
		room.ID = id
		room.HostID = "host"
		room.Questions = sampleQuestions()
		room.CurrentQuestionIndex = -1
		if err := h.store.CreateRoom(ctx, room); err != nil {
			t.Fatalf("create: %v", err)
		}
		for i := 0; i < players; i++ {
			if _, err := h.engine.Rooms.Join(ctx, id, fmt.Sprintf("%s-p%d", id, i), "p"); err != nil {
				t.Fatalf("join: %v", err)
			}
		}
	}
	create("BEST", domain.Room{Public: true, Difficulty: "medium", SkillLevel: "intermediate", Topics: []string{"algebra"}, MaxPlayers: 10}, 5)
	create("OKAY", domain.Room{Public: true, Difficulty: "medium", SkillLevel: "beginner", Topics: []string{"algebra"}, MaxPlayers: 10}, 5)
	create("PRIV", domain.Room{Public: false, Difficulty: "medium", SkillLevel: "intermediate", Topics: []string{"algebra"}, MaxPlayers: 10}, 5)
	create("HARD", domain.Room{Public: true, Difficulty: "hard", SkillLevel: "intermediate", Topics: []string{"algebra"}, MaxPlayers: 10}, 5)

	best, err := h.engine.Matchmaker.FindOptimalRoom(ctx, app.MatchRequest{
		SkillLevel: "intermediate",
		Topics:     []string{"algebra"},
		Difficulty: "medium",
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if best == nil || best.ID != "BEST" || best.Score != 70 {
		t.Fatalf("expected BEST with 70, got %+v", best)
	}

	none, err := h.engine.Matchmaker.FindOptimalRoom(ctx, app.MatchRequest{Difficulty: "impossible"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no room, got %+v", none)
	}
}
