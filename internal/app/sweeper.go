package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quizroom/internal/domain"
)

// SweeperConfig controls the retention job.
type SweeperConfig struct {
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
	ChunkSize int
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10
	}
	return c
}

// RetentionSweeper purges finished rooms older than the cutoff. Unfinished
// rooms are never touched regardless of age.
type RetentionSweeper struct {
	rooms  RoomStore
	sink   AuditSink
	cfg    SweeperConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewRetentionSweeper(rooms RoomStore, sink AuditSink, cfg SweeperConfig, logger *slog.Logger, now func() time.Time) *RetentionSweeper {
	if now == nil {
		now = time.Now
	}
	return &RetentionSweeper{rooms: rooms, sink: sink, cfg: cfg.withDefaults(), logger: logger, now: now}
}

// Run sweeps every interval until ctx is canceled.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("retention sweep failed", slog.Any("err", err))
			}
		}
	}
}

// Sweep deletes one bounded batch and returns how many rooms were removed.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	ids, err := s.rooms.ListFinishedBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired rooms: %w", err)
	}

	deleted := 0
	var sweepErr error
	for start := 0; start < len(ids); start += s.cfg.ChunkSize {
		end := min(start+s.cfg.ChunkSize, len(ids))
		if err := s.rooms.DeleteRooms(ctx, ids[start:end]); err != nil {
			sweepErr = fmt.Errorf("delete rooms: %w", err)
			break
		}
		deleted += end - start
	}

	if err := s.sink.AppendSystemLog(ctx, domain.SystemLogEntry{
		ID:   uuid.NewString(),
		Type: "ROOM_CLEANUP",
		Payload: map[string]any{
			"count":  deleted,
			"cutoff": cutoff.UTC().Format(time.RFC3339),
		},
		Timestamp: s.now(),
	}); err != nil {
		s.logger.Error("cleanup summary failed", slog.Any("err", err))
	}
	s.logger.Info("retention sweep done", slog.Int("deleted", deleted), slog.Time("cutoff", cutoff))
	return deleted, sweepErr
}
