package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"quizroom/internal/config"
)

// NewSweepCmd runs one retention pass, for use from an external scheduler.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete finished rooms older than the retention cutoff once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), *configPath)
		},
	}
}

func runSweep(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	deleted, err := rt.engine.Sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep finished", slog.Int("deleted", deleted))
	return nil
}
