package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"quizroom/internal/config"
	"quizroom/internal/infra/postgres"
)

// NewGrantAdminCmd grants the administrator role used by emergency shutdown.
func NewGrantAdminCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-admin <user-id>",
		Short: "Grant the administrator role to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return grantAdmin(cmd.Context(), *configPath, args[0])
		},
	}
}

func grantAdmin(ctx context.Context, configPath, userID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured; list admins under auth.admins instead")
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.NewRoleDirectory(pool).Grant(ctx, userID, postgres.RoleAdmin); err != nil {
		return err
	}
	newLogger().Info("admin granted", slog.String("user", userID))
	return nil
}
