package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

const RoleAdmin = "admin"

// RoleDirectory resolves administrator rights from user_roles.
type RoleDirectory struct {
	pool *pgxpool.Pool
}

func NewRoleDirectory(pool *pgxpool.Pool) *RoleDirectory {
	return &RoleDirectory{pool: pool}
}

func (r *RoleDirectory) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id=$1 AND role=$2)`,
		userID, RoleAdmin).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("lookup role: %w", err)
	}
	return ok, nil
}

// Grant is idempotent.
func (r *RoleDirectory) Grant(ctx context.Context, userID, role string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, role)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}
