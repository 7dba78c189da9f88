package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"go.uber.org/zap"
)

// DirectoryRepository implements port.UserDirectory and port.DirectoryWriter
type DirectoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(pool *pgxpool.Pool, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{pool: pool, logger: logger}
}

// UsersWithRole returns user ids holding role, ascending
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	return r.strings(ctx, `SELECT user_id FROM user_roles WHERE role = $1 ORDER BY user_id ASC`, role)
}

// RolesOf returns the roles held by userID, ascending
func (r *DirectoryRepository) RolesOf(ctx context.Context, userID string) ([]string, error) {
	return r.strings(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role ASC`, userID)
}

func (r *DirectoryRepository) strings(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := Conn(ctx, r.pool).Query(ctx, query, arg)
	if err != nil {
		r.logger.Error("Failed to query directory", zap.String("arg", arg), zap.Error(err))
		return nil, fmt.Errorf("query directory: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan directory rows: %w", err)
	}
	return out, nil
}

// GetUser returns a user with roles, or nil, nil when unknown
func (r *DirectoryRepository) GetUser(ctx context.Context, userID string) (*entity.User, error) {
	var u entity.User
	err := Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, email, lark_open_id FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.LarkOpenID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("query user: %w", err)
	}

	if u.Roles, err = r.RolesOf(ctx, userID); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser writes a user and replaces its role set
func (r *DirectoryRepository) UpsertUser(ctx context.Context, u *entity.User) error {
	conn := Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `
		INSERT INTO users (id, name, email, lark_open_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, lark_open_id = EXCLUDED.lark_open_id`,
		u.ID, u.Name, u.Email, u.LarkOpenID); err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", u.ID), zap.Error(err))
		return fmt.Errorf("upsert user: %w", err)
	}

	if _, err := conn.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, u.ID); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	for _, role := range u.Roles {
		if _, err := conn.Exec(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, u.ID, role); err != nil {
			return fmt.Errorf("insert role %s: %w", role, err)
		}
	}
	return nil
}

// Verify interface compliance
var (
	_ port.UserDirectory   = (*DirectoryRepository)(nil)
	_ port.DirectoryWriter = (*DirectoryRepository)(nil)
)
