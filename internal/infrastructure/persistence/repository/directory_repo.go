package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DirectoryRepository implements port.UserDirectory and port.DirectoryWriter
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// UsersWithRole returns user ids holding role, ascending
func (r *DirectoryRepository) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	return r.strings(ctx, `SELECT user_id FROM user_roles WHERE role = ? ORDER BY user_id ASC`, role)
}

// RolesOf returns the roles held by userID, ascending
func (r *DirectoryRepository) RolesOf(ctx context.Context, userID string) ([]string, error) {
	return r.strings(ctx, `SELECT role FROM user_roles WHERE user_id = ? ORDER BY role ASC`, userID)
}

func (r *DirectoryRepository) strings(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, arg)
	if err != nil {
		r.logger.Error("Failed to query directory", zap.String("arg", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to query directory: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan directory row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetUser returns a user with roles, or nil, nil when unknown
func (r *DirectoryRepository) GetUser(ctx context.Context, userID string) (*entity.User, error) {
	var u entity.User
	err := sqlite.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, email, lark_open_id FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Name, &u.Email, &u.LarkOpenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if u.Roles, err = r.RolesOf(ctx, userID); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser writes a user and replaces its role set
func (r *DirectoryRepository) UpsertUser(ctx context.Context, u *entity.User) error {
	conn := sqlite.Conn(ctx, r.db)
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO users (id, name, email, lark_open_id) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email, lark_open_id = excluded.lark_open_id`,
		u.ID, u.Name, u.Email, u.LarkOpenID); err != nil {
		r.logger.Error("Failed to upsert user", zap.String("user_id", u.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, u.ID); err != nil {
		return fmt.Errorf("failed to clear roles: %w", err)
	}
	for _, role := range u.Roles {
		if _, err := conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)`, u.ID, role); err != nil {
			return fmt.Errorf("failed to insert role %s: %w", role, err)
		}
	}
	return nil
}

// Verify interface compliance
var (
	_ port.UserDirectory   = (*DirectoryRepository)(nil)
	_ port.DirectoryWriter = (*DirectoryRepository)(nil)
)
