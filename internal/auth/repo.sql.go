package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian-books/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	RecordLogin(ctx context.Context, token string, userID int64, expiresAt time.Time, ip, ua string) error
	RecordLogout(ctx context.Context, token string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
SELECT id, email, name, password_hash, is_active, created_at, updated_at
FROM users
WHERE lower(email) = lower($1)`, email).
		Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// RecordLogin persists session metadata for auditing. The token itself lives
// in Redis; this row only tracks who logged in from where.
func (r *PGRepository) RecordLogin(ctx context.Context, token string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO sessions (token, user_id, created_at, expires_at, ip, ua)
VALUES ($1, $2, $3, $4, $5, $6)`,
		token, userID, time.Now().UTC(), expiresAt.UTC(), ip, ua)
	return err
}

// RecordLogout marks the session row as revoked.
func (r *PGRepository) RecordLogout(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE token = $2`, time.Now().UTC(), token)
	return err
}

var _ Repository = (*PGRepository)(nil)
