package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions and users in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetSession retrieves a session by token. Returns (nil, nil) when the
// token is unknown.
func (s *Store) GetSession(ctx context.Context, token string) (*Session, error) {
	query := `
		SELECT s.token, s.user_id, u.role, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1
	`

	var sess Session
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&sess.Token,
		&sess.UserID,
		&sess.Role,
		&sess.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &sess, nil
}

// CreateSession issues a new session token for a user.
func (s *Store) CreateSession(ctx context.Context, userID string, lifetime time.Duration) (*Session, error) {
	query := `
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`

	sess := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(lifetime),
	}

	if _, err := s.db.ExecContext(ctx, query, sess.Token, sess.UserID, sess.ExpiresAt, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	role, err := s.UserRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.Role = role
	return sess, nil
}

// DeleteSession revokes a session token.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	query := `DELETE FROM sessions WHERE token = $1`
	if _, err := s.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// UserRole returns a user's comma-joined role string. Implements the
// permission checker's UserDirectory contract.
func (s *Store) UserRole(ctx context.Context, userID string) (string, error) {
	query := `SELECT role FROM users WHERE id = $1`

	var role string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("user not found: %s", userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user role: %w", err)
	}

	return role, nil
}

// RunMigrations creates the users and sessions schema if it does not exist.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			name VARCHAR(255),
			role VARCHAR(255) NOT NULL DEFAULT 'user',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS sessions (
			token VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run session migrations: %w", err)
	}
	return nil
}
