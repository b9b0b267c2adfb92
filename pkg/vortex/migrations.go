package vortex

import (
	"context"
	"database/sql"
	"fmt"
)

// RunMigrations creates the moderation tables if they do not exist.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS violations (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			moderator_id VARCHAR(64) NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			severity INTEGER NOT NULL,
			applicable_rules JSONB NOT NULL DEFAULT '[]',
			public_comment TEXT NOT NULL DEFAULT '',
			internal_note TEXT NOT NULL DEFAULT '',
			overturned BOOLEAN NOT NULL DEFAULT FALSE,
			expires_at TIMESTAMPTZ NOT NULL,
			external_status VARCHAR(32) NOT NULL DEFAULT 'approved',
			external_metadata TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_by VARCHAR(64) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_user ON violations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_moderator ON violations(moderator_id)`,
		`CREATE TABLE IF NOT EXISTS disputes (
			id VARCHAR(64) PRIMARY KEY,
			violation_id VARCHAR(64) NOT NULL UNIQUE REFERENCES violations(id),
			user_id VARCHAR(64) NOT NULL,
			reason TEXT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			justification TEXT NOT NULL DEFAULT '',
			reviewed_by VARCHAR(64) NOT NULL DEFAULT '',
			reviewed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_disputes_user ON disputes(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("moderation migration failed: %w", err)
		}
	}
	return nil
}
