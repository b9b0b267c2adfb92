package roles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLStore is the durable role store backed by Postgres.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a role store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// ListRoles returns all durable role rows with their raw statements.
func (s *SQLStore) ListRoles(ctx context.Context) ([]StoredRole, error) {
	query := `SELECT id, statements FROM roles ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []StoredRole
	for rows.Next() {
		var role StoredRole
		var statements string
		if err := rows.Scan(&role.ID, &statements); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.Statements = json.RawMessage(statements)
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// CreateRole persists a dynamic role definition. The registry picks it up
// on the next refresh or initialization pass.
func (s *SQLStore) CreateRole(ctx context.Context, id string, stmts Statements) error {
	data, err := json.Marshal(stmts.Normalize())
	if err != nil {
		return fmt.Errorf("failed to marshal statements: %w", err)
	}

	query := `
		INSERT INTO roles (id, statements, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`

	if _, err := s.db.ExecContext(ctx, query, id, string(data), time.Now()); err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// DeleteRole removes a durable role row. The admin role is code-defined
// and never stored, so it cannot be deleted here.
func (s *SQLStore) DeleteRole(ctx context.Context, id string) error {
	if id == AdminRoleID {
		return fmt.Errorf("cannot delete built-in role")
	}

	query := `DELETE FROM roles WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// RunMigrations creates the roles schema if it does not exist.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS roles (
			id VARCHAR(255) PRIMARY KEY,
			statements JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run roles migrations: %w", err)
	}
	return nil
}
