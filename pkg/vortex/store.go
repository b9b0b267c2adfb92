package vortex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store persists violations and disputes in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a moderation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// sortColumns whitelists sortable violation columns. Anything outside the
// map falls back to created_at.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"severity":   "severity",
	"expires_at": "expires_at",
}

func orderClause(sortBy, direction string) string {
	col, ok := sortColumns[sortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(direction, "asc") {
		dir = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s", col, dir)
}

const violationColumns = `id, user_id, moderator_id, content, severity, applicable_rules,
	public_comment, internal_note, overturned, expires_at, external_status,
	external_metadata, created_at, updated_at, updated_by`

func scanViolation(row interface{ Scan(...interface{}) error }) (*Violation, error) {
	var v Violation
	var rules []byte
	err := row.Scan(&v.ID, &v.UserID, &v.ModeratorID, &v.Content, &v.Severity, &rules,
		&v.PublicComment, &v.InternalNote, &v.Overturned, &v.ExpiresAt, &v.ExternalStatus,
		&v.ExternalMetadata, &v.CreatedAt, &v.UpdatedAt, &v.UpdatedBy)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &v.ApplicableRules); err != nil {
			return nil, fmt.Errorf("decode applicable_rules for %s: %w", v.ID, err)
		}
	}
	if v.ApplicableRules == nil {
		v.ApplicableRules = []string{}
	}
	return &v, nil
}

// CreateViolation inserts a new violation row.
func (s *Store) CreateViolation(ctx context.Context, v *Violation) error {
	rules, err := json.Marshal(v.ApplicableRules)
	if err != nil {
		return fmt.Errorf("encode applicable_rules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO violations (id, user_id, moderator_id, content, severity,
			applicable_rules, public_comment, internal_note, overturned,
			expires_at, external_status, external_metadata, created_at,
			updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		v.ID, v.UserID, v.ModeratorID, v.Content, v.Severity, rules,
		v.PublicComment, v.InternalNote, v.Overturned, v.ExpiresAt,
		v.ExternalStatus, v.ExternalMetadata, v.CreatedAt, v.UpdatedAt, v.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// GetViolation fetches one violation by id. Returns (nil, nil) when the
// row does not exist.
func (s *Store) GetViolation(ctx context.Context, id string) (*Violation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+violationColumns+` FROM violations WHERE id = $1`, id)
	v, err := scanViolation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get violation: %w", err)
	}
	return v, nil
}

// ViolationFilter selects violations for listing.
type ViolationFilter struct {
	UserID        string
	ModeratorID   string
	Overturned    *bool
	SortBy        string
	SortDirection string
	Limit         int
	Offset        int
}

// ListViolations returns a page of violations and the total match count.
func (s *Store) ListViolations(ctx context.Context, f ViolationFilter) ([]*Violation, int, error) {
	var conds []string
	var args []interface{}

	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.ModeratorID != "" {
		args = append(args, f.ModeratorID)
		conds = append(conds, fmt.Sprintf("moderator_id = $%d", len(args)))
	}
	if f.Overturned != nil {
		args = append(args, *f.Overturned)
		conds = append(conds, fmt.Sprintf("overturned = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM violations " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count violations: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf("SELECT %s FROM violations %s %s LIMIT $%d OFFSET $%d",
		violationColumns, where, orderClause(f.SortBy, f.SortDirection), len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	violations := make([]*Violation, 0)
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, 0, err
		}
		violations = append(violations, v)
	}
	return violations, total, rows.Err()
}

// ViolationUpdate holds the mutable violation fields. Nil pointers are
// left untouched.
type ViolationUpdate struct {
	Content         *string
	Severity        *int
	ApplicableRules []string
	PublicComment   *string
	InternalNote    *string
	Overturned      *bool
	ExpiresAt       *time.Time
}

// Empty reports whether the update would change nothing.
func (u ViolationUpdate) Empty() bool {
	return u.Content == nil && u.Severity == nil && u.ApplicableRules == nil &&
		u.PublicComment == nil && u.InternalNote == nil && u.Overturned == nil &&
		u.ExpiresAt == nil
}

// UpdateViolation applies the non-nil fields and returns the updated row.
func (s *Store) UpdateViolation(ctx context.Context, id string, u ViolationUpdate, updatedBy string) (*Violation, error) {
	var sets []string
	var args []interface{}

	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if u.Content != nil {
		add("content", *u.Content)
	}
	if u.Severity != nil {
		add("severity", *u.Severity)
	}
	if u.ApplicableRules != nil {
		rules, err := json.Marshal(u.ApplicableRules)
		if err != nil {
			return nil, fmt.Errorf("encode applicable_rules: %w", err)
		}
		add("applicable_rules", rules)
	}
	if u.PublicComment != nil {
		add("public_comment", *u.PublicComment)
	}
	if u.InternalNote != nil {
		add("internal_note", *u.InternalNote)
	}
	if u.Overturned != nil {
		add("overturned", *u.Overturned)
	}
	if u.ExpiresAt != nil {
		add("expires_at", *u.ExpiresAt)
	}
	add("updated_by", updatedBy)
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE violations SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), violationColumns)

	row := s.db.QueryRowContext(ctx, query, args...)
	v, err := scanViolation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update violation: %w", err)
	}
	return v, nil
}

const disputeColumns = `id, violation_id, user_id, reason, status, justification,
	reviewed_by, reviewed_at, created_at, updated_at`

func scanDispute(row interface{ Scan(...interface{}) error }) (*Dispute, error) {
	var d Dispute
	var reviewedAt sql.NullTime
	err := row.Scan(&d.ID, &d.ViolationID, &d.UserID, &d.Reason, &d.Status,
		&d.Justification, &d.ReviewedBy, &reviewedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		d.ReviewedAt = &reviewedAt.Time
	}
	return &d, nil
}

// CreateDispute inserts a new dispute row.
func (s *Store) CreateDispute(ctx context.Context, d *Dispute) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disputes (id, violation_id, user_id, reason, status,
			justification, reviewed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.ViolationID, d.UserID, d.Reason, d.Status,
		d.Justification, d.ReviewedBy, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

// GetDispute fetches one dispute by id. Returns (nil, nil) when the row
// does not exist.
func (s *Store) GetDispute(ctx context.Context, id string) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute: %w", err)
	}
	return d, nil
}

// GetDisputeByViolation fetches the dispute attached to a violation, if
// any. At most one dispute per violation exists.
func (s *Store) GetDisputeByViolation(ctx context.Context, violationID string) (*Dispute, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE violation_id = $1`, violationID)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dispute by violation: %w", err)
	}
	return d, nil
}

// DisputeFilter selects disputes for listing.
type DisputeFilter struct {
	UserID      string
	ViolationID string
	Status      DisputeStatus
	Limit       int
	Offset      int
}

// ListDisputes returns a page of disputes, newest first, and the total
// match count.
func (s *Store) ListDisputes(ctx context.Context, f DisputeFilter) ([]*Dispute, int, error) {
	var conds []string
	var args []interface{}

	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.ViolationID != "" {
		args = append(args, f.ViolationID)
		conds = append(conds, fmt.Sprintf("violation_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM disputes "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count disputes: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf("SELECT %s FROM disputes %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		disputeColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	disputes := make([]*Dispute, 0)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, 0, err
		}
		disputes = append(disputes, d)
	}
	return disputes, total, rows.Err()
}

// ResolveDispute moves a dispute to a terminal status and, when approved,
// flips the violation's overturned flag. Both writes happen in one
// transaction so a partial resolution can never be observed.
func (s *Store) ResolveDispute(ctx context.Context, disputeID string, status DisputeStatus, justification, reviewedBy string) (*Dispute, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin resolve tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		UPDATE disputes
		SET status = $1, justification = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		WHERE id = $5
		RETURNING `+disputeColumns,
		status, justification, reviewedBy, now, disputeID)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update dispute: %w", err)
	}

	if status == DisputeApproved {
		if _, err := tx.ExecContext(ctx, `
			UPDATE violations SET overturned = TRUE, updated_at = $1, updated_by = $2
			WHERE id = $3`,
			now, reviewedBy, d.ViolationID); err != nil {
			return nil, fmt.Errorf("overturn violation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolve tx: %w", err)
	}
	return d, nil
}
