package vortex

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vortexhq/vortex/pkg/observability"
	"github.com/vortexhq/vortex/pkg/roles"
	"github.com/vortexhq/vortex/pkg/session"
)

// PermissionChecker decides access for moderation operations.
type PermissionChecker interface {
	Check(ctx context.Context, req roles.PermissionRequest) bool
	EffectivePermissions(ctx context.Context, userID string) roles.Statements
}

// RoleRefresher rebuilds the role registry on demand.
type RoleRefresher interface {
	Refresh(ctx context.Context, opts roles.RefreshOptions) roles.RefreshResult
	Version(ctx context.Context) int64
}

// Service implements the moderation business rules over the store.
type Service struct {
	store     *Store
	checker   PermissionChecker
	refresher RoleRefresher
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewService creates the moderation service. metrics may be nil.
func NewService(store *Store, checker PermissionChecker, refresher RoleRefresher, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:     store,
		checker:   checker,
		refresher: refresher,
		logger:    logger.Named("vortex"),
		metrics:   metrics,
	}
}

// requireSession returns the calling session or ErrNotAuthenticated.
func requireSession(ctx context.Context) (*session.Session, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return sess, nil
}

// requirePermission checks the session's roles for a single-domain grant
// and returns the caller's user id.
func (s *Service) requirePermission(ctx context.Context, domain string, actions ...string) (string, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return "", err
	}
	req := roles.PermissionRequest{Permission: map[string][]string{domain: actions}}
	if !s.checker.Check(ctx, req) {
		return "", ErrPermissionDenied
	}
	return sess.UserID, nil
}

// HasPermission evaluates an explicit permission request. The permission
// shape is validated here so malformed requests surface as bad-request
// rather than a silent deny.
func (s *Service) HasPermission(ctx context.Context, req roles.PermissionRequest) (bool, error) {
	if len(req.Permission) != 1 {
		return false, ErrInvalidPermissionShape
	}
	for domain, actions := range req.Permission {
		if domain == "" || len(actions) == 0 {
			return false, ErrInvalidPermissionShape
		}
	}
	return s.checker.Check(ctx, req), nil
}

// CreateViolationInput is the create-violation request body.
type CreateViolationInput struct {
	UserID           string     `json:"userId"`
	Content          string     `json:"content"`
	Severity         int        `json:"severity"`
	ApplicableRules  []string   `json:"applicableRules"`
	PublicComment    string     `json:"publicComment"`
	InternalNote     string     `json:"internalNote"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	ExternalMetadata string     `json:"externalMetadata"`
}

// CreateViolation records a new violation against a user.
func (s *Service) CreateViolation(ctx context.Context, in CreateViolationInput) (*Violation, error) {
	moderatorID, err := s.requirePermission(ctx, "violation", "create")
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.UserID) == "" {
		return nil, ErrMissingUserID
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrMissingContent
	}
	if in.Severity < MinSeverity || in.Severity > MaxSeverity {
		return nil, ErrInvalidSeverity
	}

	now := time.Now().UTC()
	expiresAt := now.Add(DefaultExpiry)
	if in.ExpiresAt != nil {
		expiresAt = in.ExpiresAt.UTC()
	}
	rules := in.ApplicableRules
	if rules == nil {
		rules = []string{}
	}

	v := &Violation{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		ModeratorID:      moderatorID,
		Content:          in.Content,
		Severity:         in.Severity,
		ApplicableRules:  rules,
		PublicComment:    in.PublicComment,
		InternalNote:     in.InternalNote,
		ExpiresAt:        expiresAt,
		ExternalStatus:   ExternalStatusApproved,
		ExternalMetadata: in.ExternalMetadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateViolation(ctx, v); err != nil {
		return nil, toError(s.logger, "create_violation", err)
	}

	if s.metrics != nil {
		s.metrics.ViolationsCreatedTotal.Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"violation_id": v.ID,
		"user_id":      v.UserID,
		"moderator_id": moderatorID,
		"severity":     v.Severity,
	}).Info("violation created")
	return v, nil
}

// ViolationPage is one page of a violation listing.
type ViolationPage struct {
	Violations []*Violation `json:"violations"`
	Total      int          `json:"total"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
}

// ListViolations returns violations matching the filter, for moderators.
func (s *Service) ListViolations(ctx context.Context, f ViolationFilter) (*ViolationPage, error) {
	if _, err := s.requirePermission(ctx, "violation", "list"); err != nil {
		return nil, err
	}

	violations, total, err := s.store.ListViolations(ctx, f)
	if err != nil {
		return nil, toError(s.logger, "list_violations", err)
	}
	return &ViolationPage{Violations: violations, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// MyViolations returns the caller's own violations with moderator-only
// fields stripped. No permission beyond authentication is required.
func (s *Service) MyViolations(ctx context.Context, limit, offset int) (*ViolationPage, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}

	violations, total, err := s.store.ListViolations(ctx, ViolationFilter{
		UserID: sess.UserID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, toError(s.logger, "my_violations", err)
	}

	redacted := make([]*Violation, len(violations))
	for i, v := range violations {
		redacted[i] = v.Redacted()
	}
	return &ViolationPage{Violations: redacted, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateViolationInput is the update-violation request body.
type UpdateViolationInput struct {
	ID              string     `json:"id"`
	Content         *string    `json:"content"`
	Severity        *int       `json:"severity"`
	ApplicableRules []string   `json:"applicableRules"`
	PublicComment   *string    `json:"publicComment"`
	InternalNote    *string    `json:"internalNote"`
	Overturned      *bool      `json:"overturned"`
	ExpiresAt       *time.Time `json:"expiresAt"`
}

// UpdateViolation applies a partial update to a visible violation.
func (s *Service) UpdateViolation(ctx context.Context, in UpdateViolationInput) (*Violation, error) {
	userID, err := s.requirePermission(ctx, "violation", "update")
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.ID) == "" {
		return nil, ErrMissingViolationID
	}
	if in.Severity != nil && (*in.Severity < MinSeverity || *in.Severity > MaxSeverity) {
		return nil, ErrInvalidSeverity
	}
	update := ViolationUpdate{
		Content:         in.Content,
		Severity:        in.Severity,
		ApplicableRules: in.ApplicableRules,
		PublicComment:   in.PublicComment,
		InternalNote:    in.InternalNote,
		Overturned:      in.Overturned,
		ExpiresAt:       in.ExpiresAt,
	}
	if update.Empty() {
		return nil, ErrEmptyUpdate
	}

	existing, err := s.store.GetViolation(ctx, in.ID)
	if err != nil {
		return nil, toError(s.logger, "update_violation", err)
	}
	if existing == nil || existing.ExternalStatus != ExternalStatusApproved {
		return nil, ErrViolationNotFound
	}

	updated, err := s.store.UpdateViolation(ctx, in.ID, update, userID)
	if err != nil {
		return nil, toError(s.logger, "update_violation", err)
	}
	if updated == nil {
		return nil, ErrViolationNotFound
	}
	return updated, nil
}

// DisputeViolationInput is the dispute-violation request body.
type DisputeViolationInput struct {
	ViolationID string `json:"violationId"`
	Reason      string `json:"reason"`
}

// DisputeViolation opens a dispute against one of the caller's own
// violations.
func (s *Service) DisputeViolation(ctx context.Context, in DisputeViolationInput) (*Dispute, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.ViolationID) == "" {
		return nil, ErrMissingViolationID
	}
	if len(strings.TrimSpace(in.Reason)) < 10 {
		return nil, ErrReasonTooShort
	}

	v, err := s.store.GetViolation(ctx, in.ViolationID)
	if err != nil {
		return nil, toError(s.logger, "dispute_violation", err)
	}
	// Violations outside the visibility boundary, including ones that
	// belong to someone else, read as not-found.
	if v == nil || v.ExternalStatus != ExternalStatusApproved || v.UserID != sess.UserID {
		return nil, ErrViolationNotFound
	}
	if v.Overturned {
		return nil, ErrViolationOverturned
	}

	existing, err := s.store.GetDisputeByViolation(ctx, in.ViolationID)
	if err != nil {
		return nil, toError(s.logger, "dispute_violation", err)
	}
	if existing != nil {
		return nil, ErrDuplicateDispute
	}

	now := time.Now().UTC()
	d := &Dispute{
		ID:          uuid.NewString(),
		ViolationID: in.ViolationID,
		UserID:      sess.UserID,
		Reason:      in.Reason,
		Status:      DisputePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateDispute(ctx, d); err != nil {
		return nil, toError(s.logger, "dispute_violation", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"dispute_id":   d.ID,
		"violation_id": d.ViolationID,
		"user_id":      d.UserID,
	}).Info("dispute opened")
	return d, nil
}

// DisputePage is one page of a dispute listing.
type DisputePage struct {
	Disputes []*Dispute `json:"disputes"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}

// ListDisputes returns disputes matching the filter, for moderators.
func (s *Service) ListDisputes(ctx context.Context, f DisputeFilter) (*DisputePage, error) {
	if _, err := s.requirePermission(ctx, "violation", "manage"); err != nil {
		return nil, err
	}

	disputes, total, err := s.store.ListDisputes(ctx, f)
	if err != nil {
		return nil, toError(s.logger, "list_disputes", err)
	}
	return &DisputePage{Disputes: disputes, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// MyDisputes returns the caller's own disputes, each enriched with a
// redacted summary of the disputed violation.
func (s *Service) MyDisputes(ctx context.Context, status DisputeStatus, limit, offset int) (*DisputePage, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}

	disputes, total, err := s.store.ListDisputes(ctx, DisputeFilter{
		UserID: sess.UserID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, toError(s.logger, "my_disputes", err)
	}

	for _, d := range disputes {
		v, err := s.store.GetViolation(ctx, d.ViolationID)
		if err != nil {
			return nil, toError(s.logger, "my_disputes", err)
		}
		if v != nil {
			d.Violation = v.Summary()
		}
	}
	return &DisputePage{Disputes: disputes, Total: total, Limit: limit, Offset: offset}, nil
}

// ResolveDisputeInput is the resolve-dispute request body.
type ResolveDisputeInput struct {
	DisputeID     string        `json:"disputeId"`
	Status        DisputeStatus `json:"status"`
	Justification string        `json:"justification"`
}

// ResolveDispute moves a pending dispute to a terminal status. Approval
// overturns the violation in the same transaction.
func (s *Service) ResolveDispute(ctx context.Context, in ResolveDisputeInput) (*Dispute, error) {
	reviewerID, err := s.requirePermission(ctx, "violation", "manage")
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.DisputeID) == "" {
		return nil, ErrMissingDisputeID
	}
	if in.Status != DisputeApproved && in.Status != DisputeRejected {
		return nil, ErrInvalidResolution
	}
	// Justification is optional but, when given, must carry substance.
	if in.Justification != "" && len(strings.TrimSpace(in.Justification)) < 5 {
		return nil, ErrJustificationTooShort
	}

	d, err := s.store.GetDispute(ctx, in.DisputeID)
	if err != nil {
		return nil, toError(s.logger, "resolve_dispute", err)
	}
	if d == nil {
		return nil, ErrDisputeNotFound
	}
	switch d.Status {
	case DisputeApproved:
		return nil, ErrDisputeAlreadyApproved
	case DisputeRejected:
		return nil, ErrDisputeAlreadyRejected
	}

	resolved, err := s.store.ResolveDispute(ctx, in.DisputeID, in.Status, in.Justification, reviewerID)
	if err != nil {
		return nil, toError(s.logger, "resolve_dispute", err)
	}
	if resolved == nil {
		return nil, ErrDisputeNotFound
	}

	if s.metrics != nil {
		s.metrics.DisputesResolvedTotal.WithLabelValues(string(in.Status)).Inc()
	}
	s.logger.WithFields(map[string]interface{}{
		"dispute_id":   resolved.ID,
		"violation_id": resolved.ViolationID,
		"status":       string(resolved.Status),
		"reviewed_by":  reviewerID,
	}).Info("dispute resolved")
	return resolved, nil
}

// EffectivePermissions aggregates the statements granted to a user. When
// userID is empty the caller's own permissions are returned; inspecting
// another user requires the user list grant.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) (roles.Statements, error) {
	sess, err := requireSession(ctx)
	if err != nil {
		return nil, err
	}
	if userID == "" || userID == sess.UserID {
		return s.checker.EffectivePermissions(ctx, sess.UserID), nil
	}
	if _, err := s.requirePermission(ctx, "user", "list"); err != nil {
		return nil, err
	}
	return s.checker.EffectivePermissions(ctx, userID), nil
}

// RefreshRoles reloads the role registry from cache and database.
func (s *Service) RefreshRoles(ctx context.Context) (roles.RefreshResult, error) {
	if _, err := s.requirePermission(ctx, "moderation", "view"); err != nil {
		return roles.RefreshResult{}, err
	}
	return s.refresher.Refresh(ctx, roles.DefaultRefreshOptions()), nil
}

// RebuildRoles clears dynamic roles and rebuilds the registry from the
// database alone.
func (s *Service) RebuildRoles(ctx context.Context) (roles.RefreshResult, error) {
	if _, err := s.requirePermission(ctx, "moderation", "view"); err != nil {
		return roles.RefreshResult{}, err
	}
	return s.refresher.Refresh(ctx, roles.ForceRebuildOptions()), nil
}

// RolesVersion reports the registry's version counter for change
// detection.
func (s *Service) RolesVersion(ctx context.Context) (int64, error) {
	if _, err := requireSession(ctx); err != nil {
		return 0, err
	}
	return s.refresher.Version(ctx), nil
}
