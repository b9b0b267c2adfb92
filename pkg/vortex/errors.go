package vortex

import (
	"errors"

	"github.com/vortexhq/vortex/pkg/observability"
)

// Kind classifies a moderation error for HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindBadRequest
	KindNotFound
	KindConflict
)

// Error is a moderation error with a stable, client-safe message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Stable error conditions. Messages are part of the API surface and must
// not leak internal detail.
var (
	ErrNotAuthenticated = newError(KindUnauthorized, "authentication required")
	ErrPermissionDenied = newError(KindForbidden, "you do not have permission to perform this action")

	ErrInvalidPermissionShape = newError(KindBadRequest, "permission must contain exactly one domain with a non-empty action list")
	ErrInvalidSeverity        = newError(KindBadRequest, "severity must be between 1 and 10")
	ErrMissingUserID          = newError(KindBadRequest, "userId is required")
	ErrMissingContent         = newError(KindBadRequest, "content is required")
	ErrMissingViolationID     = newError(KindBadRequest, "violationId is required")
	ErrMissingDisputeID       = newError(KindBadRequest, "disputeId is required")
	ErrReasonTooShort         = newError(KindBadRequest, "dispute reason must be at least 10 characters")
	ErrJustificationTooShort  = newError(KindBadRequest, "justification must be at least 5 characters")
	ErrInvalidResolution      = newError(KindBadRequest, "status must be approved or rejected")
	ErrViolationOverturned    = newError(KindBadRequest, "violation has already been overturned")
	ErrEmptyUpdate            = newError(KindBadRequest, "no updatable fields provided")

	ErrViolationNotFound = newError(KindNotFound, "violation not found")
	ErrDisputeNotFound   = newError(KindNotFound, "dispute not found")

	ErrDuplicateDispute       = newError(KindConflict, "a dispute already exists for this violation")
	ErrDisputeAlreadyApproved = newError(KindConflict, "dispute has already been approved")
	ErrDisputeAlreadyRejected = newError(KindConflict, "dispute has already been rejected")

	ErrInternal = newError(KindInternal, "an internal error occurred")
)

// toError funnels every failure into the taxonomy. Known *Error values
// pass through; anything else is logged with full context and replaced by
// the generic internal message so no driver or SQL detail reaches
// clients.
func toError(logger *observability.Logger, op string, err error) *Error {
	var verr *Error
	if errors.As(err, &verr) {
		return verr
	}
	logger.WithError(err).WithField("op", op).Error("moderation operation failed")
	return ErrInternal
}
