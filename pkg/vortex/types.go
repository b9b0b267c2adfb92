package vortex

import (
	"time"
)

// Severity bounds for violations, inclusive.
const (
	MinSeverity = 1
	MaxSeverity = 10
)

// DefaultExpiry is added to the creation time when the caller does not
// supply an expiration.
const DefaultExpiry = 30 * 24 * time.Hour

// ExternalStatusApproved gates which violations are visible to update and
// dispute operations. The status is set by an upstream moderation
// workflow.
const ExternalStatusApproved = "approved"

// Violation is a moderation action recorded against a user.
type Violation struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	ModeratorID      string    `json:"moderatorId,omitempty"`
	Content          string    `json:"content"`
	Severity         int       `json:"severity"`
	ApplicableRules  []string  `json:"applicableRules"`
	PublicComment    string    `json:"publicComment,omitempty"`
	InternalNote     string    `json:"internalNote,omitempty"`
	Overturned       bool      `json:"overturned"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ExternalStatus   string    `json:"externalStatus"`
	ExternalMetadata string    `json:"externalMetadata,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	UpdatedBy        string    `json:"updatedBy,omitempty"`
}

// Redacted returns a copy with moderator-only fields stripped, for users
// viewing their own violations.
func (v *Violation) Redacted() *Violation {
	out := *v
	out.ModeratorID = ""
	out.InternalNote = ""
	out.UpdatedBy = ""
	return &out
}

// DisputeStatus is the dispute state machine's state.
type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeApproved DisputeStatus = "approved"
	DisputeRejected DisputeStatus = "rejected"
)

// Terminal reports whether no transition is defined out of the status.
func (s DisputeStatus) Terminal() bool {
	return s == DisputeApproved || s == DisputeRejected
}

// Dispute is a user's challenge of a violation recorded against them.
type Dispute struct {
	ID            string        `json:"id"`
	ViolationID   string        `json:"violationId"`
	UserID        string        `json:"userId"`
	Reason        string        `json:"reason"`
	Status        DisputeStatus `json:"status"`
	Justification string        `json:"justification,omitempty"`
	ReviewedBy    string        `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time    `json:"reviewedAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`

	// Violation carries a summary of the disputed violation on the
	// self-listing path.
	Violation *ViolationSummary `json:"violation,omitempty"`
}

// ViolationSummary is the slice of a violation shown alongside a user's
// own disputes.
type ViolationSummary struct {
	ID              string    `json:"id"`
	Severity        int       `json:"severity"`
	ApplicableRules []string  `json:"applicableRules"`
	PublicComment   string    `json:"publicComment,omitempty"`
	Overturned      bool      `json:"overturned"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Summary extracts the user-visible slice of a violation.
func (v *Violation) Summary() *ViolationSummary {
	return &ViolationSummary{
		ID:              v.ID,
		Severity:        v.Severity,
		ApplicableRules: v.ApplicableRules,
		PublicComment:   v.PublicComment,
		Overturned:      v.Overturned,
		CreatedAt:       v.CreatedAt,
	}
}
