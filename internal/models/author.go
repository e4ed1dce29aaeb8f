package models

import (
	"time"
)

// ApprovalStatus is the lifecycle state of an author profile
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRevoked  ApprovalStatus = "revoked"
)

// ValidApprovalStatuses defines allowed author statuses
var ValidApprovalStatuses = map[ApprovalStatus]bool{
	ApprovalPending:  true,
	ApprovalApproved: true,
	ApprovalRevoked:  true,
}

// statusRank orders the approval lifecycle
var statusRank = map[ApprovalStatus]int{
	ApprovalPending:  0,
	ApprovalApproved: 1,
	ApprovalRevoked:  2,
}

// Advances reports whether to comes later than from in the approval
// lifecycle. Moves backwards need an ordering signal to be applied.
func Advances(from, to ApprovalStatus) bool {
	return statusRank[to] > statusRank[from]
}

// AuthorProfile is a person permitted to author content
type AuthorProfile struct {
	ID              string         `json:"id" db:"id"`
	ExternalID      string         `json:"external_id,omitempty" db:"external_id"`
	UserID          string         `json:"user_id" db:"user_id"`
	Status          ApprovalStatus `json:"status" db:"status"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	StatusChangedAt *time.Time     `json:"status_changed_at,omitempty" db:"status_changed_at"`
	SourceUpdatedAt *time.Time     `json:"source_updated_at,omitempty" db:"source_updated_at"`
	ReviewNotes     string         `json:"review_notes,omitempty" db:"review_notes"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}
