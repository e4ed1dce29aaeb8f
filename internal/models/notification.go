package models

import (
	"time"
)

// EntityKind identifies which local mirror a notification targets
type EntityKind string

const (
	EntityUnknown EntityKind = ""
	EntityAuthor  EntityKind = "author"
	EntityContent EntityKind = "content"
)

// Operation is the semantic change a notification carries
type Operation string

const (
	OpUnknown      Operation = "unknown"
	OpUpsert       Operation = "upsert"
	OpStatusChange Operation = "status_change"
	OpDelete       Operation = "delete"
)

// NotificationEvent is the verified, classified form of one webhook call.
// It lives for a single request and is never persisted.
type NotificationEvent struct {
	Kind            EntityKind
	Op              Operation
	ExternalID      string
	Revision        string
	Fingerprint     string
	SourceUpdatedAt *time.Time
	// Reason explains why an event was classified as unknown
	Reason string

	Content *ContentChange
	Author  *AuthorChange
}

// Actionable reports whether the event should reach the reconciler.
func (e *NotificationEvent) Actionable() bool {
	switch {
	case e.Kind == EntityContent && e.Op == OpUpsert && e.Content != nil:
		return true
	case e.Kind == EntityContent && e.Op == OpDelete:
		return true
	case e.Kind == EntityAuthor && e.Op == OpStatusChange && e.Author != nil:
		return true
	case e.Kind == EntityAuthor && e.Op == OpUpsert && e.Author != nil:
		return true
	default:
		return false
	}
}

// ContentChange is the article metadata carried by a content notification
type ContentChange struct {
	Slug             string
	AuthorExternalID string
	PublishedAt      *time.Time
	Approved         *bool
}

// AuthorChange is the profile data carried by an author notification
type AuthorChange struct {
	Status      ApprovalStatus
	UserID      string
	ReviewNotes *string
}

// Transition is the outcome of reconciling one event
type Transition struct {
	Kind       EntityKind
	Op         Operation
	ExternalID string
	// Real is false for replays, stale deliveries and other no-op repeats
	Real    bool
	Created bool
	Stale   bool

	CacheTags []string

	// Set for author status transitions only
	Author         *AuthorProfile
	PreviousStatus ApprovalStatus
	Recipient      *User
}

// NotifiesAuthor reports whether the transition warrants a status email.
func (t *Transition) NotifiesAuthor() bool {
	return t.Real && t.Kind == EntityAuthor && t.Op == OpStatusChange &&
		t.Author != nil && t.PreviousStatus != t.Author.Status
}

// SyncState is a step of the webhook state machine
type SyncState string

const (
	StateReceived          SyncState = "received"
	StateVerified          SyncState = "verified"
	StateClassified        SyncState = "classified"
	StateReconciled        SyncState = "reconciled"
	StateEffectsDispatched SyncState = "effects_dispatched"
	StateResponded         SyncState = "responded"
	StateRejected          SyncState = "rejected"
	StateAcknowledgedNoOp  SyncState = "acknowledged_noop"
)

// EffectReport summarizes which downstream effects fired
type EffectReport struct {
	Invalidated bool `json:"invalidated"`
	EmailsSent  int  `json:"emails_sent"`
	Failures    int  `json:"failures"`
}

// SyncResult is returned to the webhook caller
type SyncResult struct {
	State       SyncState    `json:"state"`
	Kind        EntityKind   `json:"kind,omitempty"`
	Operation   Operation    `json:"operation,omitempty"`
	ExternalID  string       `json:"external_id,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Changed     bool         `json:"changed"`
	Reason      string       `json:"reason,omitempty"`
	Effects     EffectReport `json:"effects"`
}

// EmailMessage is a templated transactional email
type EmailMessage struct {
	Template       string
	To             string
	Data           map[string]any
	IdempotencyKey string
}
