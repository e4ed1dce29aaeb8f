package models

import (
	"time"
)

// Article is the local mirror of one CMS-authored article. The body lives in
// the CMS; only the metadata needed for local features is kept here.
type Article struct {
	ID              string     `json:"id" db:"id"`
	ExternalID      string     `json:"external_id" db:"external_id"`
	Slug            string     `json:"slug" db:"slug"`
	Revision        string     `json:"revision" db:"revision"`
	AuthorID        string     `json:"author_id" db:"author_id"`
	PublishedAt     *time.Time `json:"published_at,omitempty" db:"published_at"`
	Approved        bool       `json:"approved" db:"approved"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	GenericViews    int64      `json:"generic_views" db:"generic_views"`
	VerifiedViews   int64      `json:"verified_views" db:"verified_views"`
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty" db:"source_updated_at"`
	LastSyncedAt    time.Time  `json:"last_synced_at" db:"last_synced_at"`
	DeletedAt       *time.Time `json:"-" db:"deleted_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Deleted reports whether the row is a tombstone.
func (a *Article) Deleted() bool {
	return a.DeletedAt != nil
}

// SameSyncedState reports whether the fields owned by sync are identical.
// Counters and bookkeeping timestamps are ignored.
func (a *Article) SameSyncedState(o *Article) bool {
	return a.Slug == o.Slug &&
		a.Revision == o.Revision &&
		a.AuthorID == o.AuthorID &&
		a.Approved == o.Approved &&
		a.Deleted() == o.Deleted() &&
		equalTime(a.PublishedAt, o.PublishedAt) &&
		equalTime(a.ApprovedAt, o.ApprovedAt) &&
		equalTime(a.SourceUpdatedAt, o.SourceUpdatedAt)
}

// ArticleFilter narrows mirror listings
type ArticleFilter struct {
	AuthorExternalID string
	Approved         *bool
	Limit            uint64
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
