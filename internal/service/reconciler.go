package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reconciler is the concrete implementation of Reconciler
type reconciler struct {
	repos *repository.Repositories
	log   zerolog.Logger
	now   func() time.Time
}

// newReconciler creates a new Reconciler
func newReconciler(repos *repository.Repositories, log zerolog.Logger) *reconciler {
	return &reconciler{
		repos: repos,
		log:   log.With().Str("component", "reconciler").Logger(),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Reconcile applies one actionable event inside a single transaction. A
// lost insert race is retried once, after which the competing row exists
// and the event is applied as an update.
func (r *reconciler) Reconcile(ctx context.Context, ev *models.NotificationEvent) (*models.Transition, error) {
	tr, err := r.attempt(ctx, ev)
	if errors.Is(err, repository.ErrDuplicate) {
		r.log.Debug().Str("external_id", ev.ExternalID).Msg("Concurrent insert detected, retrying")
		tr, err = r.attempt(ctx, ev)
	}
	if err != nil {
		return nil, classifyError(err)
	}

	r.log.Info().
		Str("kind", string(ev.Kind)).
		Str("op", string(ev.Op)).
		Str("external_id", ev.ExternalID).
		Bool("real", tr.Real).
		Bool("created", tr.Created).
		Bool("stale", tr.Stale).
		Msg("Event reconciled")

	return tr, nil
}

func (r *reconciler) attempt(ctx context.Context, ev *models.NotificationEvent) (*models.Transition, error) {
	var tr *models.Transition
	err := r.repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
		var err error
		tr, err = r.apply(ctx, tx, ev)
		return err
	})
	return tr, err
}

func (r *reconciler) apply(ctx context.Context, tx *repository.Repositories, ev *models.NotificationEvent) (*models.Transition, error) {
	switch {
	case ev.Kind == models.EntityContent && ev.Op == models.OpUpsert && ev.Content != nil:
		return r.upsertContent(ctx, tx, ev)
	case ev.Kind == models.EntityContent && ev.Op == models.OpDelete:
		return r.deleteContent(ctx, tx, ev)
	case ev.Kind == models.EntityAuthor && ev.Op == models.OpStatusChange && ev.Author != nil:
		return r.changeAuthorStatus(ctx, tx, ev)
	case ev.Kind == models.EntityAuthor && ev.Op == models.OpUpsert && ev.Author != nil:
		return r.upsertAuthor(ctx, tx, ev)
	default:
		return nil, fmt.Errorf("unsupported event %s/%s", ev.Kind, ev.Op)
	}
}

func (r *reconciler) upsertContent(ctx context.Context, tx *repository.Repositories, ev *models.NotificationEvent) (*models.Transition, error) {
	change := ev.Content

	author, err := tx.Author.GetByExternalID(ctx, change.AuthorExternalID)
	if err != nil {
		return nil, persistence("resolve author", err)
	}
	if author == nil {
		return nil, fmt.Errorf("%w: author %q", ErrUnresolvedReference, change.AuthorExternalID)
	}

	existing, err := tx.Article.GetByExternalIDForUpdate(ctx, ev.ExternalID)
	if err != nil {
		return nil, persistence("load article", err)
	}

	now := r.now()
	tr := &models.Transition{Kind: ev.Kind, Op: ev.Op, ExternalID: ev.ExternalID}

	if existing == nil {
		article := &models.Article{
			ID:              uuid.NewString(),
			ExternalID:      ev.ExternalID,
			Slug:            change.Slug,
			Revision:        ev.Revision,
			AuthorID:        author.ID,
			PublishedAt:     change.PublishedAt,
			SourceUpdatedAt: ev.SourceUpdatedAt,
			LastSyncedAt:    now,
		}
		if change.Approved != nil && *change.Approved {
			article.Approved = true
			article.ApprovedAt = &now
		}
		if err := tx.Article.Insert(ctx, article); err != nil {
			return nil, persistence("insert article", err)
		}
		tr.Real = true
		tr.Created = true
		tr.CacheTags = contentTags(ev.ExternalID, author.ExternalID, article.Slug)
		return tr, nil
	}

	if isStale(ev.SourceUpdatedAt, existing.SourceUpdatedAt) {
		tr.Stale = true
		return tr, nil
	}

	next := *existing
	next.Slug = change.Slug
	next.Revision = ev.Revision
	next.AuthorID = author.ID
	next.PublishedAt = change.PublishedAt
	next.DeletedAt = nil
	if change.Approved != nil {
		switch {
		case *change.Approved && !existing.Approved:
			next.ApprovedAt = &now
		case !*change.Approved:
			next.ApprovedAt = nil
		}
		next.Approved = *change.Approved
	}
	if ev.SourceUpdatedAt != nil {
		next.SourceUpdatedAt = ev.SourceUpdatedAt
	}

	if next.SameSyncedState(existing) {
		return tr, nil
	}

	next.LastSyncedAt = now
	if err := tx.Article.UpdateSynced(ctx, &next); err != nil {
		return nil, persistence("update article", err)
	}

	tr.Real = true
	tr.CacheTags = contentTags(ev.ExternalID, author.ExternalID, next.Slug)
	if existing.Slug != "" && existing.Slug != next.Slug {
		tr.CacheTags = append(tr.CacheTags, "slug:"+existing.Slug)
	}
	if existing.AuthorID != next.AuthorID {
		previous, err := tx.Author.GetByID(ctx, existing.AuthorID)
		if err != nil {
			return nil, persistence("load previous author", err)
		}
		if previous != nil && previous.ExternalID != "" {
			tr.CacheTags = append(tr.CacheTags, "author:"+previous.ExternalID)
		}
	}
	return tr, nil
}

func (r *reconciler) deleteContent(ctx context.Context, tx *repository.Repositories, ev *models.NotificationEvent) (*models.Transition, error) {
	existing, err := tx.Article.GetByExternalIDForUpdate(ctx, ev.ExternalID)
	if err != nil {
		return nil, persistence("load article", err)
	}

	tr := &models.Transition{Kind: ev.Kind, Op: ev.Op, ExternalID: ev.ExternalID}
	if existing == nil || existing.Deleted() {
		return tr, nil
	}
	if isStale(ev.SourceUpdatedAt, existing.SourceUpdatedAt) {
		tr.Stale = true
		return tr, nil
	}

	now := r.now()
	next := *existing
	next.DeletedAt = &now
	next.LastSyncedAt = now
	if ev.SourceUpdatedAt != nil {
		next.SourceUpdatedAt = ev.SourceUpdatedAt
	}
	if err := tx.Article.UpdateSynced(ctx, &next); err != nil {
		return nil, persistence("delete article", err)
	}

	author, err := tx.Author.GetByID(ctx, existing.AuthorID)
	if err != nil {
		return nil, persistence("load author", err)
	}
	authorExternalID := ""
	if author != nil {
		authorExternalID = author.ExternalID
	}

	tr.Real = true
	tr.CacheTags = contentTags(ev.ExternalID, authorExternalID, existing.Slug)
	return tr, nil
}

// lockProfile finds a profile by external id, falling back to the owning user
func (r *reconciler) lockProfile(ctx context.Context, tx *repository.Repositories, externalID, userID string) (*models.AuthorProfile, error) {
	var profile *models.AuthorProfile
	if externalID != "" {
		var err error
		profile, err = tx.Author.GetByExternalIDForUpdate(ctx, externalID)
		if err != nil {
			return nil, persistence("load author", err)
		}
	}
	if profile == nil && userID != "" {
		var err error
		profile, err = tx.Author.GetByUserIDForUpdate(ctx, userID)
		if err != nil {
			return nil, persistence("load author by user", err)
		}
	}
	return profile, nil
}

func (r *reconciler) changeAuthorStatus(ctx context.Context, tx *repository.Repositories, ev *models.NotificationEvent) (*models.Transition, error) {
	change := ev.Author

	profile, err := r.lockProfile(ctx, tx, ev.ExternalID, change.UserID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: author %q user %q", ErrNotFound, ev.ExternalID, change.UserID)
	}

	externalID := ev.ExternalID
	if externalID == "" {
		externalID = profile.ExternalID
	}
	tr := &models.Transition{
		Kind:           ev.Kind,
		Op:             ev.Op,
		ExternalID:     externalID,
		PreviousStatus: profile.Status,
		Author:         profile,
	}
	if isStale(ev.SourceUpdatedAt, profile.SourceUpdatedAt) {
		tr.Stale = true
		return tr, nil
	}

	next := *profile
	if change.Status != profile.Status {
		if !models.Advances(profile.Status, change.Status) && !isReapproval(profile, ev) {
			// an earlier lifecycle status arriving late is a delivery out of order
			tr.Stale = true
			return tr, nil
		}
		now := r.now()
		next.Status = change.Status
		next.StatusChangedAt = &now
		if change.Status == models.ApprovalApproved {
			next.ApprovedAt = &now
		}
	}
	applyProfileFields(&next, ev)

	if sameProfile(profile, &next) {
		return tr, nil
	}
	if err := tx.Author.Update(ctx, &next); err != nil {
		return nil, persistence("update author", err)
	}

	tr.Real = true
	tr.Author = &next
	tr.CacheTags = authorTags(externalID)

	if next.Status != profile.Status {
		recipient, err := tx.User.GetByID(ctx, next.UserID)
		if err != nil {
			return nil, persistence("load recipient", err)
		}
		tr.Recipient = recipient
	}
	return tr, nil
}

func (r *reconciler) upsertAuthor(ctx context.Context, tx *repository.Repositories, ev *models.NotificationEvent) (*models.Transition, error) {
	change := ev.Author

	profile, err := r.lockProfile(ctx, tx, ev.ExternalID, change.UserID)
	if err != nil {
		return nil, err
	}

	tr := &models.Transition{Kind: ev.Kind, Op: ev.Op, ExternalID: ev.ExternalID}

	if profile == nil {
		if change.UserID == "" {
			return nil, fmt.Errorf("%w: author %q has no owning user", ErrUnresolvedReference, ev.ExternalID)
		}
		user, err := tx.User.GetByID(ctx, change.UserID)
		if err != nil {
			return nil, persistence("load user", err)
		}
		if user == nil {
			return nil, fmt.Errorf("%w: user %q", ErrUnresolvedReference, change.UserID)
		}

		created := &models.AuthorProfile{
			ID:     uuid.NewString(),
			UserID: user.ID,
			Status: models.ApprovalPending,
		}
		applyProfileFields(created, ev)
		if err := tx.Author.Insert(ctx, created); err != nil {
			return nil, persistence("insert author", err)
		}

		tr.Real = true
		tr.Created = true
		tr.Author = created
		tr.PreviousStatus = created.Status
		tr.CacheTags = authorTags(ev.ExternalID)
		return tr, nil
	}

	tr.Author = profile
	tr.PreviousStatus = profile.Status
	if isStale(ev.SourceUpdatedAt, profile.SourceUpdatedAt) {
		tr.Stale = true
		return tr, nil
	}

	next := *profile
	applyProfileFields(&next, ev)
	if sameProfile(profile, &next) {
		return tr, nil
	}
	if err := tx.Author.Update(ctx, &next); err != nil {
		return nil, persistence("update author", err)
	}

	tr.Real = true
	tr.Author = &next
	tr.CacheTags = authorTags(ev.ExternalID)
	return tr, nil
}

// applyProfileFields copies the non-status fields an author event carries
func applyProfileFields(p *models.AuthorProfile, ev *models.NotificationEvent) {
	if ev.ExternalID != "" {
		p.ExternalID = ev.ExternalID
	}
	if ev.Author.ReviewNotes != nil {
		p.ReviewNotes = *ev.Author.ReviewNotes
	}
	if ev.SourceUpdatedAt != nil {
		p.SourceUpdatedAt = ev.SourceUpdatedAt
	}
}

func sameProfile(a, b *models.AuthorProfile) bool {
	return a.ExternalID == b.ExternalID &&
		a.Status == b.Status &&
		a.ReviewNotes == b.ReviewNotes &&
		sameTime(a.SourceUpdatedAt, b.SourceUpdatedAt)
}

// isReapproval reports whether ev re-approves a revoked profile and carries
// a source time newer than the one stored with the revocation.
func isReapproval(profile *models.AuthorProfile, ev *models.NotificationEvent) bool {
	return profile.Status == models.ApprovalRevoked &&
		ev.Author.Status == models.ApprovalApproved &&
		ev.SourceUpdatedAt != nil &&
		profile.SourceUpdatedAt != nil &&
		ev.SourceUpdatedAt.After(*profile.SourceUpdatedAt)
}

// isStale reports whether incoming predates the stored source time. Events
// without a source time are never stale.
func isStale(incoming, stored *time.Time) bool {
	return incoming != nil && stored != nil && incoming.Before(*stored)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func contentTags(externalID, authorExternalID, slug string) []string {
	tags := []string{externalID, "articles"}
	if authorExternalID != "" {
		tags = append(tags, "author:"+authorExternalID)
	}
	if slug != "" {
		tags = append(tags, "slug:"+slug)
	}
	return tags
}

func authorTags(externalID string) []string {
	if externalID == "" {
		return []string{"authors"}
	}
	return []string{"author:" + externalID, "authors"}
}

// classifyError keeps domain errors as they are and wraps everything else
// as a persistence failure.
func classifyError(err error) error {
	var pe *PersistenceError
	switch {
	case errors.Is(err, ErrUnresolvedReference),
		errors.Is(err, ErrNotFound),
		errors.As(err, &pe):
		return err
	default:
		return persistence("transaction", err)
	}
}
