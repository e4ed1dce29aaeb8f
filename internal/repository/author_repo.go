package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofamint/content-sync/internal/models"
)

const authorColumns = `id, external_id, user_id, status, approved_at, status_changed_at,
	source_updated_at, review_notes, created_at, updated_at`

// authorRepo is the concrete implementation of AuthorRepository
type authorRepo struct {
	db Querier
}

// NewAuthorRepo creates a new author profile repository
func NewAuthorRepo(db Querier) AuthorRepository {
	return &authorRepo{db: db}
}

func scanAuthor(row rowScanner) (*models.AuthorProfile, error) {
	var p models.AuthorProfile
	var externalID, reviewNotes sql.NullString
	var approvedAt, statusChangedAt, sourceUpdatedAt sql.NullTime

	err := row.Scan(
		&p.ID, &externalID, &p.UserID, &p.Status, &approvedAt, &statusChangedAt,
		&sourceUpdatedAt, &reviewNotes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ExternalID = externalID.String
	p.ReviewNotes = reviewNotes.String
	p.ApprovedAt = timePtr(approvedAt)
	p.StatusChangedAt = timePtr(statusChangedAt)
	p.SourceUpdatedAt = timePtr(sourceUpdatedAt)
	return &p, nil
}

func (r *authorRepo) getOne(ctx context.Context, query string, args ...any) (*models.AuthorProfile, error) {
	profile, err := scanAuthor(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// GetByID retrieves a profile by its local ID
func (r *authorRepo) GetByID(ctx context.Context, id string) (*models.AuthorProfile, error) {
	return r.getOne(ctx, `SELECT `+authorColumns+` FROM author_profiles WHERE id = $1`, id)
}

// GetByExternalID retrieves a profile by its CMS identifier
func (r *authorRepo) GetByExternalID(ctx context.Context, externalID string) (*models.AuthorProfile, error) {
	return r.getOne(ctx, `SELECT `+authorColumns+` FROM author_profiles WHERE external_id = $1`, externalID)
}

// GetByExternalIDForUpdate retrieves and row-locks a profile
func (r *authorRepo) GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.AuthorProfile, error) {
	return r.getOne(ctx, `SELECT `+authorColumns+` FROM author_profiles WHERE external_id = $1 FOR UPDATE`, externalID)
}

// GetByUserIDForUpdate retrieves and row-locks the profile owned by a user
func (r *authorRepo) GetByUserIDForUpdate(ctx context.Context, userID string) (*models.AuthorProfile, error) {
	return r.getOne(ctx, `SELECT `+authorColumns+` FROM author_profiles WHERE user_id = $1 FOR UPDATE`, userID)
}

// Insert creates a profile. Unique violations on external_id or user_id
// surface as ErrDuplicate.
func (r *authorRepo) Insert(ctx context.Context, profile *models.AuthorProfile) error {
	query := `
		INSERT INTO author_profiles (id, external_id, user_id, status, approved_at, status_changed_at,
			source_updated_at, review_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		profile.ID, nullString(profile.ExternalID), profile.UserID, profile.Status,
		profile.ApprovedAt, profile.StatusChangedAt, profile.SourceUpdatedAt,
		nullString(profile.ReviewNotes), now,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	profile.CreatedAt = now
	profile.UpdatedAt = now
	return nil
}

// Update writes every mutable profile field
func (r *authorRepo) Update(ctx context.Context, profile *models.AuthorProfile) error {
	query := `
		UPDATE author_profiles SET
			external_id = $1, status = $2, approved_at = $3, status_changed_at = $4,
			source_updated_at = $5, review_notes = $6, updated_at = $7
		WHERE id = $8
	`
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		nullString(profile.ExternalID), profile.Status, profile.ApprovedAt, profile.StatusChangedAt,
		profile.SourceUpdatedAt, nullString(profile.ReviewNotes), now, profile.ID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	profile.UpdatedAt = now
	return nil
}

// Count returns the total number of author profiles
func (r *authorRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM author_profiles").Scan(&count)
	return count, err
}
