package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gofamint/content-sync/internal/models"
)

const articleColumns = `a.id, a.external_id, a.slug, a.revision, a.author_id, a.published_at,
	a.approved, a.approved_at, a.generic_views, a.verified_views, a.source_updated_at,
	a.last_synced_at, a.deleted_at, a.created_at, a.updated_at`

// articleRepo is the concrete implementation of ArticleRepository
type articleRepo struct {
	db Querier
}

// NewArticleRepo creates a new article repository
func NewArticleRepo(db Querier) ArticleRepository {
	return &articleRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*models.Article, error) {
	var a models.Article
	var publishedAt, approvedAt, sourceUpdatedAt, deletedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.ExternalID, &a.Slug, &a.Revision, &a.AuthorID, &publishedAt,
		&a.Approved, &approvedAt, &a.GenericViews, &a.VerifiedViews, &sourceUpdatedAt,
		&a.LastSyncedAt, &deletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.PublishedAt = timePtr(publishedAt)
	a.ApprovedAt = timePtr(approvedAt)
	a.SourceUpdatedAt = timePtr(sourceUpdatedAt)
	a.DeletedAt = timePtr(deletedAt)
	return &a, nil
}

// GetByExternalID retrieves a mirror row, tombstones included
func (r *articleRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles a WHERE a.external_id = $1`
	return r.getOne(ctx, query, externalID)
}

// GetByExternalIDForUpdate retrieves and row-locks a mirror row. Must run
// inside a transaction.
func (r *articleRepo) GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles a WHERE a.external_id = $1 FOR UPDATE`
	return r.getOne(ctx, query, externalID)
}

func (r *articleRepo) getOne(ctx context.Context, query string, args ...any) (*models.Article, error) {
	article, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return article, nil
}

// Insert creates a mirror row. A concurrent insert of the same external id
// surfaces as ErrDuplicate.
func (r *articleRepo) Insert(ctx context.Context, article *models.Article) error {
	query := `
		INSERT INTO articles (id, external_id, slug, revision, author_id, published_at, approved,
			approved_at, source_updated_at, last_synced_at, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING created_at
	`
	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, query,
		article.ID, article.ExternalID, article.Slug, article.Revision, article.AuthorID,
		article.PublishedAt, article.Approved, article.ApprovedAt, article.SourceUpdatedAt,
		article.LastSyncedAt, article.DeletedAt, now,
	).Scan(&article.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	article.UpdatedAt = article.CreatedAt
	return nil
}

// UpdateSynced writes the fields owned by sync. View counters are never
// part of this statement.
func (r *articleRepo) UpdateSynced(ctx context.Context, article *models.Article) error {
	query := `
		UPDATE articles SET
			slug = $1, revision = $2, author_id = $3, published_at = $4, approved = $5,
			approved_at = $6, source_updated_at = $7, deleted_at = $8, last_synced_at = $9,
			updated_at = $10
		WHERE id = $11
	`
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		article.Slug, article.Revision, article.AuthorID, article.PublishedAt, article.Approved,
		article.ApprovedAt, article.SourceUpdatedAt, article.DeletedAt, article.LastSyncedAt,
		now, article.ID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	article.UpdatedAt = now
	return nil
}

// IncrementViews bumps one counter of a live article
func (r *articleRepo) IncrementViews(ctx context.Context, externalID string, verified bool) (bool, error) {
	query := `UPDATE articles SET generic_views = generic_views + 1 WHERE external_id = $1 AND deleted_at IS NULL`
	if verified {
		query = `UPDATE articles SET verified_views = verified_views + 1 WHERE external_id = $1 AND deleted_at IS NULL`
	}
	result, err := r.db.ExecContext(ctx, query, externalID)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Count returns the number of live articles
func (r *articleRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles WHERE deleted_at IS NULL").Scan(&count)
	return count, err
}

// StreamAll streams live articles matching filter, newest publication first
func (r *articleRepo) StreamAll(ctx context.Context, filter models.ArticleFilter, callback func(*models.Article) error) error {
	builder := sq.Select(articleColumns).
		From("articles a").
		Where(sq.Eq{"a.deleted_at": nil}).
		OrderBy("a.published_at DESC NULLS LAST", "a.external_id").
		PlaceholderFormat(sq.Dollar)

	if filter.AuthorExternalID != "" {
		builder = builder.
			Join("author_profiles p ON p.id = a.author_id").
			Where(sq.Eq{"p.external_id": filter.AuthorExternalID})
	}
	if filter.Approved != nil {
		builder = builder.Where(sq.Eq{"a.approved": *filter.Approved})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return err
		}
		if err := callback(article); err != nil {
			return err
		}
	}

	return rows.Err()
}
