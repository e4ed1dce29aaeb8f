package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofamint/content-sync/internal/database"
	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/repository"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var articleCols = []string{
	"id", "external_id", "slug", "revision", "author_id", "published_at",
	"approved", "approved_at", "generic_views", "verified_views", "source_updated_at",
	"last_synced_at", "deleted_at", "created_at", "updated_at",
}

var authorCols = []string{
	"id", "external_id", "user_id", "status", "approved_at", "status_changed_at",
	"source_updated_at", "review_notes", "created_at", "updated_at",
}

func newRepos(t *testing.T) (*repository.Repositories, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.New(database.Wrap(db, zerolog.Nop())), mock
}

func TestArticleRepo_GetByExternalID(t *testing.T) {
	repos, mock := newRepos(t)
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM articles a WHERE a.external_id = $1")).
			WithArgs("X1").
			WillReturnRows(sqlmock.NewRows(articleCols).AddRow(
				"a-1", "X1", "hello", "r1", "p-1", now,
				true, now, int64(4), int64(2), nil,
				now, nil, now, now,
			))

		article, err := repos.Article.GetByExternalID(context.Background(), "X1")
		require.NoError(t, err)
		require.NotNil(t, article)
		assert.Equal(t, "hello", article.Slug)
		assert.Equal(t, int64(4), article.GenericViews)
		assert.NotNil(t, article.ApprovedAt)
		assert.Nil(t, article.SourceUpdatedAt)
		assert.False(t, article.Deleted())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM articles a WHERE a.external_id = $1")).
			WithArgs("X404").
			WillReturnRows(sqlmock.NewRows(articleCols))

		article, err := repos.Article.GetByExternalID(context.Background(), "X404")
		require.NoError(t, err)
		assert.Nil(t, article)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_GetForUpdateLocksRow(t *testing.T) {
	repos, mock := newRepos(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE a.external_id = $1 FOR UPDATE")).
		WithArgs("X1").
		WillReturnRows(sqlmock.NewRows(articleCols))

	_, err := repos.Article.GetByExternalIDForUpdate(context.Background(), "X1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_Insert(t *testing.T) {
	repos, mock := newRepos(t)
	article := &models.Article{ID: "a-1", ExternalID: "X1", AuthorID: "p-1", LastSyncedAt: time.Now().UTC()}
	insert := regexp.QuoteMeta("ON CONFLICT (external_id) DO NOTHING")

	t.Run("created", func(t *testing.T) {
		created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

		require.NoError(t, repos.Article.Insert(context.Background(), article))
		assert.Equal(t, created, article.CreatedAt)
	})

	t.Run("lost race", func(t *testing.T) {
		mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"created_at"}))

		err := repos.Article.Insert(context.Background(), article)
		assert.ErrorIs(t, err, repository.ErrDuplicate)
	})

	t.Run("unique violation", func(t *testing.T) {
		mock.ExpectQuery(insert).WillReturnError(&pq.Error{Code: "23505"})

		err := repos.Article.Insert(context.Background(), article)
		assert.ErrorIs(t, err, repository.ErrDuplicate)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_UpdateSyncedLeavesCounters(t *testing.T) {
	repos, mock := newRepos(t)
	article := &models.Article{ID: "a-1", ExternalID: "X1", Slug: "s", AuthorID: "p-1"}

	mock.ExpectExec(`UPDATE articles SET\s+slug = \$1, revision = \$2, author_id = \$3, published_at = \$4, approved = \$5,\s+approved_at = \$6, source_updated_at = \$7, deleted_at = \$8, last_synced_at = \$9,\s+updated_at = \$10\s+WHERE id = \$11`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repos.Article.UpdateSynced(context.Background(), article))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE articles SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repos.Article.UpdateSynced(context.Background(), article)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_IncrementViews(t *testing.T) {
	repos, mock := newRepos(t)

	mock.ExpectExec(regexp.QuoteMeta("SET verified_views = verified_views + 1 WHERE external_id = $1 AND deleted_at IS NULL")).
		WithArgs("X1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	found, err := repos.Article.IncrementViews(context.Background(), "X1", true)
	require.NoError(t, err)
	assert.True(t, found)

	mock.ExpectExec(regexp.QuoteMeta("SET generic_views = generic_views + 1")).
		WithArgs("X404").
		WillReturnResult(sqlmock.NewResult(0, 0))
	found, err = repos.Article.IncrementViews(context.Background(), "X404", false)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_StreamAllFilters(t *testing.T) {
	repos, mock := newRepos(t)
	now := time.Now().UTC()
	approved := true

	mock.ExpectQuery(regexp.QuoteMeta("FROM articles a JOIN author_profiles p ON p.id = a.author_id WHERE a.deleted_at IS NULL AND p.external_id = $1 AND a.approved = $2")).
		WithArgs("A1", true).
		WillReturnRows(sqlmock.NewRows(articleCols).
			AddRow("a-1", "X1", "one", "r1", "p-1", now, true, now, int64(0), int64(0), nil, now, nil, now, now).
			AddRow("a-2", "X2", "two", "r1", "p-1", nil, true, now, int64(0), int64(0), nil, now, nil, now, now))

	var ids []string
	err := repos.Article.StreamAll(context.Background(), models.ArticleFilter{AuthorExternalID: "A1", Approved: &approved, Limit: 10}, func(a *models.Article) error {
		ids = append(ids, a.ExternalID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"X1", "X2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArticleRepo_StreamAllStopsOnCallbackError(t *testing.T) {
	repos, mock := newRepos(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM articles a WHERE a.deleted_at IS NULL")).
		WillReturnRows(sqlmock.NewRows(articleCols).
			AddRow("a-1", "X1", "one", "r1", "p-1", nil, false, nil, int64(0), int64(0), nil, now, nil, now, now))

	stop := errors.New("client gone")
	err := repos.Article.StreamAll(context.Background(), models.ArticleFilter{}, func(a *models.Article) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestAuthorRepo_Lookups(t *testing.T) {
	repos, mock := newRepos(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM author_profiles WHERE user_id = $1 FOR UPDATE")).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(authorCols).
			AddRow("p-1", nil, "u-1", "approved", now, now, nil, nil, now, now))

	profile, err := repos.Author.GetByUserIDForUpdate(context.Background(), "u-1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "", profile.ExternalID)
	assert.Equal(t, models.ApprovalApproved, profile.Status)
	assert.NotNil(t, profile.ApprovedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM author_profiles WHERE external_id = $1")).
		WithArgs("A404").
		WillReturnRows(sqlmock.NewRows(authorCols))

	profile, err = repos.Author.GetByExternalID(context.Background(), "A404")
	require.NoError(t, err)
	assert.Nil(t, profile)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorRepo_Writes(t *testing.T) {
	repos, mock := newRepos(t)
	profile := &models.AuthorProfile{ID: "p-1", ExternalID: "A1", UserID: "u-1", Status: models.ApprovalPending}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO author_profiles")).WillReturnError(&pq.Error{Code: "23505"})
	assert.ErrorIs(t, repos.Author.Insert(context.Background(), profile), repository.ErrDuplicate)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO author_profiles")).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repos.Author.Insert(context.Background(), profile))
	assert.False(t, profile.CreatedAt.IsZero())

	mock.ExpectExec(regexp.QuoteMeta("UPDATE author_profiles SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repos.Author.Update(context.Background(), profile), sql.ErrNoRows)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID(t *testing.T) {
	repos, mock := newRepos(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "created_at", "updated_at"}).
			AddRow("u-1", "ada@example.org", "Ada", now, now))

	user, err := repos.User.GetByID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", user.Email)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "created_at", "updated_at"}))

	user, err = repos.User.GetByID(context.Background(), "u-404")
	require.NoError(t, err)
	assert.Nil(t, user)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		repos, mock := newRepos(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE articles SET generic_views")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repos.Tx.WithinTx(context.Background(), func(tx *repository.Repositories) error {
			_, err := tx.Article.IncrementViews(context.Background(), "X1", false)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		repos, mock := newRepos(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := repos.Tx.WithinTx(context.Background(), func(tx *repository.Repositories) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls share the transaction", func(t *testing.T) {
		repos, mock := newRepos(t)

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := repos.Tx.WithinTx(context.Background(), func(tx *repository.Repositories) error {
			return tx.Tx.WithinTx(context.Background(), func(inner *repository.Repositories) error {
				assert.Same(t, tx, inner)
				return nil
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
