package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gofamint/content-sync/internal/database"
	"github.com/gofamint/content-sync/internal/models"
	"github.com/lib/pq"
)

// ErrDuplicate reports that a concurrent writer created the same unique row
var ErrDuplicate = errors.New("repository: duplicate key")

// Querier is satisfied by both *sql.DB and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ArticleRepository defines the interface for article mirror operations
type ArticleRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Article, error)
	GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Article, error)
	Insert(ctx context.Context, article *models.Article) error
	UpdateSynced(ctx context.Context, article *models.Article) error
	IncrementViews(ctx context.Context, externalID string, verified bool) (bool, error)
	Count(ctx context.Context) (int, error)
	StreamAll(ctx context.Context, filter models.ArticleFilter, callback func(*models.Article) error) error
}

// AuthorRepository defines the interface for author profile operations
type AuthorRepository interface {
	GetByID(ctx context.Context, id string) (*models.AuthorProfile, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.AuthorProfile, error)
	GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.AuthorProfile, error)
	GetByUserIDForUpdate(ctx context.Context, userID string) (*models.AuthorProfile, error)
	Insert(ctx context.Context, profile *models.AuthorProfile) error
	Update(ctx context.Context, profile *models.AuthorProfile) error
	Count(ctx context.Context) (int, error)
}

// UserRepository reads accounts owned by the auth system
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Transactor runs fn against repositories bound to one transaction. The
// transaction commits only when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *Repositories) error) error
}

// Repositories holds all repository interfaces
type Repositories struct {
	Article ArticleRepository
	Author  AuthorRepository
	User    UserRepository
	Tx      Transactor
}

// New creates all repositories with the given database connection
func New(db *database.DB) *Repositories {
	repos := bind(db.DB)
	repos.Tx = &sqlTransactor{db: db.DB}
	return repos
}

func bind(q Querier) *Repositories {
	return &Repositories{
		Article: NewArticleRepo(q),
		Author:  NewAuthorRepo(q),
		User:    NewUserRepo(q),
	}
}

type sqlTransactor struct {
	db *sql.DB
}

func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(tx *Repositories) error) error {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	repos := bind(tx)
	repos.Tx = nestedTransactor{repos: repos}
	if err := fn(repos); err != nil {
		return err
	}
	return tx.Commit()
}

// nestedTransactor reuses the enclosing transaction
type nestedTransactor struct {
	repos *Repositories
}

func (n nestedTransactor) WithinTx(ctx context.Context, fn func(tx *Repositories) error) error {
	return fn(n.repos)
}

// isUniqueViolation detects PostgreSQL unique_violation (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// helper to convert empty string to NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
