package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gofamint/content-sync/internal/models"
)

// userRepo is the concrete implementation of UserRepository
type userRepo struct {
	db Querier
}

// NewUserRepo creates a new user repository
func NewUserRepo(db Querier) UserRepository {
	return &userRepo{db: db}
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`

	var user models.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}
