package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/qrave1/parley/internal/domain/models"
)

//go:generate mockgen -source=user_repository.go -destination=mocks/user_repository_mock.go -package=mocks

type UserRepository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) error
}

type userRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User

	query := "SELECT id, username, status, created_at, updated_at FROM users WHERE id = $1"

	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("get user: %w", err)
	}

	return &user, nil
}

func (r *userRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET status = $1, updated_at = now() WHERE id = $2",
		status,
		id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if aff, err := res.RowsAffected(); aff == 0 || err != nil {
		return fmt.Errorf("update status no rows affected: %w", ErrNotFound)
	}

	return nil
}
