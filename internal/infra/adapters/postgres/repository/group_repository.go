package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

//go:generate mockgen -source=group_repository.go -destination=mocks/group_repository_mock.go -package=mocks

// GroupRepository - источник постоянного членства в группах
type GroupRepository interface {
	GetGroupIDsByUserID(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
}

type groupRepo struct {
	db *sqlx.DB
}

func NewGroupRepo(db *sqlx.DB) GroupRepository {
	return &groupRepo{db: db}
}

func (r *groupRepo) GetGroupIDsByUserID(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	err := r.db.SelectContext(ctx, &ids, "SELECT group_id FROM group_members WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("select user groups: %w", err)
	}

	return ids, nil
}

func (r *groupRepo) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var exists bool

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM group_members
			WHERE group_id = $1 AND user_id = $2
		)
	`

	if err := r.db.GetContext(ctx, &exists, query, groupID, userID); err != nil {
		return false, fmt.Errorf("check group membership: %w", err)
	}

	return exists, nil
}
