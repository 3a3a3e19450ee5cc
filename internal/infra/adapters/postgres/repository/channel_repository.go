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

//go:generate mockgen -source=channel_repository.go -destination=mocks/channel_repository_mock.go -package=mocks

type ChannelRepository interface {
	GetVoiceChannel(ctx context.Context, id uuid.UUID) (*models.VoiceChannel, error)
}

type channelRepo struct {
	db *sqlx.DB
}

func NewChannelRepo(db *sqlx.DB) ChannelRepository {
	return &channelRepo{db: db}
}

func (r *channelRepo) GetVoiceChannel(ctx context.Context, id uuid.UUID) (*models.VoiceChannel, error) {
	var channel models.VoiceChannel

	err := r.db.GetContext(
		ctx,
		&channel,
		"SELECT id, group_id, name, max_users, created_at FROM voice_channels WHERE id = $1",
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("get voice channel: %w", err)
	}

	return &channel, nil
}
