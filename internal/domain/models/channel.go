package models

import (
	"time"

	"github.com/google/uuid"
)

// VoiceChannel - голосовой канал внутри группы
type VoiceChannel struct {
	ID        uuid.UUID `json:"id" db:"id"`
	GroupID   uuid.UUID `json:"group_id" db:"group_id"`
	Name      string    `json:"name" db:"name"`
	MaxUsers  int       `json:"max_users" db:"max_users"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Capacity returns the channel limit, falling back to def when the row has none.
func (c *VoiceChannel) Capacity(def int) int {
	if c.MaxUsers > 0 {
		return c.MaxUsers
	}

	return def
}
