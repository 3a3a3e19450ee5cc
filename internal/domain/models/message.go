package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/roomkey"
)

const MaxContentLength = 2000

type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

type ReadReceipt struct {
	UserID uuid.UUID `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// EphemeralMessage - сообщение, которое живет в памяти до истечения срока хранения.
// Room пустой для личных сообщений, тогда заполнен RecipientID.
type EphemeralMessage struct {
	ID          uuid.UUID     `json:"id"`
	Room        roomkey.Key   `json:"room,omitempty"`
	RecipientID uuid.UUID     `json:"recipientId,omitzero"`
	SenderID    uuid.UUID     `json:"senderId"`
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	ReadBy      []ReadReceipt `json:"readBy"`
}

func (m *EphemeralMessage) IsDirect() bool {
	return m.Room == ""
}

// Readers returns reader ids in the order they were recorded.
func (m *EphemeralMessage) Readers() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		ids = append(ids, r.UserID)
	}

	return ids
}
