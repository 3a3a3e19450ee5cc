package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/application/metric"
	"github.com/qrave1/parley/internal/domain/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageStore - кэш недавних сообщений и их прочтений. Записи живут не дольше retention
// и удаляются только фоновой очисткой.
type MessageStore interface {
	Put(msg models.EphemeralMessage)
	Get(id uuid.UUID) (models.EphemeralMessage, error)
	// MarkRead records userID as a reader. added is false if it already was one.
	MarkRead(id, userID uuid.UUID, at time.Time) (readBy []models.ReadReceipt, added bool, err error)
	// Evict drops messages older than the retention window relative to now.
	Evict(now time.Time) int
	Run(ctx context.Context, interval time.Duration) error
}

type messageEntry struct {
	mu      sync.Mutex
	msg     models.EphemeralMessage
	readers map[uuid.UUID]struct{}
}

func (e *messageEntry) snapshot() models.EphemeralMessage {
	m := e.msg
	m.ReadBy = append([]models.ReadReceipt(nil), e.msg.ReadBy...)
	m.Attachments = append([]models.Attachment(nil), e.msg.Attachments...)

	return m
}

type messageStore struct {
	retention time.Duration
	entries   *shardedMap[uuid.UUID, *messageEntry]
}

func NewMessageStore(retention time.Duration, shards int) MessageStore {
	return &messageStore{
		retention: retention,
		entries:   newShardedMap[uuid.UUID, *messageEntry](shards, hashUUID),
	}
}

func (s *messageStore) Put(msg models.EphemeralMessage) {
	entry := &messageEntry{
		msg:     msg,
		readers: make(map[uuid.UUID]struct{}, len(msg.ReadBy)),
	}

	entry.msg.ReadBy = entry.msg.ReadBy[:0:0]
	for _, r := range msg.ReadBy {
		if _, dup := entry.readers[r.UserID]; dup {
			continue
		}
		entry.readers[r.UserID] = struct{}{}
		entry.msg.ReadBy = append(entry.msg.ReadBy, r)
	}

	replaced := false
	s.entries.Update(msg.ID, func(_ *messageEntry, ok bool) (*messageEntry, bool) {
		replaced = ok
		return entry, true
	})

	if !replaced {
		metric.IncrementEphemeralMessages()
	}
}

func (s *messageStore) Get(id uuid.UUID) (models.EphemeralMessage, error) {
	entry, ok := s.entries.Get(id)
	if !ok {
		return models.EphemeralMessage{}, ErrMessageNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.snapshot(), nil
}

func (s *messageStore) MarkRead(id, userID uuid.UUID, at time.Time) ([]models.ReadReceipt, bool, error) {
	entry, ok := s.entries.Get(id)
	if !ok {
		return nil, false, ErrMessageNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	_, seen := entry.readers[userID]
	if !seen {
		entry.readers[userID] = struct{}{}
		entry.msg.ReadBy = append(entry.msg.ReadBy, models.ReadReceipt{UserID: userID, ReadAt: at})
	}

	return append([]models.ReadReceipt(nil), entry.msg.ReadBy...), !seen, nil
}

func (s *messageStore) Evict(now time.Time) int {
	cutoff := now.Add(-s.retention)

	removed := s.entries.DeleteFunc(func(_ uuid.UUID, e *messageEntry) bool {
		// CreatedAt не меняется после Put, блокировка записи не нужна
		return e.msg.CreatedAt.Before(cutoff)
	})

	if removed > 0 {
		metric.RecordEvictedMessages(removed)
	}

	return removed
}

// Run очищает устаревшие сообщения каждые interval, пока ctx не отменен.
func (s *messageStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("evicted ephemeral messages", slog.Int("count", n))
			}
		}
	}
}
