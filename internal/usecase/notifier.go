package usecase

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/roomkey"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
)

// notifier раздает исходящие события. Получатели вычисляются в момент отправки,
// отправка никогда не блокируется.
type notifier struct {
	registry memory.ConnectionRegistry
	rooms    memory.RoomMembersRepository
}

func newNotifier(registry memory.ConnectionRegistry, rooms memory.RoomMembersRepository) *notifier {
	return &notifier{registry: registry, rooms: rooms}
}

// toRoom sends to every connection subscribed to key except the one with id except.
func (n *notifier) toRoom(key roomkey.Key, eventType string, data any, except uuid.UUID) {
	frame := events.Outbound{Type: eventType, Data: data}

	for _, connID := range n.rooms.MembersOf(key) {
		if connID == except {
			continue
		}

		conn, ok := n.registry.Get(connID)
		if !ok {
			continue
		}

		n.send(conn, frame)
	}
}

func (n *notifier) toUser(userID uuid.UUID, eventType string, data any) {
	frame := events.Outbound{Type: eventType, Data: data}

	for _, conn := range n.registry.ResolveConnections(userID) {
		n.send(conn, frame)
	}
}

func (n *notifier) send(conn *runtime.Connection, frame events.Outbound) {
	if err := conn.Send(frame); err != nil {
		slog.Warn(
			"drop outbound event",
			slog.String(constant.Event, frame.Type),
			slog.Any(constant.ConnID, conn.ID()),
			slog.Any(constant.Error, err),
		)
	}
}
