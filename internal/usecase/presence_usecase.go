package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/apperr"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/roomkey"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
)

// PresenceUsecase пересылает typing уведомления. Ничего не хранит и не повторяет.
type PresenceUsecase interface {
	Typing(ctx context.Context, conn *runtime.Connection, in events.TypingRequest) (struct{}, error)
	StopTyping(ctx context.Context, conn *runtime.Connection, in events.TypingRequest) (struct{}, error)
}

type presenceUsecase struct {
	rooms  memory.RoomMembersRepository
	notify *notifier
}

func NewPresenceUsecase(registry memory.ConnectionRegistry, rooms memory.RoomMembersRepository) PresenceUsecase {
	return &presenceUsecase{
		rooms:  rooms,
		notify: newNotifier(registry, rooms),
	}
}

func (p *presenceUsecase) Typing(_ context.Context, conn *runtime.Connection, in events.TypingRequest) (struct{}, error) {
	return struct{}{}, p.relay(conn, in, events.UserTyping, events.UserTypingDM)
}

func (p *presenceUsecase) StopTyping(_ context.Context, conn *runtime.Connection, in events.TypingRequest) (struct{}, error) {
	return struct{}{}, p.relay(conn, in, events.UserStoppedTyping, events.UserStoppedTypingDM)
}

func (p *presenceUsecase) relay(conn *runtime.Connection, in events.TypingRequest, roomEvent, directEvent string) error {
	if (in.Room == "") == (in.RecipientID == "") {
		return apperr.New(apperr.BadRequest, "exactly one of room or recipientId is required")
	}

	if in.Room != "" {
		key := roomkey.Key(in.Room)
		if !p.rooms.IsMember(conn.ID(), key) {
			return apperr.New(apperr.NotAMember, "not subscribed to this room")
		}

		p.notify.toRoom(key, roomEvent, events.TypingEvent{UserID: conn.UserID(), Room: in.Room}, conn.ID())

		return nil
	}

	recipientID, err := uuid.Parse(in.RecipientID)
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, "invalid recipientId", err)
	}

	// офлайн получатель просто ничего не получит
	p.notify.toUser(recipientID, directEvent, events.TypingEvent{UserID: conn.UserID(), RecipientID: recipientID})

	return nil
}
