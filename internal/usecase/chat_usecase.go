package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/apperr"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/models"
	"github.com/qrave1/parley/internal/domain/roomkey"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository"
)

type ChatUsecase interface {
	JoinRoom(ctx context.Context, conn *runtime.Connection, in events.RoomRequest) (*events.RoomRequest, error)
	LeaveRoom(ctx context.Context, conn *runtime.Connection, in events.RoomRequest) (*events.RoomRequest, error)

	SendMessage(ctx context.Context, conn *runtime.Connection, in events.SendMessageRequest) (*events.SendMessageResult, error)
	MarkRead(ctx context.Context, conn *runtime.Connection, in events.MessageRequest) (*events.ReadReceipts, error)
	GetReadReceipts(ctx context.Context, conn *runtime.Connection, in events.MessageRequest) (*events.ReadReceipts, error)
}

type chatUsecase struct {
	groupRepo repository.GroupRepository
	userRepo  repository.UserRepository

	rooms  memory.RoomMembersRepository
	store  memory.MessageStore
	notify *notifier

	now func() time.Time
}

func NewChatUsecase(
	groupRepo repository.GroupRepository,
	userRepo repository.UserRepository,
	registry memory.ConnectionRegistry,
	rooms memory.RoomMembersRepository,
	store memory.MessageStore,
) ChatUsecase {
	return &chatUsecase{
		groupRepo: groupRepo,
		userRepo:  userRepo,
		rooms:     rooms,
		store:     store,
		notify:    newNotifier(registry, rooms),
		now:       time.Now,
	}
}

// authorizeRoom проверяет, что пользователь может подписаться на текстовую комнату.
// Голосовые комнаты выдаются только через joinVoice.
func (c *chatUsecase) authorizeRoom(ctx context.Context, userID uuid.UUID, raw string) (roomkey.Key, error) {
	p, err := roomkey.Parse(raw)
	if err != nil {
		return "", apperr.Wrap(apperr.BadRequest, "invalid room", err)
	}

	if p.Kind == roomkey.KindVoice {
		return "", apperr.New(apperr.BadRequest, "voice rooms are joined with joinVoice")
	}

	groupID, err := p.ScopeID()
	if err != nil {
		return "", apperr.Wrap(apperr.BadRequest, "invalid room", err)
	}

	ok, err := c.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil {
		return "", fmt.Errorf("check group membership: %w", err)
	}

	if !ok {
		return "", apperr.New(apperr.NotAMember, "not a member of this group")
	}

	return roomkey.Key(raw), nil
}

func (c *chatUsecase) JoinRoom(ctx context.Context, conn *runtime.Connection, in events.RoomRequest) (*events.RoomRequest, error) {
	key, err := c.authorizeRoom(ctx, conn.UserID(), in.Room)
	if err != nil {
		return nil, err
	}

	c.rooms.Join(conn.ID(), key)

	return &events.RoomRequest{Room: key.String()}, nil
}

func (c *chatUsecase) LeaveRoom(_ context.Context, conn *runtime.Connection, in events.RoomRequest) (*events.RoomRequest, error) {
	p, err := roomkey.Parse(in.Room)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid room", err)
	}

	if p.Kind == roomkey.KindVoice {
		return nil, apperr.New(apperr.BadRequest, "voice rooms are left with leaveVoice")
	}

	c.rooms.Leave(conn.ID(), roomkey.Key(in.Room))

	return &events.RoomRequest{Room: in.Room}, nil
}

func (c *chatUsecase) SendMessage(
	ctx context.Context,
	conn *runtime.Connection,
	in events.SendMessageRequest,
) (*events.SendMessageResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return nil, apperr.New(apperr.BadRequest, "message is empty")
	}

	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return nil, apperr.Newf(apperr.BadRequest, "message is longer than %d characters", models.MaxContentLength)
	}

	if (in.Room == "") == (in.RecipientID == "") {
		return nil, apperr.New(apperr.BadRequest, "exactly one of room or recipientId is required")
	}

	now := c.now()
	senderID := conn.UserID()

	msg := models.EphemeralMessage{
		ID:          uuid.New(),
		SenderID:    senderID,
		Content:     content,
		Attachments: in.Attachments,
		CreatedAt:   now,
		ReadBy:      []models.ReadReceipt{{UserID: senderID, ReadAt: now}},
	}

	if in.Room != "" {
		key := roomkey.Key(in.Room)
		if !c.rooms.IsMember(conn.ID(), key) {
			return nil, apperr.New(apperr.NotAMember, "not subscribed to this room")
		}

		msg.Room = key
		c.store.Put(msg)
		c.notify.toRoom(key, events.RoomMessage, msg, uuid.Nil)

		return &events.SendMessageResult{MessageID: msg.ID}, nil
	}

	recipientID, err := uuid.Parse(in.RecipientID)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid recipientId", err)
	}

	if recipientID == senderID {
		return nil, apperr.New(apperr.BadRequest, "cannot message yourself")
	}

	if _, err = c.userRepo.GetUserByID(ctx, recipientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "recipient not found")
		}

		return nil, fmt.Errorf("get recipient: %w", err)
	}

	msg.RecipientID = recipientID
	c.store.Put(msg)

	c.notify.toUser(recipientID, events.DirectMessage, msg)
	c.notify.toUser(senderID, events.DirectMessage, msg)

	return &events.SendMessageResult{MessageID: msg.ID}, nil
}

// visibleMessage возвращает сообщение, если соединение имеет право его видеть.
func (c *chatUsecase) visibleMessage(conn *runtime.Connection, rawID string) (models.EphemeralMessage, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return models.EphemeralMessage{}, apperr.Wrap(apperr.BadRequest, "invalid messageId", err)
	}

	msg, err := c.store.Get(id)
	if err != nil {
		return models.EphemeralMessage{}, apperr.Wrap(apperr.NotFound, "message not found", err)
	}

	if msg.IsDirect() {
		if conn.UserID() != msg.SenderID && conn.UserID() != msg.RecipientID {
			return models.EphemeralMessage{}, apperr.New(apperr.NotAMember, "not a party of this conversation")
		}

		return msg, nil
	}

	if !c.rooms.IsMember(conn.ID(), msg.Room) {
		return models.EphemeralMessage{}, apperr.New(apperr.NotAMember, "not subscribed to this room")
	}

	return msg, nil
}

func (c *chatUsecase) MarkRead(_ context.Context, conn *runtime.Connection, in events.MessageRequest) (*events.ReadReceipts, error) {
	msg, err := c.visibleMessage(conn, in.MessageID)
	if err != nil {
		return nil, err
	}

	readBy, added, err := c.store.MarkRead(msg.ID, conn.UserID(), c.now())
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "message not found", err)
	}

	receipts := &events.ReadReceipts{
		MessageID: msg.ID,
		Room:      msg.Room.String(),
		UserID:    conn.UserID(),
		ReadBy:    readBy,
	}

	if added {
		if msg.IsDirect() {
			c.notify.toUser(msg.SenderID, events.MessageRead, receipts)
			c.notify.toUser(msg.RecipientID, events.MessageRead, receipts)
		} else {
			c.notify.toRoom(msg.Room, events.MessageRead, receipts, uuid.Nil)
		}
	}

	return receipts, nil
}

func (c *chatUsecase) GetReadReceipts(
	_ context.Context,
	conn *runtime.Connection,
	in events.MessageRequest,
) (*events.ReadReceipts, error) {
	msg, err := c.visibleMessage(conn, in.MessageID)
	if err != nil {
		return nil, err
	}

	return &events.ReadReceipts{
		MessageID: msg.ID,
		Room:      msg.Room.String(),
		ReadBy:    msg.ReadBy,
	}, nil
}
