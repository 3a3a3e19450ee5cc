package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/qrave1/parley/internal/domain/apperr"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/models"
	"github.com/qrave1/parley/internal/domain/roomkey"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository/mocks"
)

type chatFixture struct {
	groupRepo *mocks.MockGroupRepository
	userRepo  *mocks.MockUserRepository
	registry  memory.ConnectionRegistry
	rooms     memory.RoomMembersRepository
	store     memory.MessageStore
	chat      ChatUsecase
}

func newChatFixture(t *testing.T) *chatFixture {
	ctrl := gomock.NewController(t)

	f := &chatFixture{
		groupRepo: mocks.NewMockGroupRepository(ctrl),
		userRepo:  mocks.NewMockUserRepository(ctrl),
		registry:  memory.NewConnectionRegistry(4),
		rooms:     memory.NewRoomMembersRepository(4),
		store:     memory.NewMessageStore(time.Hour, 4),
	}
	f.chat = NewChatUsecase(f.groupRepo, f.userRepo, f.registry, f.rooms, f.store)

	return f
}

func TestChatRoomScenario(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	groupID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	room := roomkey.Chat(groupID).String()

	f.groupRepo.EXPECT().IsMember(gomock.Any(), groupID, gomock.Any()).Return(true, nil).Times(2)

	aliceConn, aliceSink := attach(f.registry, alice)
	bobConn, bobSink := attach(f.registry, bob)

	_, err := f.chat.JoinRoom(ctx, aliceConn, events.RoomRequest{Room: room})
	require.NoError(t, err)
	_, err = f.chat.JoinRoom(ctx, bobConn, events.RoomRequest{Room: room})
	require.NoError(t, err)

	sent, err := f.chat.SendMessage(ctx, aliceConn, events.SendMessageRequest{Room: room, Content: "  hello  "})
	require.NoError(t, err)

	for _, sink := range []*recordingSink{aliceSink, bobSink} {
		frames := sink.ofType(events.RoomMessage)
		require.Len(t, frames, 1)

		msg := frames[0].Data.(models.EphemeralMessage)
		assert.Equal(t, sent.MessageID, msg.ID)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, []uuid.UUID{alice}, msg.Readers())
	}

	receipts, err := f.chat.MarkRead(ctx, bobConn, events.MessageRequest{MessageID: sent.MessageID.String()})
	require.NoError(t, err)
	assert.Equal(t, room, receipts.Room)
	require.Len(t, receipts.ReadBy, 2)
	assert.Equal(t, alice, receipts.ReadBy[0].UserID)
	assert.Equal(t, bob, receipts.ReadBy[1].UserID)

	assert.Len(t, aliceSink.ofType(events.MessageRead), 1)
	assert.Len(t, bobSink.ofType(events.MessageRead), 1)

	// повторное прочтение ничего не рассылает
	_, err = f.chat.MarkRead(ctx, bobConn, events.MessageRequest{MessageID: sent.MessageID.String()})
	require.NoError(t, err)
	assert.Len(t, aliceSink.ofType(events.MessageRead), 1)

	got, err := f.chat.GetReadReceipts(ctx, aliceConn, events.MessageRequest{MessageID: sent.MessageID.String()})
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, 2)

	_, err = f.chat.LeaveRoom(ctx, bobConn, events.RoomRequest{Room: room})
	require.NoError(t, err)

	bobSink.reset()
	_, err = f.chat.SendMessage(ctx, aliceConn, events.SendMessageRequest{Room: room, Content: "again"})
	require.NoError(t, err)
	assert.Empty(t, bobSink.ofType(events.RoomMessage))
	assert.Len(t, aliceSink.ofType(events.RoomMessage), 2)
}

func TestJoinRoomRejections(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	groupID := uuid.New()
	conn, _ := attach(f.registry, uuid.New())

	f.groupRepo.EXPECT().IsMember(gomock.Any(), groupID, conn.UserID()).Return(false, nil)

	_, err := f.chat.JoinRoom(ctx, conn, events.RoomRequest{Room: roomkey.Chat(groupID).String()})
	assert.Equal(t, apperr.NotAMember, apperr.CodeOf(err))

	_, err = f.chat.JoinRoom(ctx, conn, events.RoomRequest{Room: roomkey.Voice(uuid.New()).String()})
	assert.Equal(t, apperr.BadRequest, apperr.CodeOf(err))

	_, err = f.chat.JoinRoom(ctx, conn, events.RoomRequest{Room: "lobby"})
	assert.Equal(t, apperr.BadRequest, apperr.CodeOf(err))

	assert.Empty(t, f.rooms.RoomsOf(conn.ID()))
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conn, _ := attach(f.registry, uuid.New())
	room := roomkey.Chat(uuid.New()).String()

	tests := []struct {
		name string
		in   events.SendMessageRequest
		code apperr.Code
	}{
		{"empty", events.SendMessageRequest{Room: room, Content: "   "}, apperr.BadRequest},
		{"too long", events.SendMessageRequest{Room: room, Content: strings.Repeat("я", models.MaxContentLength+1)}, apperr.BadRequest},
		{"no target", events.SendMessageRequest{Content: "hi"}, apperr.BadRequest},
		{"both targets", events.SendMessageRequest{Room: room, RecipientID: uuid.NewString(), Content: "hi"}, apperr.BadRequest},
		{"not subscribed", events.SendMessageRequest{Room: room, Content: "hi"}, apperr.NotAMember},
		{"self", events.SendMessageRequest{RecipientID: conn.UserID().String(), Content: "hi"}, apperr.BadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.chat.SendMessage(ctx, conn, tt.in)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}
}

func TestSendMessageAttachmentOnly(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	conn, _ := attach(f.registry, uuid.New())
	key := roomkey.Chat(uuid.New())
	f.rooms.Join(conn.ID(), key)

	_, err := f.chat.SendMessage(ctx, conn, events.SendMessageRequest{
		Room:        key.String(),
		Attachments: []models.Attachment{{Type: "image", URL: "https://cdn.example/a.png", Name: "a.png"}},
	})
	require.NoError(t, err)
}

func TestDirectMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice, bob := uuid.New(), uuid.New()
	aliceConn, aliceSink := attach(f.registry, alice)
	_, bobSink := attach(f.registry, bob)
	_, bobPhone := attach(f.registry, bob)
	strangerConn, strangerSink := attach(f.registry, uuid.New())

	f.userRepo.EXPECT().GetUserByID(gomock.Any(), bob).Return(&models.User{ID: bob}, nil)

	sent, err := f.chat.SendMessage(ctx, aliceConn, events.SendMessageRequest{RecipientID: bob.String(), Content: "psst"})
	require.NoError(t, err)

	assert.Len(t, aliceSink.ofType(events.DirectMessage), 1)
	assert.Len(t, bobSink.ofType(events.DirectMessage), 1)
	assert.Len(t, bobPhone.ofType(events.DirectMessage), 1)
	assert.Empty(t, strangerSink.ofType(events.DirectMessage))

	_, err = f.chat.MarkRead(ctx, strangerConn, events.MessageRequest{MessageID: sent.MessageID.String()})
	assert.Equal(t, apperr.NotAMember, apperr.CodeOf(err))
}

func TestDirectMessageUnknownRecipient(t *testing.T) {
	f := newChatFixture(t)

	conn, _ := attach(f.registry, uuid.New())
	recipient := uuid.New()

	f.userRepo.EXPECT().GetUserByID(gomock.Any(), recipient).Return(nil, repository.ErrNotFound)

	_, err := f.chat.SendMessage(context.Background(), conn, events.SendMessageRequest{
		RecipientID: recipient.String(),
		Content:     "hi",
	})
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))
}

func TestMarkReadUnknownMessage(t *testing.T) {
	f := newChatFixture(t)
	conn, _ := attach(f.registry, uuid.New())

	_, err := f.chat.MarkRead(context.Background(), conn, events.MessageRequest{MessageID: uuid.NewString()})
	assert.Equal(t, apperr.NotFound, apperr.CodeOf(err))

	_, err = f.chat.MarkRead(context.Background(), conn, events.MessageRequest{MessageID: "nope"})
	assert.Equal(t, apperr.BadRequest, apperr.CodeOf(err))
}
