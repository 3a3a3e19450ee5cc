package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/qrave1/parley/internal/domain/apperr"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/models"
	"github.com/qrave1/parley/internal/domain/roomkey"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository/mocks"
	"github.com/qrave1/parley/internal/infra/adapters/sfu"
)

type staticVerifier map[string]uuid.UUID

func (v staticVerifier) Verify(token string) (uuid.UUID, error) {
	id, ok := v[token]
	if !ok {
		return uuid.Nil, errors.New("signature is invalid")
	}

	return id, nil
}

type gatewayFixture struct {
	userRepo    *mocks.MockUserRepository
	groupRepo   *mocks.MockGroupRepository
	channelRepo *mocks.MockChannelRepository

	verifier staticVerifier
	registry memory.ConnectionRegistry
	rooms    memory.RoomMembersRepository
	sessions memory.VoiceSessionRepository
	relay    *fakeRelay

	gateway *gatewayUsecase
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	ctrl := gomock.NewController(t)

	f := &gatewayFixture{
		userRepo:    mocks.NewMockUserRepository(ctrl),
		groupRepo:   mocks.NewMockGroupRepository(ctrl),
		channelRepo: mocks.NewMockChannelRepository(ctrl),
		verifier:    staticVerifier{},
		registry:    memory.NewConnectionRegistry(4),
		rooms:       memory.NewRoomMembersRepository(4),
		sessions:    memory.NewVoiceSessionRepository(4),
		relay:       newFakeRelay(),
	}

	store := memory.NewMessageStore(time.Hour, 4)

	f.gateway = NewGatewayUsecase(GatewayParams{
		Verifier:      f.verifier,
		UserRepo:      f.userRepo,
		GroupRepo:     f.groupRepo,
		Registry:      f.registry,
		Rooms:         f.rooms,
		Chat:          NewChatUsecase(f.groupRepo, f.userRepo, f.registry, f.rooms, store),
		Presence:      NewPresenceUsecase(f.registry, f.rooms),
		Voice:         NewVoiceUsecase(f.channelRepo, f.groupRepo, f.registry, f.rooms, f.sessions, f.relay, 10),
		StatusQueue:   8,
		StatusTimeout: time.Second,
	}).(*gatewayUsecase)

	return f
}

// user registers a valid token for a new user that belongs to groups.
func (f *gatewayFixture) user(groups ...uuid.UUID) (uuid.UUID, string) {
	id := uuid.New()
	token := "token-" + id.String()
	f.verifier[token] = id

	f.userRepo.EXPECT().GetUserByID(gomock.Any(), id).Return(&models.User{ID: id, Username: "u"}, nil).AnyTimes()
	f.groupRepo.EXPECT().GetGroupIDsByUserID(gomock.Any(), id).Return(groups, nil).AnyTimes()

	return id, token
}

func (f *gatewayFixture) pendingStatuses() []statusUpdate {
	var out []statusUpdate
	for {
		select {
		case u := <-f.gateway.status.queue:
			out = append(out, u)
		default:
			return out
		}
	}
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

func TestConnectRejectsBadTokens(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	_, err := f.gateway.Connect(ctx, "", &recordingSink{})
	assert.Equal(t, apperr.AuthRequired, apperr.CodeOf(err))

	_, err = f.gateway.Connect(ctx, "forged", &recordingSink{})
	assert.Equal(t, apperr.AuthRequired, apperr.CodeOf(err))

	ghost := uuid.New()
	f.verifier["ghost"] = ghost
	f.userRepo.EXPECT().GetUserByID(gomock.Any(), ghost).Return(nil, repository.ErrNotFound)

	_, err = f.gateway.Connect(ctx, "ghost", &recordingSink{})
	assert.Equal(t, apperr.AuthRequired, apperr.CodeOf(err))

	assert.Zero(t, f.registry.Count())
	assert.Empty(t, f.pendingStatuses())
}

func TestConnectSubscribesGroupRooms(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	groupID := uuid.New()
	userID, token := f.user(groupID)

	conn, err := f.gateway.Connect(ctx, token, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, userID, conn.UserID())

	assert.ElementsMatch(t, []roomkey.Key{roomkey.Group(groupID), roomkey.Chat(groupID)}, f.rooms.RoomsOf(conn.ID()))
	assert.Equal(t, 1, f.registry.Count())
}

func TestStatusChangesOnFirstAndLastConnection(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	userID, token := f.user()

	phone, err := f.gateway.Connect(ctx, token, &recordingSink{})
	require.NoError(t, err)
	laptop, err := f.gateway.Connect(ctx, token, &recordingSink{})
	require.NoError(t, err)

	require.NoError(t, f.gateway.Disconnect(ctx, phone))
	require.NoError(t, f.gateway.Disconnect(ctx, laptop))
	// повторный disconnect ничего не меняет
	require.NoError(t, f.gateway.Disconnect(ctx, laptop))

	assert.Equal(t, []statusUpdate{
		{userID: userID, status: models.StatusOnline},
		{userID: userID, status: models.StatusOffline},
	}, f.pendingStatuses())
}

func TestRunWritesStatusesInOrder(t *testing.T) {
	f := newGatewayFixture(t)

	userID, token := f.user()
	done := make(chan struct{})

	gomock.InOrder(
		f.userRepo.EXPECT().UpdateStatus(gomock.Any(), userID, models.StatusOnline).Return(errors.New("db down")),
		f.userRepo.EXPECT().UpdateStatus(gomock.Any(), userID, models.StatusOffline).DoAndReturn(
			func(context.Context, uuid.UUID, models.Status) error {
				close(done)
				return nil
			},
		),
	)

	ctx, cancel := context.WithCancel(context.Background())

	var wg conc.WaitGroup
	wg.Go(func() {
		assert.NoError(t, f.gateway.Run(ctx))
	})

	conn, err := f.gateway.Connect(ctx, token, &recordingSink{})
	require.NoError(t, err)
	require.NoError(t, f.gateway.Disconnect(ctx, conn))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("status updates were not written")
	}

	cancel()
	wg.Wait()
}

func TestDispatch(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	groupID := uuid.New()
	_, token := f.user(groupID)
	sink := &recordingSink{}

	conn, err := f.gateway.Connect(ctx, token, sink)
	require.NoError(t, err)

	t.Run("unknown event", func(t *testing.T) {
		ack := f.gateway.Dispatch(ctx, conn, events.Message{Type: "dance", ID: "1"})

		assert.Equal(t, events.TypeAck, ack.Type)
		assert.Equal(t, "1", ack.ID)
		assert.Equal(t, "dance", ack.Event)
		require.NotNil(t, ack.Error)
		assert.Equal(t, string(apperr.BadRequest), ack.Error.Code)
	})

	t.Run("malformed payload", func(t *testing.T) {
		ack := f.gateway.Dispatch(ctx, conn, events.Message{Type: events.SendMessage, ID: "2", Data: json.RawMessage(`[1,2]`)})

		require.NotNil(t, ack.Error)
		assert.Equal(t, string(apperr.BadRequest), ack.Error.Code)
		assert.Nil(t, ack.Data)
	})

	t.Run("ping", func(t *testing.T) {
		ack := f.gateway.Dispatch(ctx, conn, events.Message{Type: events.Ping, ID: "3"})

		require.Nil(t, ack.Error)
		assert.IsType(t, events.Pong{}, ack.Data)
	})

	t.Run("send message", func(t *testing.T) {
		ack := f.gateway.Dispatch(ctx, conn, events.Message{
			Type: events.SendMessage,
			ID:   "4",
			Data: rawJSON(t, events.SendMessageRequest{Room: roomkey.Chat(groupID).String(), Content: "hi"}),
		})

		require.Nil(t, ack.Error)
		res, ok := ack.Data.(*events.SendMessageResult)
		require.True(t, ok)
		assert.NotEqual(t, uuid.Nil, res.MessageID)
		assert.Len(t, sink.ofType(events.RoomMessage), 1)
	})

	t.Run("leave voice when idle", func(t *testing.T) {
		ack := f.gateway.Dispatch(ctx, conn, events.Message{Type: events.LeaveVoice, ID: "5"})
		assert.Nil(t, ack.Error)
	})

	t.Run("handler panic", func(t *testing.T) {
		f.gateway.handlers["explode"] = func(context.Context, *runtime.Connection, json.RawMessage) (any, error) {
			panic("boom")
		}

		ack := f.gateway.Dispatch(ctx, conn, events.Message{Type: "explode", ID: "6"})

		assert.Equal(t, "6", ack.ID)
		require.NotNil(t, ack.Error)
		assert.Equal(t, string(apperr.Internal), ack.Error.Code)
		assert.Equal(t, "internal error", ack.Error.Message)
	})
}

func TestDisconnectReleasesEverything(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	groupID := uuid.New()
	_, token := f.user(groupID)
	ch := &models.VoiceChannel{ID: uuid.New(), GroupID: groupID, Name: "lounge"}

	f.channelRepo.EXPECT().GetVoiceChannel(gomock.Any(), ch.ID).Return(ch, nil)
	f.groupRepo.EXPECT().IsMember(gomock.Any(), groupID, gomock.Any()).Return(true, nil)

	conn, err := f.gateway.Connect(ctx, token, &recordingSink{})
	require.NoError(t, err)

	for i, msg := range []events.Message{
		{Type: events.JoinVoice, Data: rawJSON(t, events.JoinVoiceRequest{ChannelID: ch.ID.String()})},
		{Type: events.CreateTransport},
		{Type: events.Produce, Data: rawJSON(t, events.ProduceRequest{Kind: "audio"})},
	} {
		ack := f.gateway.Dispatch(ctx, conn, msg)
		require.Nil(t, ack.Error, "step %d: %+v", i, ack.Error)
	}

	require.NoError(t, f.gateway.Disconnect(ctx, conn))

	assert.Zero(t, f.registry.Count())
	assert.Empty(t, f.rooms.RoomsOf(conn.ID()))
	assert.Empty(t, f.rooms.MembersOf(roomkey.Voice(ch.ID)))
	assert.Zero(t, f.sessions.Occupancy(ch.ID))
	assert.Equal(t, 2, f.relay.closes())
	assert.Zero(t, f.relay.openCount())
}

func TestDisconnectRunsEveryStepWhenCloseFails(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	groupID := uuid.New()
	userID, token := f.user(groupID)
	ch := &models.VoiceChannel{ID: uuid.New(), GroupID: groupID, Name: "lounge"}

	f.channelRepo.EXPECT().GetVoiceChannel(gomock.Any(), ch.ID).Return(ch, nil)
	f.groupRepo.EXPECT().IsMember(gomock.Any(), groupID, gomock.Any()).Return(true, nil)

	conn, err := f.gateway.Connect(ctx, token, &recordingSink{})
	require.NoError(t, err)

	ack := f.gateway.Dispatch(ctx, conn, events.Message{
		Type: events.JoinVoice,
		Data: rawJSON(t, events.JoinVoiceRequest{ChannelID: ch.ID.String()}),
	})
	require.Nil(t, ack.Error)

	ack = f.gateway.Dispatch(ctx, conn, events.Message{Type: events.CreateTransport})
	require.Nil(t, ack.Error)
	transport := ack.Data.(*sfu.TransportInfo).ID

	f.relay.failOnce("close "+transport, errors.New("rpc timeout"))

	err = f.gateway.Disconnect(ctx, conn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media: close "+transport)

	_, ok := f.sessions.Get(userID)
	assert.False(t, ok)
	assert.Zero(t, f.sessions.Occupancy(ch.ID))
	assert.Empty(t, f.rooms.RoomsOf(conn.ID()))
	assert.Zero(t, f.registry.Count())
	assert.Equal(t, []statusUpdate{
		{userID: userID, status: models.StatusOnline},
		{userID: userID, status: models.StatusOffline},
	}, f.pendingStatuses())
}
