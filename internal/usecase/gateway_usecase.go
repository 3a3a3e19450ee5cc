package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/application/metric"
	"github.com/qrave1/parley/internal/domain/apperr"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/models"
	"github.com/qrave1/parley/internal/domain/roomkey"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository"
)

type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// GatewayUsecase - точка входа для транспорта: рукопожатие, разбор событий и очистка.
type GatewayUsecase interface {
	Connect(ctx context.Context, token string, sink runtime.Sink) (*runtime.Connection, error)
	Dispatch(ctx context.Context, conn *runtime.Connection, msg events.Message) events.Ack
	Disconnect(ctx context.Context, conn *runtime.Connection) error

	// Run пишет статусы пользователей до отмены ctx.
	Run(ctx context.Context) error
}

type handlerFunc func(ctx context.Context, conn *runtime.Connection, data json.RawMessage) (any, error)

type gatewayUsecase struct {
	verifier  TokenVerifier
	userRepo  repository.UserRepository
	groupRepo repository.GroupRepository

	registry memory.ConnectionRegistry
	rooms    memory.RoomMembersRepository

	voice    VoiceUsecase
	status   *statusWriter
	handlers map[string]handlerFunc
}

type GatewayParams struct {
	Verifier  TokenVerifier
	UserRepo  repository.UserRepository
	GroupRepo repository.GroupRepository

	Registry memory.ConnectionRegistry
	Rooms    memory.RoomMembersRepository

	Chat     ChatUsecase
	Presence PresenceUsecase
	Voice    VoiceUsecase

	StatusQueue   int
	StatusTimeout time.Duration
}

func NewGatewayUsecase(p GatewayParams) GatewayUsecase {
	g := &gatewayUsecase{
		verifier:  p.Verifier,
		userRepo:  p.UserRepo,
		groupRepo: p.GroupRepo,
		registry:  p.Registry,
		rooms:     p.Rooms,
		voice:     p.Voice,
		status:    newStatusWriter(p.UserRepo, p.StatusQueue, p.StatusTimeout),
	}

	g.handlers = map[string]handlerFunc{
		events.JoinRoom:        handle(p.Chat.JoinRoom),
		events.LeaveRoom:       handle(p.Chat.LeaveRoom),
		events.SendMessage:     handle(p.Chat.SendMessage),
		events.MarkRead:        handle(p.Chat.MarkRead),
		events.GetReadReceipts: handle(p.Chat.GetReadReceipts),

		events.Typing:     handle(p.Presence.Typing),
		events.StopTyping: handle(p.Presence.StopTyping),

		events.JoinVoice:           handle(p.Voice.JoinVoice),
		events.LeaveVoice:          handleEmpty(p.Voice.LeaveVoice),
		events.CreateTransport:     handleEmpty(p.Voice.CreateTransport),
		events.ConnectTransport:    handle(p.Voice.ConnectTransport),
		events.Produce:             handle(p.Voice.Produce),
		events.Consume:             handle(p.Voice.Consume),
		events.ResumeConsumer:      handle(p.Voice.ResumeConsumer),
		events.UpdateControl:       handle(p.Voice.UpdateControl),
		events.UpdateAudioSettings: handle(p.Voice.UpdateAudioSettings),

		events.Ping: handleEmpty(func(context.Context, *runtime.Connection) (events.Pong, error) {
			return events.Pong{Time: time.Now()}, nil
		}),
	}

	return g
}

// handle декодирует data в T и вызывает fn.
func handle[T, R any](fn func(ctx context.Context, conn *runtime.Connection, in T) (R, error)) handlerFunc {
	return func(ctx context.Context, conn *runtime.Connection, data json.RawMessage) (any, error) {
		var in T
		if len(data) > 0 && string(data) != "null" {
			if err := json.Unmarshal(data, &in); err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, "malformed payload", err)
			}
		}

		return fn(ctx, conn, in)
	}
}

func handleEmpty[R any](fn func(ctx context.Context, conn *runtime.Connection) (R, error)) handlerFunc {
	return func(ctx context.Context, conn *runtime.Connection, _ json.RawMessage) (any, error) {
		return fn(ctx, conn)
	}
}

func (g *gatewayUsecase) Connect(ctx context.Context, token string, sink runtime.Sink) (*runtime.Connection, error) {
	if token == "" {
		return nil, apperr.New(apperr.AuthRequired, "token is required")
	}

	userID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthRequired, "invalid token", err)
	}

	if _, err = g.userRepo.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.AuthRequired, "unknown user")
		}

		return nil, fmt.Errorf("get user: %w", err)
	}

	groupIDs, err := g.groupRepo.GetGroupIDsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user groups: %w", err)
	}

	conn := runtime.NewConnection(userID, sink)
	first := g.registry.Register(conn)

	for _, groupID := range groupIDs {
		g.rooms.Join(conn.ID(), roomkey.Group(groupID))
		g.rooms.Join(conn.ID(), roomkey.Chat(groupID))
	}

	metric.IncrementWSActiveConnections()

	if first {
		g.status.enqueue(userID, models.StatusOnline)
	}

	slog.Info(
		"connection registered",
		slog.Any(constant.UserID, userID),
		slog.Any(constant.ConnID, conn.ID()),
		slog.Int("groups", len(groupIDs)),
	)

	return conn, nil
}

func (g *gatewayUsecase) Dispatch(ctx context.Context, conn *runtime.Connection, msg events.Message) (ack events.Ack) {
	start := time.Now()
	ack = events.Ack{Type: events.TypeAck, ID: msg.ID, Event: msg.Type}

	label := msg.Type
	h, ok := g.handlers[msg.Type]
	if !ok {
		label = "unknown"
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			slog.Error(
				"event handler panic",
				slog.String(constant.Event, msg.Type),
				slog.Any(constant.ConnID, conn.ID()),
				slog.Any("panic", r),
			)
			err = apperr.New(apperr.Internal, "internal error")
		}

		if err != nil {
			ack.Data = nil
			ack.Error = g.ackError(conn, msg.Type, err)
		}

		code := ""
		if err != nil {
			code = string(apperr.CodeOf(err))
		}

		metric.RecordEvent(label, code, time.Since(start))
	}()

	if !ok {
		err = apperr.Newf(apperr.BadRequest, "unknown event %q", msg.Type)
		return ack
	}

	ack.Data, err = h(ctx, conn, msg.Data)

	return ack
}

func (g *gatewayUsecase) ackError(conn *runtime.Connection, event string, err error) *events.AckError {
	code := apperr.CodeOf(err)

	if code == apperr.Internal || code == apperr.UpstreamFailure {
		slog.Error(
			"event failed",
			slog.String(constant.Event, event),
			slog.String(constant.Code, string(code)),
			slog.Any(constant.UserID, conn.UserID()),
			slog.Any(constant.Error, err),
		)
	} else {
		slog.Debug(
			"event rejected",
			slog.String(constant.Event, event),
			slog.String(constant.Code, string(code)),
			slog.Any(constant.Error, err),
		)
	}

	return &events.AckError{Code: string(code), Message: apperr.Message(err)}
}

// Disconnect снимает соединение с голоса, из комнат и из реестра.
// Шаги не зависят друг от друга: сбой одного не отменяет остальные.
func (g *gatewayUsecase) Disconnect(ctx context.Context, conn *runtime.Connection) error {
	var errs error

	steps := []struct {
		name string
		fn   func() error
	}{
		{"media", func() error { return g.voice.Disconnect(ctx, conn) }},
		{"membership", func() error { g.rooms.LeaveAll(conn.ID()); return nil }},
		{"registry", func() error {
			last, ok := g.registry.Deregister(conn.ID())
			if !ok {
				return nil
			}

			metric.DecrementWSActiveConnections()

			if last {
				g.status.enqueue(conn.UserID(), models.StatusOffline)
			}

			return nil
		}},
	}

	for _, step := range steps {
		if err := safeStep(step.fn); err != nil {
			slog.Error(
				"disconnect step failed",
				slog.String(constant.Step, step.name),
				slog.Any(constant.ConnID, conn.ID()),
				slog.Any(constant.Error, err),
			)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	slog.Info("connection closed", slog.Any(constant.UserID, conn.UserID()), slog.Any(constant.ConnID, conn.ID()))

	return errs
}

func safeStep(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}

func (g *gatewayUsecase) Run(ctx context.Context) error {
	return g.status.Run(ctx)
}
