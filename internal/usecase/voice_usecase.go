package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/domain/apperr"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/models"
	"github.com/qrave1/parley/internal/domain/roomkey"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/adapters/memory"
	"github.com/qrave1/parley/internal/infra/adapters/postgres/repository"
	"github.com/qrave1/parley/internal/infra/adapters/sfu"
)

var sampleRates = []int{8000, 16000, 24000, 44100, 48000}

type VoiceUsecase interface {
	JoinVoice(ctx context.Context, conn *runtime.Connection, in events.JoinVoiceRequest) (*events.JoinVoiceResult, error)
	LeaveVoice(ctx context.Context, conn *runtime.Connection) (*events.LeaveVoiceResult, error)

	CreateTransport(ctx context.Context, conn *runtime.Connection) (*sfu.TransportInfo, error)
	ConnectTransport(ctx context.Context, conn *runtime.Connection, in events.ConnectTransportRequest) (*events.ConnectTransportResult, error)
	Produce(ctx context.Context, conn *runtime.Connection, in events.ProduceRequest) (*events.ProduceResult, error)
	Consume(ctx context.Context, conn *runtime.Connection, in events.ConsumeRequest) (*sfu.ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, conn *runtime.Connection, in events.ResumeConsumerRequest) (struct{}, error)

	UpdateControl(ctx context.Context, conn *runtime.Connection, in events.UpdateControlRequest) (*models.VoiceControl, error)
	UpdateAudioSettings(ctx context.Context, conn *runtime.Connection, in events.UpdateAudioSettingsRequest) (*models.AudioSettings, error)

	// Disconnect releases the voice membership bound to conn, if any.
	Disconnect(ctx context.Context, conn *runtime.Connection) error
}

type voiceUsecase struct {
	channelRepo repository.ChannelRepository
	groupRepo   repository.GroupRepository

	sessions memory.VoiceSessionRepository
	rooms    memory.RoomMembersRepository
	relay    sfu.Capability
	notify   *notifier

	defaultMaxUsers int
}

func NewVoiceUsecase(
	channelRepo repository.ChannelRepository,
	groupRepo repository.GroupRepository,
	registry memory.ConnectionRegistry,
	rooms memory.RoomMembersRepository,
	sessions memory.VoiceSessionRepository,
	relay sfu.Capability,
	defaultMaxUsers int,
) VoiceUsecase {
	return &voiceUsecase{
		channelRepo:     channelRepo,
		groupRepo:       groupRepo,
		sessions:        sessions,
		rooms:           rooms,
		relay:           relay,
		notify:          newNotifier(registry, rooms),
		defaultMaxUsers: defaultMaxUsers,
	}
}

// sessionError переводит ошибки хранилища участий в коды для клиента.
func sessionError(err error) error {
	switch {
	case errors.Is(err, memory.ErrChannelFull):
		return apperr.New(apperr.CapacityExceeded, "voice channel is full")
	case errors.Is(err, memory.ErrVoiceBusy), errors.Is(err, memory.ErrAlreadyInVoice):
		return apperr.New(apperr.AlreadyInProgress, "voice operation already in progress")
	case errors.Is(err, memory.ErrNoTransport):
		return apperr.New(apperr.BadRequest, "create a transport first")
	case errors.Is(err, memory.ErrStaleSession), errors.Is(err, memory.ErrNoVoiceMembership):
		return apperr.New(apperr.NotAMember, "voice session ended")
	default:
		return fmt.Errorf("voice session: %w", err)
	}
}

// membership returns the active membership bound to this connection.
func (v *voiceUsecase) membership(conn *runtime.Connection) (models.VoiceMembership, error) {
	m, ok := v.sessions.Get(conn.UserID())
	if !ok || m.ConnectionID != conn.ID() {
		return models.VoiceMembership{}, apperr.New(apperr.NotAMember, "not in a voice channel")
	}

	if m.State != models.VoiceActive {
		return models.VoiceMembership{}, apperr.New(apperr.AlreadyInProgress, "voice session is changing")
	}

	return m, nil
}

func (v *voiceUsecase) JoinVoice(
	ctx context.Context,
	conn *runtime.Connection,
	in events.JoinVoiceRequest,
) (*events.JoinVoiceResult, error) {
	userID := conn.UserID()

	channelID, err := uuid.Parse(in.ChannelID)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid channelId", err)
	}

	channel, err := v.channelRepo.GetVoiceChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "voice channel not found")
		}

		return nil, fmt.Errorf("get voice channel: %w", err)
	}

	isMember, err := v.groupRepo.IsMember(ctx, channel.GroupID, userID)
	if err != nil {
		return nil, fmt.Errorf("check group membership: %w", err)
	}

	if !isMember {
		return nil, apperr.New(apperr.NotAMember, "not a member of this group")
	}

	if current, ok := v.sessions.Get(userID); ok {
		if current.State != models.VoiceActive {
			return nil, apperr.New(apperr.AlreadyInProgress, "voice operation already in progress")
		}

		if current.ChannelID == channelID && current.ConnectionID == conn.ID() {
			return v.joinResult(channelID), nil
		}

		// Сначала полностью выходим из предыдущего канала
		if _, err := v.leave(ctx, userID); err != nil {
			slog.Warn("leave previous voice channel", slog.Any(constant.UserID, userID), slog.Any(constant.Error, err))
		}
	}

	m, err := v.sessions.TryJoin(memory.JoinParams{
		UserID:       userID,
		ConnectionID: conn.ID(),
		ChannelID:    channelID,
		GroupID:      channel.GroupID,
		MaxUsers:     channel.Capacity(v.defaultMaxUsers),
	})
	if err != nil {
		return nil, sessionError(err)
	}

	key := roomkey.Voice(channelID)
	v.rooms.Join(conn.ID(), key)

	if err = v.sessions.Activate(userID, m.Session); err != nil {
		v.rooms.Leave(conn.ID(), key)
		v.sessions.Remove(userID, m.Session)

		return nil, sessionError(err)
	}

	slog.Info("user joined voice", slog.Any(constant.UserID, userID), slog.Any(constant.ChannelID, channelID))

	v.notify.toRoom(key, events.UserJoined, events.VoiceUserEvent{ChannelID: channelID, UserID: userID}, conn.ID())

	return v.joinResult(channelID), nil
}

func (v *voiceUsecase) joinResult(channelID uuid.UUID) *events.JoinVoiceResult {
	roster := v.sessions.Roster(channelID)

	users := make([]events.VoiceUser, 0, len(roster))
	for _, m := range roster {
		users = append(users, events.VoiceUser{
			UserID:     m.UserID,
			IsMuted:    m.Control.Muted,
			IsDeafened: m.Control.Deafened,
			ProducerID: m.Producer,
		})
	}

	return &events.JoinVoiceResult{
		ChannelID:       channelID,
		RTPCapabilities: v.relay.RTPCapabilities(),
		Users:           users,
	}
}

// leave закрывает хэндлы SFU (консьюмеры, продюсер, транспорт) и удаляет участие.
// Ошибки закрытия не прерывают выход.
func (v *voiceUsecase) leave(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	m, ok := v.sessions.BeginLeave(userID)
	if !ok {
		return uuid.Nil, nil
	}

	ctx = context.WithoutCancel(ctx)

	var errs error
	for _, handle := range m.Handles() {
		if err := v.relay.Close(ctx, handle); err != nil {
			slog.Warn(
				"close sfu handle",
				slog.String(constant.Handle, handle),
				slog.Any(constant.UserID, userID),
				slog.Any(constant.Error, err),
			)
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", handle, err))
		}

		// SFU закрывает консьюмеров закрытого продюсера сам; повторный Close
		// добивает тех, что были созданы одновременно с закрытием
		if handle == m.Producer {
			for _, c := range v.sessions.DropConsumersOf(m.ChannelID, handle) {
				v.discard(ctx, c)
			}
		}
	}

	key := roomkey.Voice(m.ChannelID)
	v.rooms.Leave(m.ConnectionID, key)
	v.sessions.Remove(userID, m.Session)

	slog.Info("user left voice", slog.Any(constant.UserID, userID), slog.Any(constant.ChannelID, m.ChannelID))

	v.notify.toRoom(
		key,
		events.UserLeft,
		events.VoiceUserEvent{ChannelID: m.ChannelID, UserID: userID, ProducerID: m.Producer},
		uuid.Nil,
	)

	return m.ChannelID, errs
}

func (v *voiceUsecase) LeaveVoice(ctx context.Context, conn *runtime.Connection) (*events.LeaveVoiceResult, error) {
	m, ok := v.sessions.Get(conn.UserID())
	if !ok {
		return &events.LeaveVoiceResult{}, nil
	}

	if m.ConnectionID != conn.ID() {
		return nil, apperr.New(apperr.NotAMember, "voice is joined from another connection")
	}

	channelID, err := v.leave(ctx, conn.UserID())
	if err != nil {
		slog.Warn("leave voice", slog.Any(constant.UserID, conn.UserID()), slog.Any(constant.Error, err))
	}

	return &events.LeaveVoiceResult{ChannelID: channelID}, nil
}

func (v *voiceUsecase) Disconnect(ctx context.Context, conn *runtime.Connection) error {
	m, ok := v.sessions.Get(conn.UserID())
	if !ok || m.ConnectionID != conn.ID() {
		return nil
	}

	_, err := v.leave(ctx, conn.UserID())

	return err
}

// upstreamFailure откатывает пользователя в idle после сбоя SFU.
func (v *voiceUsecase) upstreamFailure(ctx context.Context, userID uuid.UUID, op string, err error) error {
	switch {
	case errors.Is(err, sfu.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, op+": media handle not found", err)
	case errors.Is(err, sfu.ErrIncompatible), errors.Is(err, sfu.ErrUnsupportedKind), errors.Is(err, sfu.ErrNegotiationState):
		return apperr.Wrap(apperr.BadRequest, op, err)
	}

	slog.Error(op, slog.Any(constant.UserID, userID), slog.Any(constant.Error, err))

	if _, leaveErr := v.leave(ctx, userID); leaveErr != nil {
		slog.Warn("rollback voice session", slog.Any(constant.UserID, userID), slog.Any(constant.Error, leaveErr))
	}

	return apperr.Wrap(apperr.UpstreamFailure, op, err)
}

// discard закрывает хэндл, созданный для участия, которое уже закончилось.
func (v *voiceUsecase) discard(ctx context.Context, handle string) {
	if err := v.relay.Close(context.WithoutCancel(ctx), handle); err != nil {
		slog.Warn("close orphaned sfu handle", slog.String(constant.Handle, handle), slog.Any(constant.Error, err))
	}
}

func (v *voiceUsecase) CreateTransport(ctx context.Context, conn *runtime.Connection) (*sfu.TransportInfo, error) {
	m, err := v.membership(conn)
	if err != nil {
		return nil, err
	}

	if err = v.sessions.BeginTransport(m.UserID, m.Session); err != nil {
		return nil, sessionError(err)
	}

	info, err := v.relay.CreateTransport(ctx, m.UserID)
	if err != nil {
		v.sessions.AbortTransport(m.UserID, m.Session)
		return nil, v.upstreamFailure(ctx, m.UserID, "create transport", err)
	}

	if err = v.sessions.CommitTransport(m.UserID, m.Session, info.ID); err != nil {
		v.discard(ctx, info.ID)
		return nil, sessionError(err)
	}

	return &info, nil
}

func (v *voiceUsecase) ConnectTransport(
	ctx context.Context,
	conn *runtime.Connection,
	in events.ConnectTransportRequest,
) (*events.ConnectTransportResult, error) {
	m, err := v.membership(conn)
	if err != nil {
		return nil, err
	}

	if m.Transport == "" {
		return nil, apperr.New(apperr.BadRequest, "create a transport first")
	}

	if strings.TrimSpace(in.SDP) == "" {
		return nil, apperr.New(apperr.BadRequest, "sdp is required")
	}

	res, err := v.relay.Connect(ctx, m.Transport, sfu.ConnectParams{Type: in.Type, SDP: in.SDP})
	if err != nil {
		return nil, v.upstreamFailure(ctx, m.UserID, "connect transport", err)
	}

	return &events.ConnectTransportResult{Type: res.Type, SDP: res.SDP}, nil
}

func (v *voiceUsecase) Produce(ctx context.Context, conn *runtime.Connection, in events.ProduceRequest) (*events.ProduceResult, error) {
	if in.Kind != "audio" {
		return nil, apperr.Newf(apperr.BadRequest, "unsupported kind %q", in.Kind)
	}

	m, err := v.membership(conn)
	if err != nil {
		return nil, err
	}

	transport, err := v.sessions.BeginProduce(m.UserID, m.Session)
	if err != nil {
		return nil, sessionError(err)
	}

	producer, err := v.relay.Produce(ctx, transport, sfu.ProduceParams{Kind: in.Kind, RTPParameters: in.RTPParameters})
	if err != nil {
		v.sessions.AbortProduce(m.UserID, m.Session)
		return nil, v.upstreamFailure(ctx, m.UserID, "produce", err)
	}

	if err = v.sessions.CommitProducer(m.UserID, m.Session, producer); err != nil {
		v.discard(ctx, producer)
		return nil, sessionError(err)
	}

	v.notify.toRoom(
		roomkey.Voice(m.ChannelID),
		events.NewProducer,
		events.NewProducerEvent{ChannelID: m.ChannelID, UserID: m.UserID, ProducerID: producer, Kind: in.Kind},
		conn.ID(),
	)

	return &events.ProduceResult{ProducerID: producer}, nil
}

func (v *voiceUsecase) Consume(ctx context.Context, conn *runtime.Connection, in events.ConsumeRequest) (*sfu.ConsumerInfo, error) {
	m, err := v.membership(conn)
	if err != nil {
		return nil, err
	}

	owner, ok := v.sessions.FindProducer(m.ChannelID, in.ProducerID)
	if !ok || owner == m.UserID {
		return nil, apperr.New(apperr.NotFound, "producer not found in this channel")
	}

	var caps sfu.RTPCapabilities
	if len(in.RTPCapabilities) > 0 {
		if err = json.Unmarshal(in.RTPCapabilities, &caps); err != nil {
			return nil, apperr.Wrap(apperr.BadRequest, "invalid rtpCapabilities", err)
		}
	}

	transport, err := v.sessions.BeginConsume(m.UserID, m.Session, in.ProducerID)
	if err != nil {
		return nil, sessionError(err)
	}

	info, err := v.relay.Consume(ctx, transport, in.ProducerID, caps)
	if err != nil {
		v.sessions.AbortConsume(m.UserID, m.Session, in.ProducerID)
		return nil, v.upstreamFailure(ctx, m.UserID, "consume", err)
	}

	if err = v.sessions.CommitConsumer(m.UserID, m.Session, in.ProducerID, info.ID); err != nil {
		v.discard(ctx, info.ID)
		return nil, sessionError(err)
	}

	return &info, nil
}

func (v *voiceUsecase) ResumeConsumer(
	ctx context.Context,
	conn *runtime.Connection,
	in events.ResumeConsumerRequest,
) (struct{}, error) {
	m, err := v.membership(conn)
	if err != nil {
		return struct{}{}, err
	}

	owned := false
	for _, c := range m.Consumers {
		if c == in.ConsumerID {
			owned = true
			break
		}
	}

	if !owned {
		return struct{}{}, apperr.New(apperr.NotFound, "consumer not found")
	}

	if err = v.relay.Resume(ctx, in.ConsumerID); err != nil {
		return struct{}{}, v.upstreamFailure(ctx, m.UserID, "resume consumer", err)
	}

	return struct{}{}, nil
}

func validVolume(v *float64) bool {
	return v == nil || (*v >= models.MinVolume && *v <= models.MaxVolume)
}

func (v *voiceUsecase) UpdateControl(
	_ context.Context,
	conn *runtime.Connection,
	in events.UpdateControlRequest,
) (*models.VoiceControl, error) {
	m, err := v.membership(conn)
	if err != nil {
		return nil, err
	}

	if in.ChannelID != m.ChannelID.String() {
		return nil, apperr.New(apperr.NotAMember, "not in this voice channel")
	}

	if !validVolume(in.InputVolume) || !validVolume(in.OutputVolume) {
		return nil, apperr.Newf(apperr.BadRequest, "volume must be between %.1f and %.1f", models.MinVolume, models.MaxVolume)
	}

	updated, err := v.sessions.UpdateControl(m.UserID, m.Session, func(c *models.VoiceControl) error {
		if in.IsMuted != nil {
			c.Muted = *in.IsMuted
		}
		if in.IsDeafened != nil {
			c.Deafened = *in.IsDeafened
		}
		if in.InputVolume != nil {
			c.InputVolume = *in.InputVolume
		}
		if in.OutputVolume != nil {
			c.OutputVolume = *in.OutputVolume
		}

		return nil
	})
	if err != nil {
		return nil, sessionError(err)
	}

	v.notify.toRoom(
		roomkey.Voice(m.ChannelID),
		events.VoiceControlUpdate,
		events.VoiceControlEvent{
			ChannelID:  m.ChannelID,
			UserID:     m.UserID,
			IsMuted:    updated.Control.Muted,
			IsDeafened: updated.Control.Deafened,
		},
		conn.ID(),
	)

	return &updated.Control, nil
}

func (v *voiceUsecase) UpdateAudioSettings(
	_ context.Context,
	conn *runtime.Connection,
	in events.UpdateAudioSettingsRequest,
) (*models.AudioSettings, error) {
	m, err := v.membership(conn)
	if err != nil {
		return nil, err
	}

	if in.SampleRate != nil && !slices.Contains(sampleRates, *in.SampleRate) {
		return nil, apperr.Newf(apperr.BadRequest, "unsupported sample rate %d", *in.SampleRate)
	}

	if in.ChannelCount != nil && *in.ChannelCount != 1 && *in.ChannelCount != 2 {
		return nil, apperr.New(apperr.BadRequest, "channelCount must be 1 or 2")
	}

	updated, err := v.sessions.UpdateAudio(m.UserID, m.Session, func(a *models.AudioSettings) error {
		if in.NoiseSuppression != nil {
			a.NoiseSuppression = *in.NoiseSuppression
		}
		if in.EchoCancellation != nil {
			a.EchoCancellation = *in.EchoCancellation
		}
		if in.AutoGainControl != nil {
			a.AutoGainControl = *in.AutoGainControl
		}
		if in.SampleRate != nil {
			a.SampleRate = *in.SampleRate
		}
		if in.ChannelCount != nil {
			a.ChannelCount = *in.ChannelCount
		}

		return nil
	})
	if err != nil {
		return nil, sessionError(err)
	}

	return &updated.Audio, nil
}
