package memory

import (
	"errors"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/application/metric"
	"github.com/qrave1/parley/internal/domain/models"
)

var (
	ErrNoVoiceMembership = errors.New("no voice membership")
	ErrAlreadyInVoice    = errors.New("already in a voice channel")
	ErrChannelFull       = errors.New("voice channel is full")
	ErrVoiceBusy         = errors.New("voice operation already in progress")
	ErrStaleSession      = errors.New("voice session changed")
	ErrNoTransport       = errors.New("transport not created")
)

type JoinParams struct {
	UserID       uuid.UUID
	ConnectionID uuid.UUID
	ChannelID    uuid.UUID
	GroupID      uuid.UUID
	MaxUsers     int
}

// VoiceSessionRepository хранит участие пользователей в голосовых каналах и SFU хэндлы.
//
// Блокировки берутся в порядке: шард пользователя, затем шард канала. Вызовы SFU
// выполняются снаружи: Begin* ставит флаг ожидания, Commit* записывает хэндл, если
// участие за это время не закончилось.
type VoiceSessionRepository interface {
	// TryJoin admits the user if the channel roster is below MaxUsers. The new
	// membership is in the joining state.
	TryJoin(p JoinParams) (models.VoiceMembership, error)
	Activate(userID, session uuid.UUID) error
	// BeginLeave moves the membership to leaving and returns it with its handles.
	// Returns false if there is nothing to leave or a leave is already running.
	BeginLeave(userID uuid.UUID) (models.VoiceMembership, bool)
	Remove(userID, session uuid.UUID) bool

	Get(userID uuid.UUID) (models.VoiceMembership, bool)
	Roster(channelID uuid.UUID) []models.VoiceMembership
	Occupancy(channelID uuid.UUID) int
	FindProducer(channelID uuid.UUID, producer string) (uuid.UUID, bool)

	BeginTransport(userID, session uuid.UUID) error
	CommitTransport(userID, session uuid.UUID, transport string) error
	BeginProduce(userID, session uuid.UUID) (transport string, err error)
	CommitProducer(userID, session uuid.UUID, producer string) error
	BeginConsume(userID, session uuid.UUID, producer string) (transport string, err error)
	CommitConsumer(userID, session uuid.UUID, producer, consumer string) error
	AbortTransport(userID, session uuid.UUID)
	AbortProduce(userID, session uuid.UUID)
	AbortConsume(userID, session uuid.UUID, producer string)

	// DropConsumersOf forgets consumers of a closed producer on every member of the
	// channel and returns their consumer handles.
	DropConsumersOf(channelID uuid.UUID, producer string) []string

	UpdateControl(userID, session uuid.UUID, fn func(*models.VoiceControl) error) (models.VoiceMembership, error)
	UpdateAudio(userID, session uuid.UUID, fn func(*models.AudioSettings) error) (models.VoiceMembership, error)
}

type voiceEntry struct {
	m models.VoiceMembership

	pendingTransport bool
	pendingProducer  bool
	pendingConsumers map[string]struct{}
}

type voiceSessionRepository struct {
	users   *shardedMap[uuid.UUID, *voiceEntry]
	rosters *shardedMap[uuid.UUID, map[uuid.UUID]struct{}]
}

func NewVoiceSessionRepository(shards int) VoiceSessionRepository {
	return &voiceSessionRepository{
		users:   newShardedMap[uuid.UUID, *voiceEntry](shards, hashUUID),
		rosters: newShardedMap[uuid.UUID, map[uuid.UUID]struct{}](shards, hashUUID),
	}
}

func (r *voiceSessionRepository) TryJoin(p JoinParams) (models.VoiceMembership, error) {
	var (
		created models.VoiceMembership
		err     error
	)

	r.users.Update(p.UserID, func(e *voiceEntry, ok bool) (*voiceEntry, bool) {
		if ok {
			if e.m.State == models.VoiceActive {
				err = ErrAlreadyInVoice
			} else {
				err = ErrVoiceBusy
			}

			return e, true
		}

		r.rosters.Update(p.ChannelID, func(set map[uuid.UUID]struct{}, ok bool) (map[uuid.UUID]struct{}, bool) {
			if len(set) >= p.MaxUsers {
				err = ErrChannelFull
				return set, ok
			}

			if !ok {
				set = make(map[uuid.UUID]struct{})
			}
			set[p.UserID] = struct{}{}

			return set, true
		})

		if err != nil {
			return nil, false
		}

		e = &voiceEntry{
			m: models.VoiceMembership{
				Session:      uuid.New(),
				UserID:       p.UserID,
				ConnectionID: p.ConnectionID,
				ChannelID:    p.ChannelID,
				GroupID:      p.GroupID,
				State:        models.VoiceJoining,
				Consumers:    make(map[string]string),
				Control:      models.DefaultVoiceControl(),
				Audio:        models.DefaultAudioSettings(),
			},
			pendingConsumers: make(map[string]struct{}),
		}
		created = e.m.Clone()

		return e, true
	})

	if err == nil {
		metric.IncrementVoiceMembers()
	}

	return created, err
}

func (r *voiceSessionRepository) Activate(userID, session uuid.UUID) error {
	var err error

	r.users.Update(userID, func(e *voiceEntry, ok bool) (*voiceEntry, bool) {
		if !ok || e.m.Session != session || e.m.State != models.VoiceJoining {
			err = ErrStaleSession
			return e, ok
		}

		e.m.State = models.VoiceActive

		return e, true
	})

	return err
}

func (r *voiceSessionRepository) BeginLeave(userID uuid.UUID) (models.VoiceMembership, bool) {
	var (
		m      models.VoiceMembership
		marked bool
	)

	r.users.Update(userID, func(e *voiceEntry, ok bool) (*voiceEntry, bool) {
		if !ok || e.m.State == models.VoiceLeaving {
			return e, ok
		}

		e.m.State = models.VoiceLeaving
		m = e.m.Clone()
		marked = true

		return e, true
	})

	return m, marked
}

func (r *voiceSessionRepository) Remove(userID, session uuid.UUID) bool {
	removed := false

	r.users.Update(userID, func(e *voiceEntry, ok bool) (*voiceEntry, bool) {
		if !ok || e.m.Session != session {
			return e, ok
		}

		r.rosters.Update(e.m.ChannelID, func(set map[uuid.UUID]struct{}, ok bool) (map[uuid.UUID]struct{}, bool) {
			if !ok {
				return nil, false
			}
			delete(set, userID)

			return set, len(set) > 0
		})
		removed = true

		return nil, false
	})

	if removed {
		metric.DecrementVoiceMembers()
	}

	return removed
}

func (r *voiceSessionRepository) Get(userID uuid.UUID) (models.VoiceMembership, bool) {
	var (
		m     models.VoiceMembership
		found bool
	)

	r.users.View(userID, func(e *voiceEntry, ok bool) {
		if ok {
			m = e.m.Clone()
			found = true
		}
	})

	return m, found
}

func (r *voiceSessionRepository) rosterIDs(channelID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID

	r.rosters.View(channelID, func(set map[uuid.UUID]struct{}, _ bool) {
		ids = make([]uuid.UUID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
	})

	return ids
}

func (r *voiceSessionRepository) Roster(channelID uuid.UUID) []models.VoiceMembership {
	ids := r.rosterIDs(channelID)
	roster := make([]models.VoiceMembership, 0, len(ids))

	for _, id := range ids {
		if m, ok := r.Get(id); ok && m.ChannelID == channelID {
			roster = append(roster, m)
		}
	}

	return roster
}

func (r *voiceSessionRepository) Occupancy(channelID uuid.UUID) int {
	n := 0

	r.rosters.View(channelID, func(set map[uuid.UUID]struct{}, _ bool) {
		n = len(set)
	})

	return n
}

func (r *voiceSessionRepository) FindProducer(channelID uuid.UUID, producer string) (uuid.UUID, bool) {
	for _, m := range r.Roster(channelID) {
		if m.State == models.VoiceActive && m.Producer == producer {
			return m.UserID, true
		}
	}

	return uuid.Nil, false
}

// mutate runs fn on an active membership with the given session.
func (r *voiceSessionRepository) mutate(userID, session uuid.UUID, fn func(e *voiceEntry) error) error {
	var err error

	r.users.Update(userID, func(e *voiceEntry, ok bool) (*voiceEntry, bool) {
		switch {
		case !ok:
			err = ErrNoVoiceMembership
		case e.m.Session != session || e.m.State != models.VoiceActive:
			err = ErrStaleSession
		default:
			err = fn(e)
		}

		return e, ok
	})

	return err
}

func (r *voiceSessionRepository) BeginTransport(userID, session uuid.UUID) error {
	return r.mutate(userID, session, func(e *voiceEntry) error {
		if e.m.Transport != "" || e.pendingTransport {
			return ErrVoiceBusy
		}
		e.pendingTransport = true

		return nil
	})
}

func (r *voiceSessionRepository) CommitTransport(userID, session uuid.UUID, transport string) error {
	return r.mutate(userID, session, func(e *voiceEntry) error {
		if !e.pendingTransport {
			return ErrStaleSession
		}
		e.pendingTransport = false
		e.m.Transport = transport

		return nil
	})
}

func (r *voiceSessionRepository) AbortTransport(userID, session uuid.UUID) {
	_ = r.mutate(userID, session, func(e *voiceEntry) error {
		e.pendingTransport = false
		return nil
	})
}

func (r *voiceSessionRepository) BeginProduce(userID, session uuid.UUID) (string, error) {
	var transport string

	err := r.mutate(userID, session, func(e *voiceEntry) error {
		if e.m.Transport == "" {
			return ErrNoTransport
		}
		if e.m.Producer != "" || e.pendingProducer {
			return ErrVoiceBusy
		}
		e.pendingProducer = true
		transport = e.m.Transport

		return nil
	})

	return transport, err
}

func (r *voiceSessionRepository) CommitProducer(userID, session uuid.UUID, producer string) error {
	return r.mutate(userID, session, func(e *voiceEntry) error {
		if !e.pendingProducer {
			return ErrStaleSession
		}
		e.pendingProducer = false
		e.m.Producer = producer

		return nil
	})
}

func (r *voiceSessionRepository) AbortProduce(userID, session uuid.UUID) {
	_ = r.mutate(userID, session, func(e *voiceEntry) error {
		e.pendingProducer = false
		return nil
	})
}

func (r *voiceSessionRepository) BeginConsume(userID, session uuid.UUID, producer string) (string, error) {
	var transport string

	err := r.mutate(userID, session, func(e *voiceEntry) error {
		if e.m.Transport == "" {
			return ErrNoTransport
		}
		if _, ok := e.m.Consumers[producer]; ok {
			return ErrVoiceBusy
		}
		if _, ok := e.pendingConsumers[producer]; ok {
			return ErrVoiceBusy
		}
		e.pendingConsumers[producer] = struct{}{}
		transport = e.m.Transport

		return nil
	})

	return transport, err
}

func (r *voiceSessionRepository) CommitConsumer(userID, session uuid.UUID, producer, consumer string) error {
	return r.mutate(userID, session, func(e *voiceEntry) error {
		if _, ok := e.pendingConsumers[producer]; !ok {
			return ErrStaleSession
		}
		delete(e.pendingConsumers, producer)
		e.m.Consumers[producer] = consumer

		return nil
	})
}

func (r *voiceSessionRepository) AbortConsume(userID, session uuid.UUID, producer string) {
	_ = r.mutate(userID, session, func(e *voiceEntry) error {
		delete(e.pendingConsumers, producer)
		return nil
	})
}

func (r *voiceSessionRepository) DropConsumersOf(channelID uuid.UUID, producer string) []string {
	var dropped []string

	for _, id := range r.rosterIDs(channelID) {
		r.users.Update(id, func(e *voiceEntry, ok bool) (*voiceEntry, bool) {
			if !ok || e.m.ChannelID != channelID {
				return e, ok
			}

			delete(e.pendingConsumers, producer)

			// Участник в состоянии leaving сам закроет свои хэндлы
			if c, has := e.m.Consumers[producer]; has && e.m.State != models.VoiceLeaving {
				delete(e.m.Consumers, producer)
				dropped = append(dropped, c)
			}

			return e, true
		})
	}

	return dropped
}

func (r *voiceSessionRepository) UpdateControl(
	userID, session uuid.UUID,
	fn func(*models.VoiceControl) error,
) (models.VoiceMembership, error) {
	var m models.VoiceMembership

	err := r.mutate(userID, session, func(e *voiceEntry) error {
		next := e.m.Control
		if err := fn(&next); err != nil {
			return err
		}
		e.m.Control = next
		m = e.m.Clone()

		return nil
	})

	return m, err
}

func (r *voiceSessionRepository) UpdateAudio(
	userID, session uuid.UUID,
	fn func(*models.AudioSettings) error,
) (models.VoiceMembership, error) {
	var m models.VoiceMembership

	err := r.mutate(userID, session, func(e *voiceEntry) error {
		next := e.m.Audio
		if err := fn(&next); err != nil {
			return err
		}
		e.m.Audio = next
		m = e.m.Clone()

		return nil
	})

	return m, err
}
