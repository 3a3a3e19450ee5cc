package memory

import (
	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/roomkey"
)

// RoomMembersRepository - кто на какие комнаты подписан.
// Оба индекса меняются под блокировками в одном порядке: сначала соединение, потом комната.
type RoomMembersRepository interface {
	Join(connID uuid.UUID, key roomkey.Key)
	// Leave is a no-op for rooms the connection is not in.
	Leave(connID uuid.UUID, key roomkey.Key)
	LeaveAll(connID uuid.UUID) []roomkey.Key

	IsMember(connID uuid.UUID, key roomkey.Key) bool
	// MembersOf returns a snapshot of subscribed connection ids.
	MembersOf(key roomkey.Key) []uuid.UUID
	RoomsOf(connID uuid.UUID) []roomkey.Key
}

type roomMembersRepository struct {
	rooms *shardedMap[roomkey.Key, map[uuid.UUID]struct{}]
	conns *shardedMap[uuid.UUID, map[roomkey.Key]struct{}]
}

func NewRoomMembersRepository(shards int) RoomMembersRepository {
	return &roomMembersRepository{
		rooms: newShardedMap[roomkey.Key, map[uuid.UUID]struct{}](shards, hashKey),
		conns: newShardedMap[uuid.UUID, map[roomkey.Key]struct{}](shards, hashUUID),
	}
}

func (r *roomMembersRepository) Join(connID uuid.UUID, key roomkey.Key) {
	r.conns.Update(connID, func(keys map[roomkey.Key]struct{}, ok bool) (map[roomkey.Key]struct{}, bool) {
		if !ok {
			keys = make(map[roomkey.Key]struct{})
		}
		keys[key] = struct{}{}

		r.rooms.Update(key, func(members map[uuid.UUID]struct{}, ok bool) (map[uuid.UUID]struct{}, bool) {
			if !ok {
				members = make(map[uuid.UUID]struct{})
			}
			members[connID] = struct{}{}

			return members, true
		})

		return keys, true
	})
}

func (r *roomMembersRepository) Leave(connID uuid.UUID, key roomkey.Key) {
	r.conns.Update(connID, func(keys map[roomkey.Key]struct{}, ok bool) (map[roomkey.Key]struct{}, bool) {
		if !ok {
			return nil, false
		}

		if _, in := keys[key]; in {
			delete(keys, key)
			r.removeMember(key, connID)
		}

		return keys, len(keys) > 0
	})
}

func (r *roomMembersRepository) LeaveAll(connID uuid.UUID) []roomkey.Key {
	var left []roomkey.Key

	r.conns.Update(connID, func(keys map[roomkey.Key]struct{}, ok bool) (map[roomkey.Key]struct{}, bool) {
		left = make([]roomkey.Key, 0, len(keys))

		for key := range keys {
			r.removeMember(key, connID)
			left = append(left, key)
		}

		return nil, false
	})

	return left
}

func (r *roomMembersRepository) removeMember(key roomkey.Key, connID uuid.UUID) {
	r.rooms.Update(key, func(members map[uuid.UUID]struct{}, ok bool) (map[uuid.UUID]struct{}, bool) {
		if !ok {
			return nil, false
		}
		delete(members, connID)

		return members, len(members) > 0
	})
}

func (r *roomMembersRepository) IsMember(connID uuid.UUID, key roomkey.Key) bool {
	in := false

	r.conns.View(connID, func(keys map[roomkey.Key]struct{}, _ bool) {
		_, in = keys[key]
	})

	return in
}

func (r *roomMembersRepository) MembersOf(key roomkey.Key) []uuid.UUID {
	var ids []uuid.UUID

	r.rooms.View(key, func(members map[uuid.UUID]struct{}, _ bool) {
		ids = make([]uuid.UUID, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
	})

	return ids
}

func (r *roomMembersRepository) RoomsOf(connID uuid.UUID) []roomkey.Key {
	var keys []roomkey.Key

	r.conns.View(connID, func(set map[roomkey.Key]struct{}, _ bool) {
		keys = make([]roomkey.Key, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
	})

	return keys
}
