package memory

import (
	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/runtime"
)

// ConnectionRegistry хранит живые соединения. У пользователя может быть несколько соединений.
type ConnectionRegistry interface {
	// Register returns true if this is the user's first live connection.
	Register(conn *runtime.Connection) bool
	// Deregister returns last=true when the user has no connections left.
	Deregister(connID uuid.UUID) (last bool, ok bool)

	Get(connID uuid.UUID) (*runtime.Connection, bool)
	ResolveConnections(userID uuid.UUID) []*runtime.Connection
	Count() int
}

type connectionRegistry struct {
	// conns хранит map[conn_id]*Connection
	conns *shardedMap[uuid.UUID, *runtime.Connection]
	// byUser хранит map[user_id]set[conn_id]
	byUser *shardedMap[uuid.UUID, map[uuid.UUID]struct{}]
}

func NewConnectionRegistry(shards int) ConnectionRegistry {
	return &connectionRegistry{
		conns:  newShardedMap[uuid.UUID, *runtime.Connection](shards, hashUUID),
		byUser: newShardedMap[uuid.UUID, map[uuid.UUID]struct{}](shards, hashUUID),
	}
}

func (r *connectionRegistry) Register(conn *runtime.Connection) bool {
	first := false

	r.byUser.Update(conn.UserID(), func(set map[uuid.UUID]struct{}, ok bool) (map[uuid.UUID]struct{}, bool) {
		if !ok {
			set = make(map[uuid.UUID]struct{}, 1)
		}

		first = len(set) == 0
		set[conn.ID()] = struct{}{}

		r.conns.Update(conn.ID(), func(*runtime.Connection, bool) (*runtime.Connection, bool) {
			return conn, true
		})

		return set, true
	})

	return first
}

func (r *connectionRegistry) Deregister(connID uuid.UUID) (bool, bool) {
	conn, ok := r.conns.Get(connID)
	if !ok {
		return false, false
	}

	last, removed := false, false

	r.byUser.Update(conn.UserID(), func(set map[uuid.UUID]struct{}, ok bool) (map[uuid.UUID]struct{}, bool) {
		if !ok {
			return nil, false
		}

		if _, present := set[connID]; present {
			delete(set, connID)
			removed = true

			r.conns.Delete(connID)
		}

		last = removed && len(set) == 0

		return set, len(set) > 0
	})

	return last, removed
}

func (r *connectionRegistry) Get(connID uuid.UUID) (*runtime.Connection, bool) {
	return r.conns.Get(connID)
}

func (r *connectionRegistry) ResolveConnections(userID uuid.UUID) []*runtime.Connection {
	var ids []uuid.UUID

	r.byUser.View(userID, func(set map[uuid.UUID]struct{}, _ bool) {
		ids = make([]uuid.UUID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
	})

	conns := make([]*runtime.Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.conns.Get(id); ok {
			conns = append(conns, c)
		}
	}

	return conns
}

func (r *connectionRegistry) Count() int {
	return r.conns.Len()
}
