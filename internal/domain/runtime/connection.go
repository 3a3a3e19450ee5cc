package runtime

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSinkClosed   = errors.New("sink closed")
	ErrBackpressure = errors.New("send queue full")
)

// Sink - исходящая очередь соединения. Send не блокируется: при переполнении
// возвращает ErrBackpressure.
type Sink interface {
	Send(frame any) error
	Close()
}

// Connection - живое соединение пользователя. UserID задается один раз при рукопожатии.
type Connection struct {
	id          uuid.UUID
	userID      uuid.UUID
	sink        Sink
	connectedAt time.Time
}

func NewConnection(userID uuid.UUID, sink Sink) *Connection {
	return &Connection{
		id:          uuid.New(),
		userID:      userID,
		sink:        sink,
		connectedAt: time.Now(),
	}
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) UserID() uuid.UUID {
	return c.userID
}

func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

func (c *Connection) Send(frame any) error {
	return c.sink.Send(frame)
}

func (c *Connection) Close() {
	c.sink.Close()
}
