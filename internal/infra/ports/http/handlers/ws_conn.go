package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/parley/internal/application/config"
	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/application/metric"
	"github.com/qrave1/parley/internal/domain/runtime"
)

// wsConn - исходящая сторона websocket соединения. Пишет только writePump,
// остальные кладут кадры в буферизованный канал.
type wsConn struct {
	ws *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	pingPeriod   time.Duration
	writeTimeout time.Duration
}

func newWSConn(ws *websocket.Conn, cfg config.GatewayConfig) *wsConn {
	return &wsConn{
		ws:           ws,
		send:         make(chan []byte, cfg.SendBuffer),
		done:         make(chan struct{}),
		pingPeriod:   cfg.PingPeriod,
		writeTimeout: cfg.WriteTimeout,
	}
}

func (c *wsConn) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	select {
	case <-c.done:
		return runtime.ErrSinkClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return runtime.ErrSinkClosed
	default:
		metric.IncrementDroppedFrames()
		return runtime.ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *wsConn) write(messageType int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	return c.ws.WriteMessage(messageType, data)
}

// writePump отправляет кадры и ping до закрытия соединения.
// Ошибка записи закрывает сокет, чтобы read loop тоже завершился.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				slog.Warn("websocket write", slog.Any(constant.Error, err))
				c.Close()
				_ = c.ws.Close()

				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				slog.Warn("ping failed", slog.Any(constant.Error, err))
				c.Close()
				_ = c.ws.Close()

				return
			}
		case <-c.done:
			c.drain()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

			return
		}
	}
}

// drain дописывает уже поставленные в очередь кадры, но не дольше writeTimeout.
func (c *wsConn) drain() {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return
	}

	for {
		select {
		case data := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("drain websocket frames", slog.Any(constant.Error, err))
				return
			}
		default:
			return
		}
	}
}
