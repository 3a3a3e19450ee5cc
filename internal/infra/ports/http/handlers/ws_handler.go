package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/qrave1/parley/internal/application/config"
	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/application/metric"
	"github.com/qrave1/parley/internal/domain/apperr"
	"github.com/qrave1/parley/internal/domain/events"
	"github.com/qrave1/parley/internal/domain/runtime"
	"github.com/qrave1/parley/internal/infra/auth"
	"github.com/qrave1/parley/internal/usecase"
)

type WebSocketHandler struct {
	upgrader *websocket.Upgrader
	cfg      config.GatewayConfig

	gateway usecase.GatewayUsecase
}

func NewWebSocketHandler(cfg *config.Config, gateway usecase.GatewayUsecase) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.Debug {
					return true
				}

				return r.Header.Get("Origin") == cfg.Domain
			},
		},
		cfg:     cfg.Gateway,
		gateway: gateway,
	}
}

func (h *WebSocketHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	token := auth.TokenFromRequest(c.Request())

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"WebSocket upgrade error",
			slog.Any(constant.Error, err),
		)
		return err
	}
	defer ws.Close()

	ws.SetReadLimit(h.cfg.MaxMessageSize)

	sink := newWSConn(ws, h.cfg)

	conn, err := h.gateway.Connect(ctx, token, sink)
	if err != nil {
		h.reject(ws, err)
		return nil
	}

	var wg conc.WaitGroup
	wg.Go(sink.writePump)

	defer func() {
		// ctx запроса уже может быть отменен, очистка должна пройти до конца
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.WriteTimeout)
		defer cancel()

		if err := h.gateway.Disconnect(cleanupCtx, conn); err != nil {
			slog.Error(
				"disconnect websocket",
				slog.Any(constant.ConnID, conn.ID()),
				slog.Any(constant.UserID, conn.UserID()),
				slog.Any(constant.Error, err),
			)
		}

		sink.Close()
		wg.Wait()
	}()

	err = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	if err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	limiter := rate.NewLimiter(rate.Limit(h.cfg.EventRate), h.cfg.EventBurst)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				h.handleWebsocketError(conn, err)
				return nil
			}

			// Любое входящее сообщение продлевает соединение
			_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

			h.handleMessage(ctx, conn, limiter, data)
		}
	}
}

func (h *WebSocketHandler) handleMessage(
	ctx context.Context,
	conn *runtime.Connection,
	limiter *rate.Limiter,
	data []byte,
) {
	var msg events.Message

	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(conn, errorAck(msg, apperr.Wrap(apperr.BadRequest, "malformed message", err)))
		return
	}

	if !limiter.Allow() {
		metric.RecordEvent(msg.Type, string(apperr.RateLimited), 0)
		h.reply(conn, errorAck(msg, apperr.New(apperr.RateLimited, "too many events")))

		return
	}

	h.reply(conn, h.gateway.Dispatch(ctx, conn, msg))
}

func errorAck(msg events.Message, err error) events.Ack {
	return events.Ack{
		Type:  events.TypeAck,
		ID:    msg.ID,
		Event: msg.Type,
		Error: &events.AckError{Code: string(apperr.CodeOf(err)), Message: apperr.Message(err)},
	}
}

func (h *WebSocketHandler) reply(conn *runtime.Connection, ack events.Ack) {
	if err := conn.Send(ack); err != nil {
		slog.Warn(
			"drop ack",
			slog.String(constant.Event, ack.Event),
			slog.Any(constant.ConnID, conn.ID()),
			slog.Any(constant.Error, err),
		)
	}
}

// reject сообщает клиенту причину отказа и закрывает сокет. Соединение еще не
// зарегистрировано, поэтому пишем напрямую.
func (h *WebSocketHandler) reject(ws *websocket.Conn, err error) {
	code := apperr.CodeOf(err)

	if code == apperr.AuthRequired {
		slog.Info("websocket rejected", slog.Any(constant.Error, err))
	} else {
		slog.Error("websocket connect", slog.Any(constant.Error, err))
	}

	deadline := time.Now().Add(h.cfg.WriteTimeout)
	_ = ws.SetWriteDeadline(deadline)

	_ = ws.WriteJSON(events.Outbound{
		Type: events.TypeError,
		Data: events.AckError{Code: string(code), Message: apperr.Message(err)},
	})

	closeCode := websocket.CloseInternalServerErr
	if code == apperr.AuthRequired {
		closeCode = websocket.ClosePolicyViolation
	}

	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, string(code)), deadline)
}

func (h *WebSocketHandler) handleWebsocketError(conn *runtime.Connection, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("user disconnected from websocket", slog.Any(constant.UserID, conn.UserID()))
		default:
			slog.Warn(
				"websocket close error",
				slog.Int("code", closeErr.Code),
				slog.Any(constant.UserID, conn.UserID()),
			)
		}
	} else {
		slog.Warn(
			"websocket read",
			slog.Any(constant.UserID, conn.UserID()),
			slog.Any(constant.Error, err),
		)
	}
}
