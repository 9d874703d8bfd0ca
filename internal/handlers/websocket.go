package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/edgecall/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendBuffer      = 64
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsRequestTimeout  = 10 * time.Second
)

var (
	errConnClosed      = errors.New("connection closed")
	errSendBufferFull  = errors.New("send buffer full")
	errPayloadTooLarge = errors.New("payload too large")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate with a bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one client websocket. Writes go through a buffered channel
// drained by writeLoop; the channel is never closed so late senders fail
// with errConnClosed instead of panicking.
type wsConn struct {
	id     string
	userID uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	logger zerolog.Logger
}

func (c *wsConn) ID() string        { return c.id }
func (c *wsConn) UserID() uuid.UUID { return c.userID }
func (c *wsConn) Alive() bool       { return !c.closed.Load() }

func (c *wsConn) Send(evt models.Event) error {
	if c.closed.Load() {
		return errConnClosed
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", evt.Name, err)
	}
	if len(data) > wsMaxPayloadBytes {
		return errPayloadTooLarge
	}
	select {
	case <-c.ctx.Done():
		return errConnClosed
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) close() {
	if c.closed.Swap(true) {
		return
	}
	c.cancel()
	_ = c.conn.Close()
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) readLoop(handle func(models.InboundEvent)) {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Unexpected close error")
			}
			return
		}
		// Any inbound frame proves the peer is alive.
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var evt models.InboundEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.Name == "" {
			c.sendError("", errors.Join(errBadRequest, errors.New("invalid frame")))
			continue
		}
		handle(evt)
	}
}

func (c *wsConn) sendError(event string, err error) {
	if sendErr := c.Send(models.Event{Name: models.EventError, Data: errorPayload(event, err)}); sendErr != nil {
		c.logger.Debug().Err(sendErr).Msg("Failed to deliver error frame")
	}
}

type connectionAck struct {
	ConnectionID string    `json:"connectionId"`
	UserID       uuid.UUID `json:"userId"`
	ServerTime   time.Time `json:"serverTime"`
}

// ServeWS upgrades an authenticated request and serves the connection until
// either side closes it.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authenticate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		id:     uuid.NewString(),
		userID: claims.UserID,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	c.logger = log.With().Str("conn_id", c.id).Str("user_id", c.userID.String()).Logger()
	c.logger.Info().Msg("Client connected")

	h.registry.Connect(c)
	defer func() {
		c.close()
		if _, _, err := h.registry.Disconnect(c.id); err != nil {
			c.logger.Debug().Err(err).Msg("Connection already released")
		}
		c.logger.Info().Msg("Client disconnected")
	}()

	if err := c.Send(models.Event{Name: models.EventConnectionAck, Data: connectionAck{
		ConnectionID: c.id,
		UserID:       c.userID,
		ServerTime:   h.clock.Now().UTC(),
	}}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send connection ack")
	}

	go c.writeLoop()
	c.readLoop(func(evt models.InboundEvent) {
		reqCtx, cancel := context.WithTimeout(c.ctx, wsRequestTimeout)
		defer cancel()
		if err := h.dispatch(reqCtx, c, evt); err != nil {
			if _, code := classify(err); code == codeInternal {
				c.logger.Error().Err(err).Str("event", evt.Name).Msg("Event handling failed")
			}
			c.sendError(evt.Name, err)
		}
	})
}
