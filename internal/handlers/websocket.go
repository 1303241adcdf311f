package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/notifier"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// disconnectTimeout bounds the cleanup that runs after a connection drops.
const disconnectTimeout = 5 * time.Second

// Client represents a WebSocket client connection
type Client struct {
	ID   models.ClientID
	Conn *websocket.Conn
	send chan []byte
	cfg  config.WebSocketConfig

	mu     sync.RWMutex
	closed bool
}

func newClient(conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		Conn: conn,
		send: make(chan []byte, cfg.SendBuffer),
		cfg:  cfg,
	}
}

// TrySend queues frame without blocking. A client whose queue is full is too
// slow to keep up and gets closed, so it never sees a later frame without an
// earlier one.
func (c *Client) TrySend(frame []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		c.mu.RUnlock()
		return nil
	default:
	}
	c.mu.RUnlock()

	c.Close()
	return ErrBackpressure
}

// Close stops accepting frames. The write pump drains what is queued and
// then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// SignalingHandler upgrades connections and runs one read and one write pump
// per client.
type SignalingHandler struct {
	ctx      context.Context
	notifier *notifier.Notifier
	relay    *relay.Relay
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewSignalingHandler creates the handler. ctx bounds the lifetime of every
// connection it accepts.
func NewSignalingHandler(ctx context.Context, n *notifier.Notifier, r *relay.Relay, cfg config.WebSocketConfig) *SignalingHandler {
	return &SignalingHandler{
		ctx:      ctx,
		notifier: n,
		relay:    r,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// HandleSignaling handles WebSocket connections for call signaling
func (h *SignalingHandler) HandleSignaling(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "handlers").Msg("failed to upgrade connection")
		return
	}

	client := newClient(conn, h.cfg)
	id, err := h.notifier.Connect(h.ctx, client)
	if err != nil {
		log.Error().Err(err).Str("module", "handlers").Msg("failed to register client")
		client.Close()
		_ = conn.Close()
		return
	}
	client.ID = id

	go client.writePump(h.ctx)
	go client.readPump(h)
}

func (c *Client) readPump(h *SignalingHandler) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), disconnectTimeout)
		defer cancel()
		h.notifier.Disconnect(ctx, c.ID)
		c.Close()
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.cfg.ReadLimit)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "handlers").Str("client", string(c.ID)).Msg("websocket error")
			}
			return
		}
		h.dispatch(c, message)
	}
}

func (h *SignalingHandler) dispatch(c *Client, message []byte) {
	var msg models.SignalMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Warn().Err(err).Str("module", "handlers").Str("client", string(c.ID)).Msg("failed to parse message")
		return
	}

	var err error
	switch msg.Type {
	case models.SignalTypeCallInvite:
		err = h.relay.RelayCallInvitation(h.ctx, models.CallInvitation{
			Target: msg.To,
			Signal: msg.Signal,
			From:   c.ID,
			Name:   msg.Name,
		})
	case models.SignalTypeCallAccept:
		err = h.relay.RelayCallAcceptance(h.ctx, c.ID, models.CallAcceptance{
			Target: msg.To,
			Signal: msg.Signal,
		})
	case models.SignalTypeCallEnd:
		err = h.relay.RelayCallEnd(h.ctx, c.ID, msg.To)
	default:
		log.Warn().Str("module", "handlers").Str("client", string(c.ID)).Str("type", string(msg.Type)).Msg("unknown message type")
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, relay.ErrTargetNotFound):
		// Expected when the callee left; the policy already ran.
	case errors.Is(err, relay.ErrMissingTarget):
		log.Warn().Str("module", "handlers").Str("client", string(c.ID)).Str("type", string(msg.Type)).Msg("dropping message without target")
	default:
		log.Warn().Err(err).Str("module", "handlers").Str("client", string(c.ID)).Str("type", string(msg.Type)).Msg("relay failed")
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("module", "handlers").Str("client", string(c.ID)).Msg("failed to write message")
				return
			}

		case <-ctx.Done():
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
