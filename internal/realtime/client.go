package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	joinTimeout    = 5 * time.Second
)

// Client message types.
const (
	MsgJoinProject  = "joinProject"
	MsgLeaveProject = "leaveProject"
)

// Server acknowledgement types; card events use models.EventType.
const (
	msgJoined = "joined"
	msgLeft   = "left"
	msgError  = "error"
)

// ClientMessage is a request sent by a subscriber.
type ClientMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

type notice struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Options tunes a connection.
type Options struct {
	SendBuffer int
	// RatePerSecond limits inbound messages; bursts up to twice the rate pass.
	RatePerSecond float64
}

// Client is one websocket connection bound to an authenticated user.
type Client struct {
	ID     string
	UserID string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient wraps conn for userID. conn may be nil in tests that only drive
// the hub.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	limit := rate.Inf
	burst := 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = int(opts.RatePerSecond*2) + 1
	}
	id := uuid.NewString()
	return &Client{
		ID:      id,
		UserID:  userID,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(limit, burst),
		logger:  hub.logger.With(slog.String("client", id), slog.String("user_id", userID)),
	}
}

// Run registers the client and pumps messages until the connection closes.
func (c *Client) Run() {
	c.hub.Register(c)
	c.logger.Info("realtime client connected")
	go c.writePump()
	c.readPump()
}

// readPump handles join/leave requests. Any read error ends the connection and
// removes it from every room.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
		c.logger.Info("realtime client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("realtime read failed", slog.String("error", err.Error()))
			}
			return
		}
		if !c.limiter.Allow() {
			c.hub.reply(c, notice{Type: msgError, Error: "rate limit exceeded"})
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.reply(c, notice{Type: msgError, Error: "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg ClientMessage) {
	switch msg.Type {
	case MsgJoinProject:
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		err := c.hub.Join(ctx, c, msg.ProjectID)
		cancel()
		if err != nil {
			c.logger.Info("join rejected", slog.String("project_id", msg.ProjectID), slog.String("error", err.Error()))
			c.hub.reply(c, notice{Type: msgError, ProjectID: msg.ProjectID, Error: err.Error()})
			return
		}
		c.hub.reply(c, notice{Type: msgJoined, ProjectID: msg.ProjectID})
	case MsgLeaveProject:
		c.hub.Leave(c, msg.ProjectID)
		c.hub.reply(c, notice{Type: msgLeft, ProjectID: msg.ProjectID})
	default:
		c.hub.reply(c, notice{Type: msgError, Error: "unknown message type"})
	}
}

// writePump drains the send queue to the socket and keeps the connection alive
// with pings. It exits when the hub closes the queue.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Warn("realtime write failed", slog.String("error", err.Error()))
				}
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
