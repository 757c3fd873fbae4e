package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait              = 10 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultMaxMessageBytes = 1 << 20
	defaultSendBuffer      = 256
)

var errSendBufferFull = errors.New("send buffer full")

// WebSocketConfig bounds every collaboration connection.
type WebSocketConfig struct {
	MaxMessageBytes int64
	SendBuffer      int
	PongWait        time.Duration
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = defaultMaxMessageBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	return c
}

// wsConn adapts a gorilla websocket to session.Connection. Outbound frames are
// queued and written by writePump; inbound frames are read by readPump and
// handed to the session loop.
type wsConn struct {
	id          string
	displayName string
	ws          *websocket.Conn
	send        chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	sessions    Sessions
	config      WebSocketConfig
	logger      *zap.Logger
}

func newWSConn(id, displayName string, ws *websocket.Conn, sessions Sessions, config WebSocketConfig, logger *zap.Logger) *wsConn {
	config = config.withDefaults()
	return &wsConn{
		id:          id,
		displayName: displayName,
		ws:          ws,
		send:        make(chan []byte, config.SendBuffer),
		closed:      make(chan struct{}),
		sessions:    sessions,
		config:      config,
		logger:      logger.With(zap.String("connection_id", id)),
	}
}

func (c *wsConn) ID() string { return c.id }

// DisplayName is the name requested in the upgrade query, used when a join
// does not carry one.
func (c *wsConn) DisplayName() string { return c.displayName }

// Send queues frame for writing. A connection that cannot keep up is closed;
// the client recovers with a full sync after reconnecting.
func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("send buffer full, closing connection", zap.Int("send_buffer", c.config.SendBuffer))
		c.shutdown()
		return errSendBufferFull
	}
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *wsConn) start() {
	go c.writePump()
	go c.readPump()
}

func (c *wsConn) readPump() {
	defer func() {
		if err := c.sessions.Disconnect(c); err != nil {
			c.logger.Warn("disconnect not delivered", zap.Error(err))
		}
		c.shutdown()
	}()

	c.ws.SetReadLimit(c.config.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if err := c.sessions.HandleFrame(c, frame); err != nil {
			c.logger.Warn("frame not delivered", zap.Error(err))
			return
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
