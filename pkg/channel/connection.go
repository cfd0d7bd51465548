package channel

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection is one physical websocket. It never reconnects itself; the
// channel replaces it with a fresh one.
type Connection struct {
	ID   uuid.UUID
	ws   *websocket.Conn // The underlying Websocket connection
	send chan []byte     // Buffered channel of outbound messages.
	done chan struct{}

	closeOnce sync.Once
	err       error

	cfg       Config
	onMessage func([]byte)
	logger    *zap.Logger
}

func newConnection(ws *websocket.Conn, cfg Config, onMessage func([]byte), logger *zap.Logger) *Connection {
	id := uuid.New()

	return &Connection{
		ID:        id,
		ws:        ws,
		send:      make(chan []byte, cfg.SendBuffer), // buffered for outgoing messages
		done:      make(chan struct{}),
		cfg:       cfg,
		onMessage: onMessage,
		logger:    logger.With(zap.String("connection_id", id.String())),
	}
}

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Done is closed once the connection is gone
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended; valid after Done is closed
func (c *Connection) Err() error {
	<-c.done
	return c.err
}

// readPump handles inbound frames from the server
func (c *Connection) readPump() {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		msgType, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			}
			c.close(err)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		// We only handle text
		if msgType == websocket.TextMessage {
			c.onMessage(msg)
		}
	}
}

// writePump handles outbound frames and keepalive pings
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("write error", zap.Error(err))
				c.close(err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("failed to send ping", zap.Error(err))
				c.close(err)
				return
			}
		}
	}
}

// enqueue hands a frame to the write pump without blocking
func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// shutdown says goodbye to the server and closes the socket
func (c *Connection) shutdown() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	c.close(ErrClosed)
}

func (c *Connection) close(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.ws.Close()
	})
}
