// Package channel keeps one websocket to the game server and multiplexes
// topics over it.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/events"
	"github.com/tecu23/eng-client/pkg/messages"
)

// Handler receives the envelopes published on a topic
type Handler func(env messages.Envelope)

type topicHandler struct {
	id uint64
	fn Handler
}

// Channel is a reconnecting websocket shared by every topic. Delivery is at
// most once per physical connection; frames lost across a reconnect are not
// replayed.
type Channel struct {
	cfg       Config
	dialer    *websocket.Dialer
	publisher *events.Publisher
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	conn   *Connection
	topics map[string][]topicHandler
	nextID uint64
	closed bool

	closeOnce sync.Once
}

// Dial connects to the endpoint. A failing first dial is returned to the
// caller; later drops are retried in the background.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger, publisher *events.Publisher) (*Channel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.DialTimeout,
		},
		publisher: publisher,
		logger:    logger,
		ctx:       runCtx,
		cancel:    cancel,
		topics:    make(map[string][]topicHandler),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, &TransientNetworkError{Op: "dial", Err: err}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	conn.start()

	c.publish(events.EventChannelOpened, events.OpenedPayload{ConnectionID: conn.ID.String()})

	c.wg.Add(1)
	go c.run(conn)

	return c, nil
}

func (c *Channel) dial(ctx context.Context) (*Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.Endpoint, c.cfg.Credentials.Header())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Endpoint, err)
	}

	conn := newConnection(ws, c.cfg, c.dispatch, c.logger)
	c.logger.Info("connected",
		zap.String("connection_id", conn.ID.String()),
		zap.String("endpoint", c.cfg.Endpoint),
		zap.String("token", c.cfg.Credentials.Redacted()),
	)
	return conn, nil
}

// run supervises the live connection and replaces it when it drops
func (c *Channel) run(conn *Connection) {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			conn.shutdown()
			return
		case <-conn.Done():
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		if c.ctx.Err() != nil {
			return
		}

		c.logger.Warn("connection lost, reconnecting", zap.Error(conn.Err()))
		c.publish(events.EventChannelError, events.ErrorPayload{
			Err: &TransientNetworkError{Op: "read", Err: conn.Err()},
		})

		next, err := c.reconnect()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			c.logger.Error("giving up on the connection", zap.Error(err))
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.cancel()
			c.publish(events.EventChannelError, events.ErrorPayload{Err: err})
			return
		}

		conn = next
	}
}

// reconnect dials with bounded exponential backoff. On success every active
// topic is subscribed again before anyone else can send on the new connection.
func (c *Channel) reconnect() (*Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Reset()

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		wait := b.NextBackOff()
		if wait < 0 {
			break
		}

		timer := c.cfg.Clock.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, ErrClosed
		case <-timer.Chan():
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			c.logger.Warn("reconnect failed",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		for topic := range c.topics {
			c.enqueueLocked(conn, messages.Subscribe(topic))
		}
		c.mu.Unlock()
		conn.start()

		c.publish(events.EventChannelOpened, events.OpenedPayload{ConnectionID: conn.ID.String(), Reconnect: true})
		return conn, nil
	}

	return nil, ErrReconnectExhausted
}

// Subscribe registers a handler for a topic. The server is asked for the
// topic when its first handler registers and released when the last leaves.
func (c *Channel) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	first := len(c.topics[topic]) == 0
	c.topics[topic] = append(c.topics[topic], topicHandler{id: id, fn: handler})
	if first && c.conn != nil {
		c.enqueueLocked(c.conn, messages.Subscribe(topic))
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(topic, id) })
	}
}

func (c *Channel) unsubscribe(topic string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handlers := c.topics[topic]
	for i, h := range handlers {
		if h.id == id {
			handlers = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}

	if len(handlers) > 0 {
		c.topics[topic] = handlers
		return
	}

	delete(c.topics, topic)
	if c.conn != nil && !c.closed {
		c.enqueueLocked(c.conn, messages.Unsubscribe(topic))
	}
}

func (c *Channel) enqueueLocked(conn *Connection, out messages.Outbound) {
	data, err := out.Marshal()
	if err != nil {
		c.logger.Error("failed to marshal message", zap.String("type", out.Type), zap.Error(err))
		return
	}

	if err := conn.enqueue(data); err != nil {
		// the topic list is replayed on reconnect
		c.logger.Warn("failed to send topic change", zap.String("type", out.Type), zap.String("topic", out.Topic), zap.Error(err))
	}
}

// Send enqueues a message on the live connection. Nothing is buffered while
// disconnected; the caller gets a TransientNetworkError instead.
func (c *Channel) Send(out messages.Outbound) error {
	data, err := out.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", out.Type, err)
	}

	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()

	if closed {
		return &TransientNetworkError{Op: "send", Err: ErrClosed}
	}
	if conn == nil {
		return &TransientNetworkError{Op: "send", Err: ErrNotConnected}
	}

	if err := conn.enqueue(data); err != nil {
		return &TransientNetworkError{Op: "send", Err: err}
	}

	return nil
}

// Connected reports whether a live connection exists
func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil && !c.closed
}

// Topics returns the topics that currently have handlers
func (c *Channel) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}

	return topics
}

// dispatch routes one frame to the handlers of its topic. The payload is not
// interpreted here.
func (c *Channel) dispatch(data []byte) {
	var env messages.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("dropping unreadable frame", zap.Error(err))
		return
	}
	if _, _, err := messages.SplitTopic(env.Topic); err != nil {
		c.logger.Warn("dropping frame without a topic", zap.String("type", env.Type), zap.Error(err))
		return
	}

	c.mu.RLock()
	handlers := append([]topicHandler(nil), c.topics[env.Topic]...)
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("no handler for topic", zap.String("topic", env.Topic), zap.String("type", env.Type))
		return
	}

	for _, h := range handlers {
		c.call(h.fn, env)
	}
}

func (c *Channel) call(fn Handler, env messages.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("topic handler panicked",
				zap.String("topic", env.Topic),
				zap.String("type", env.Type),
				zap.Any("panic", r),
			)
		}
	}()

	fn(env)
}

// Close stops reconnecting, closes the socket and publishes CHANNEL_CLOSED
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.wg.Wait()

		c.logger.Info("channel closed")
		c.publish(events.EventChannelClosed, nil)
	})

	return nil
}

func (c *Channel) publish(t events.EventType, payload interface{}) {
	if c.publisher == nil {
		return
	}

	c.publisher.Publish(events.Event{Type: t, Payload: payload})
}
