// Package boardlink relays physical moves from a paired smart board. The
// board daemon publishes on NATS; each move is turned into a normal move
// intent so the server's confirmation arrives like any other move.
package boardlink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrNotAttached is returned when a move arrives before a game is attached
var ErrNotAttached = errors.New("no game attached to the board")

// Config holds the NATS connection settings of the bridge
type Config struct {
	URL           string
	Serial        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default bridge configuration
func DefaultConfig(url, serial string) Config {
	return Config{
		URL:           url,
		Serial:        serial,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Subject is the subject a board publishes its moves on
func Subject(serial string) string {
	return "board." + serial + ".moves"
}

// PhysicalMove is what the board daemon reports when a piece is moved
type PhysicalMove struct {
	Serial    string    `json:"serial"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Promotion string    `json:"promotion,omitempty"`
	At        time.Time `json:"at"`
}

// Mover accepts move intents
type Mover interface {
	AttemptMove(from, to, promotion string) error
}

// Bridge forwards board moves to the attached game
type Bridge struct {
	cfg    Config
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *zap.Logger

	mu    sync.RWMutex
	mover Mover
}

// NewBridge creates a bridge that is not connected yet
func NewBridge(cfg Config, logger *zap.Logger) *Bridge {
	return &Bridge{cfg: cfg, logger: logger.With(zap.String("board", cfg.Serial))}
}

// Connect dials NATS and subscribes to the board's subject
func (b *Bridge) Connect() error {
	if b.cfg.Serial == "" {
		return errors.New("board serial must be set")
	}

	opts := []nats.Option{
		nats.Name("eng-client board bridge"),
		nats.MaxReconnects(b.cfg.MaxReconnects),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			b.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			b.logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(Subject(b.cfg.Serial), func(msg *nats.Msg) {
		if err := b.Handle(msg.Data); err != nil {
			b.logger.Warn("board move not forwarded", zap.Error(err))
		}
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", Subject(b.cfg.Serial), err)
	}

	b.nc = nc
	b.sub = sub
	b.logger.Info("board bridge connected", zap.String("subject", sub.Subject))
	return nil
}

// Attach routes subsequent moves to m; nil detaches
func (b *Bridge) Attach(m Mover) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mover = m
}

// Handle decodes one board notification and forwards it
func (b *Bridge) Handle(data []byte) error {
	var move PhysicalMove
	if err := json.Unmarshal(data, &move); err != nil {
		return fmt.Errorf("decode board move: %w", err)
	}

	if move.Serial != "" && move.Serial != b.cfg.Serial {
		return fmt.Errorf("move from board %q on the subject of %q", move.Serial, b.cfg.Serial)
	}
	if move.From == "" || move.To == "" {
		return errors.New("board move needs from and to")
	}

	b.mu.RLock()
	mover := b.mover
	b.mu.RUnlock()

	if mover == nil {
		return ErrNotAttached
	}

	b.logger.Debug("forwarding board move", zap.String("from", move.From), zap.String("to", move.To))
	return mover.AttemptMove(strings.ToLower(move.From), strings.ToLower(move.To), move.Promotion)
}

// Close drains the subscription and closes the connection
func (b *Bridge) Close() error {
	if b.nc == nil {
		return nil
	}

	err := b.nc.Drain()
	b.nc = nil
	return err
}
