// Package game runs one event loop per joined game. The loop is the only
// goroutine that mutates the session: server messages, clock ticks and user
// intents are applied one at a time, each to completion.
package game

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/channel"
	"github.com/tecu23/eng-client/pkg/chess"
	"github.com/tecu23/eng-client/pkg/effects"
	"github.com/tecu23/eng-client/pkg/events"
	"github.com/tecu23/eng-client/pkg/gameclock"
	"github.com/tecu23/eng-client/pkg/messages"
	"github.com/tecu23/eng-client/pkg/reconciler"
	"github.com/tecu23/eng-client/pkg/session"
)

const (
	inboxSize     = 256
	lifecycleSize = 16

	maintenanceInterval = time.Second
)

// Transport is the part of the connection channel a controller uses
type Transport interface {
	Subscribe(topic string, handler channel.Handler) (unsubscribe func())
	Send(out messages.Outbound) error
}

// Settings tune every controller created by a manager
type Settings struct {
	Reconciler reconciler.Config
	LowTime    int64
}

// JoinOptions describe the local player's seat in a game
type JoinOptions struct {
	LocalSide chess.Side // empty for spectators
}

type intent struct {
	apply func() error
	reply chan error
}

// Controller owns the session of one game
type Controller struct {
	ID uuid.UUID

	store      *session.Store
	reconciler *reconciler.Reconciler
	driver     *gameclock.Driver
	dispatcher *effects.Dispatcher
	chat       *ChatLog

	transport Transport
	publisher *events.Publisher
	clock     clockwork.Clock
	logger    *zap.Logger

	inbox     chan messages.Envelope
	intents   chan intent
	lifecycle chan events.Event
	dropped   atomic.Bool // a game message was lost to a full inbox
	unsubs    []func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newController(
	ctx context.Context,
	gameID uuid.UUID,
	opts JoinOptions,
	transport Transport,
	publisher *events.Publisher,
	sounder effects.Sounder,
	settings Settings,
	clock clockwork.Clock,
	logger *zap.Logger,
) (*Controller, error) {
	logger = logger.With(zap.String("game_id", gameID.String()))
	if publisher == nil {
		publisher = events.NewPublisher()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c := &Controller{
		ID:         gameID,
		store:      session.NewStore(logger),
		dispatcher: effects.NewDispatcher(sounder, publisher, logger),
		chat:       &ChatLog{},
		transport:  transport,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		inbox:      make(chan messages.Envelope, inboxSize),
		intents:    make(chan intent),
		lifecycle:  make(chan events.Event, lifecycleSize),
		ctx:        runCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.reconciler = reconciler.New(c.store, c, publisher, clock, settings.Reconciler, logger)
	c.driver = gameclock.NewDriver(c.store, clock, settings.LowTime, func(s gameclock.Signal) {
		c.dispatcher.Signal(gameID.String(), s)
	}, logger)

	if err := c.store.Reset(session.New(gameID, opts.LocalSide)); err != nil {
		cancel()
		return nil, err
	}

	c.store.Subscribe(c.dispatcher.Observe)
	c.store.Subscribe(c.watchTerminal)

	id := gameID.String()
	for _, topic := range []string{messages.GameTopic(id), messages.ChatTopic(id), messages.BoardTopic(id)} {
		c.unsubs = append(c.unsubs, transport.Subscribe(topic, c.post))
	}
	// one subscription keeps opened and error events in publish order
	c.unsubs = append(c.unsubs, publisher.SubscribeAll(c.postLifecycle))

	c.driver.Start()
	go c.run()

	logger.Info("joined game", zap.String("local_side", string(opts.LocalSide)))
	return c, nil
}

// post is the topic handler; it runs on the channel's reader goroutine
func (c *Controller) post(env messages.Envelope) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.inbox <- env:
	default:
		c.logger.Warn("inbox full, dropping message", zap.String("type", env.Type))
		if env.Type != messages.TypeChat {
			c.dropped.Store(true)
		}
	}
}

func (c *Controller) postLifecycle(e events.Event) {
	if e.Type != events.EventChannelOpened && e.Type != events.EventChannelError {
		return
	}

	select {
	case c.lifecycle <- e:
	case <-c.done:
	default:
	}
}

// watchTerminal releases the ticker as soon as the game is over
func (c *Controller) watchTerminal(u session.Update) {
	switch {
	case u.Next.Terminal():
		c.driver.Stop()
	case u.Prev.Terminal():
		c.driver.Start()
	}
}

func (c *Controller) run() {
	defer close(c.done)
	defer c.teardown()

	maintenance := c.clock.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	c.reconciler.RequestResync()

	for {
		select {
		case <-c.ctx.Done():
			return

		case env := <-c.inbox:
			if err := c.handle(env); err != nil {
				c.err = err
				return
			}

		case <-c.driver.C():
			c.driver.Tick()

		case now := <-maintenance.Chan():
			if c.dropped.CompareAndSwap(true, false) {
				c.logger.Warn("game messages were dropped, requesting resync")
				c.reconciler.RequestResync()
			}
			c.reconciler.Tick(now)

		case in := <-c.intents:
			in.reply <- in.apply()

		case e := <-c.lifecycle:
			c.handleLifecycle(e)
		}
	}
}

// handle decodes and applies one envelope. A non-nil return ends the session.
func (c *Controller) handle(env messages.Envelope) error {
	msg, err := messages.Decode(env)
	if err != nil {
		if errors.Is(err, messages.ErrUnknownType) {
			c.logger.Debug("ignoring unknown message", zap.String("type", env.Type))
		} else {
			c.logger.Warn("dropping malformed message", zap.String("type", env.Type), zap.Error(err))
		}
		return nil
	}

	switch m := msg.(type) {
	case messages.ChatMessage:
		line := ChatLine{From: m.From, Text: m.Text, SentAt: m.SentAt}
		if line.SentAt.IsZero() {
			line.SentAt = c.clock.Now()
		}
		c.chat.Append(line)
		c.publisher.Publish(events.Event{Type: events.EventChatReceived, GameID: c.ID.String(), Payload: line})
		return nil

	case messages.GameInvalid:
		c.logger.Warn("game reported invalid", zap.String("reason", m.Reason))
		c.notify(events.LevelError, "game is no longer available")
		return ErrGameInvalid
	}

	if err := c.reconciler.Handle(msg); err != nil {
		c.logger.Warn("message not applied", zap.String("type", env.Type), zap.Error(err))
	}

	return nil
}

func (c *Controller) handleLifecycle(e events.Event) {
	switch e.Type {
	case events.EventChannelOpened:
		if p, ok := e.Payload.(events.OpenedPayload); ok && p.Reconnect {
			c.logger.Info("channel reconnected, requesting resync")
			c.reconciler.RequestResync()
		}

	case events.EventChannelError:
		p, _ := e.Payload.(events.ErrorPayload)
		if errors.Is(p.Err, channel.ErrReconnectExhausted) {
			c.notify(events.LevelError, "connection lost, rejoin required")
			return
		}
		c.notify(events.LevelWarn, "connection lost, reconnecting")
	}
}

// teardown runs on the loop goroutine when it exits
func (c *Controller) teardown() {
	c.driver.Stop()
	for _, unsubscribe := range c.unsubs {
		unsubscribe()
	}
	c.store.Clear()

	c.logger.Info("left game")
}

// RequestResync asks the server for a snapshot of this game
func (c *Controller) RequestResync() error {
	return c.transport.Send(messages.RequestResync(c.ID.String()))
}

// do runs fn on the loop goroutine and waits for its result
func (c *Controller) do(fn func() error) error {
	in := intent{apply: fn, reply: make(chan error, 1)}

	select {
	case c.intents <- in:
	case <-c.done:
		return ErrLeft
	}

	select {
	case err := <-in.reply:
		return err
	case <-c.done:
		return ErrLeft
	}
}

// playable rejects game intents the server must never see
func (c *Controller) playable(name string) error {
	snap := c.store.Snapshot()

	if snap.Terminal() {
		err := &TerminalSessionViolation{Intent: name, Result: snap.Result}
		c.notify(events.LevelWarn, err.Error())
		return err
	}
	if snap.Status == session.StatusStale {
		c.notify(events.LevelError, ErrSessionStale.Error())
		return ErrSessionStale
	}
	if !snap.LocalSide.Valid() {
		return ErrSpectator
	}

	return nil
}

func (c *Controller) send(out messages.Outbound) error {
	if err := c.transport.Send(out); err != nil {
		var transient *channel.TransientNetworkError
		if errors.As(err, &transient) {
			c.notify(events.LevelWarn, "connection lost, reconnecting")
		}
		return err
	}

	return nil
}

// AttemptMove asks the server to play from-to. The position only changes
// once the server confirms the move.
func (c *Controller) AttemptMove(from, to, promotion string) error {
	return c.do(func() error {
		if err := c.playable(messages.TypeAttemptMove); err != nil {
			return err
		}
		if _, _, err := chess.ParseSquare(from); err != nil {
			return err
		}
		if _, _, err := chess.ParseSquare(to); err != nil {
			return err
		}

		return c.send(messages.AttemptMove(c.ID.String(), from, to, strings.ToLower(promotion)))
	})
}

// Resign gives up the game
func (c *Controller) Resign() error {
	return c.do(func() error {
		if err := c.playable(messages.TypeResign); err != nil {
			return err
		}

		return c.send(messages.Resign(c.ID.String()))
	})
}

// OfferDraw offers a draw to the opponent
func (c *Controller) OfferDraw() error {
	return c.do(func() error {
		if err := c.playable(messages.TypeOfferDraw); err != nil {
			return err
		}

		return c.send(messages.OfferDraw(c.ID.String()))
	})
}

// RespondDraw accepts or declines the opponent's pending offer
func (c *Controller) RespondDraw(accept bool) error {
	return c.do(func() error {
		if err := c.playable(messages.TypeRespondDraw); err != nil {
			return err
		}

		snap := c.store.Snapshot()
		if snap.DrawOffer == "" || snap.DrawOffer == snap.LocalSide {
			return ErrNoDrawOffer
		}

		return c.send(messages.RespondDraw(c.ID.String(), accept))
	})
}

// Flip turns the board around. It never reaches the server.
func (c *Controller) Flip() error {
	return c.do(func() error {
		return c.store.Apply(session.CauseIntent, func(g *session.GameSession) error {
			g.Orientation = g.Orientation.Opp()
			return nil
		})
	})
}

// SendChat posts a line to the game chat
func (c *Controller) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyChat
	}

	return c.do(func() error {
		return c.send(messages.ChatSend(c.ID.String(), text))
	})
}

// Snapshot returns a copy of the current session
func (c *Controller) Snapshot() session.GameSession {
	return c.store.Snapshot()
}

// Subscribe registers a presentation listener on the session
func (c *Controller) Subscribe(fn session.Listener) func() {
	return c.store.Subscribe(fn)
}

// Chat returns the chat lines received so far
func (c *Controller) Chat() []ChatLine {
	return c.chat.Lines()
}

// Done is closed once the loop has exited and the session is torn down
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session ended on its own, nil after a Leave
func (c *Controller) Err() error {
	<-c.done
	return c.err
}

// Leave tears the session down and waits for the loop to exit
func (c *Controller) Leave() {
	c.cancel()
	<-c.done
}

func (c *Controller) notify(level, text string) {
	c.publisher.Notify(c.ID.String(), level, text)
}
