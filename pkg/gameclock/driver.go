// Package gameclock ticks the side to move down between authoritative clock syncs.
package gameclock

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/chess"
	"github.com/tecu23/eng-client/pkg/session"
)

// DefaultLowTime is the threshold in seconds under which LowTime fires
const DefaultLowTime int64 = 30

// TickInterval is the local tick period
const TickInterval = time.Second

// SignalKind distinguishes driver signals
type SignalKind string

// Signals raised by the driver
const (
	LowTime     SignalKind = "low-time"
	ZeroReached SignalKind = "zero-reached" // not a flag fall, only the server ends the game
)

// Signal is raised once per side each time a threshold is crossed
type Signal struct {
	Kind      SignalKind
	Side      chess.Side
	Remaining int64
}

var errUnchanged = errors.New("clock unchanged")

// Driver owns the local ticker of one session. Tick must be called from the
// goroutine that applies server messages so a move and the clock handover
// are never interleaved.
type Driver struct {
	store    *session.Store
	clock    clockwork.Clock
	lowTime  int64
	onSignal func(Signal)
	logger   *zap.Logger

	ticker clockwork.Ticker

	lowFired  map[chess.Side]bool
	zeroFired map[chess.Side]bool
}

// NewDriver creates a stopped driver
func NewDriver(
	store *session.Store,
	clock clockwork.Clock,
	lowTime int64,
	onSignal func(Signal),
	logger *zap.Logger,
) *Driver {
	if lowTime <= 0 {
		lowTime = DefaultLowTime
	}

	return &Driver{
		store:     store,
		clock:     clock,
		lowTime:   lowTime,
		onSignal:  onSignal,
		logger:    logger,
		lowFired:  make(map[chess.Side]bool),
		zeroFired: make(map[chess.Side]bool),
	}
}

// Start acquires the ticker. Calling it on a running driver is a no-op.
func (d *Driver) Start() {
	if d.ticker != nil {
		return
	}

	d.ticker = d.clock.NewTicker(TickInterval)
	d.logger.Debug("clock driver started")
}

// Stop releases the ticker. It is safe to call more than once.
func (d *Driver) Stop() {
	if d.ticker == nil {
		return
	}

	d.ticker.Stop()
	d.ticker = nil
	d.logger.Debug("clock driver stopped")
}

// Running reports whether the ticker is held
func (d *Driver) Running() bool {
	return d.ticker != nil
}

// C delivers ticks while the driver runs. A stopped driver returns a nil
// channel, which blocks forever in a select.
func (d *Driver) C() <-chan time.Time {
	if d.ticker == nil {
		return nil
	}

	return d.ticker.Chan()
}

// Tick removes one second from the side to move
func (d *Driver) Tick() {
	var side chess.Side
	var remaining int64

	err := d.store.Apply(session.CauseTick, func(g *session.GameSession) error {
		if g.Terminal() || g.Status == session.StatusStale {
			return errUnchanged
		}

		side = g.ActivePlayer()
		if !side.Valid() {
			return errUnchanged
		}

		changed := g.Clocks.Decrement(side)
		remaining = g.Clocks.Get(side)
		if !changed {
			return errUnchanged
		}
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errUnchanged):
	case errors.Is(err, session.ErrInactive):
		return
	default:
		d.logger.Error("clock tick failed", zap.Error(err))
		return
	}

	if side.Valid() {
		d.signal(side, remaining)
	}
}

// signal fires the threshold signals of side and re-arms them once an
// authoritative sync raises the clock back over the threshold
func (d *Driver) signal(side chess.Side, remaining int64) {
	if remaining > d.lowTime {
		d.lowFired[side] = false
	}
	if remaining > 0 {
		d.zeroFired[side] = false
	}

	if remaining <= d.lowTime && remaining > 0 && !d.lowFired[side] {
		d.lowFired[side] = true
		d.emit(Signal{Kind: LowTime, Side: side, Remaining: remaining})
	}

	if remaining == 0 && !d.zeroFired[side] {
		d.zeroFired[side] = true
		d.lowFired[side] = true
		d.emit(Signal{Kind: ZeroReached, Side: side})
	}
}

func (d *Driver) emit(s Signal) {
	d.logger.Debug("clock signal", zap.String("kind", string(s.Kind)), zap.String("side", string(s.Side)))
	if d.onSignal != nil {
		d.onSignal(s)
	}
}
