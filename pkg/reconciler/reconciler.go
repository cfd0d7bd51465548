// Package reconciler applies server messages to the session store in order
// and recovers from gaps and desyncs by requesting a full snapshot.
package reconciler

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/chess"
	"github.com/tecu23/eng-client/pkg/events"
	"github.com/tecu23/eng-client/pkg/messages"
	"github.com/tecu23/eng-client/pkg/session"
)

// Defaults used when Config leaves a field zero
const (
	DefaultGapGrace          = 3 * time.Second
	DefaultResyncTimeout     = 5 * time.Second
	DefaultMaxResyncAttempts = 3
)

// StaleNotice is shown once the resync budget is exhausted
const StaleNotice = "resync failed, rejoin required"

// Config tunes sequencing and recovery
type Config struct {
	GapGrace          time.Duration
	ResyncTimeout     time.Duration
	MaxResyncAttempts int
}

func (c Config) withDefaults() Config {
	if c.GapGrace <= 0 {
		c.GapGrace = DefaultGapGrace
	}
	if c.ResyncTimeout <= 0 {
		c.ResyncTimeout = DefaultResyncTimeout
	}
	if c.MaxResyncAttempts <= 0 {
		c.MaxResyncAttempts = DefaultMaxResyncAttempts
	}

	return c
}

// Resyncer sends a request for a full snapshot to the server
type Resyncer interface {
	RequestResync() error
}

// Notifier surfaces user-visible notices
type Notifier interface {
	Notify(gameID, level, text string)
}

// DesyncError reports a move whose base position differs from the local one
type DesyncError struct {
	Local  string
	Remote string
	SAN    string
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("desync applying %s: local position %q, server base %q", e.SAN, e.Local, e.Remote)
}

type phase int

const (
	phaseLive phase = iota
	phaseAwaiting
	phaseStale
)

// Reconciler translates inbound messages into store mutations. It is not safe
// for concurrent use; the game controller calls it from its event loop only.
type Reconciler struct {
	store    *session.Store
	resyncer Resyncer
	notifier Notifier
	clock    clockwork.Clock
	cfg      Config
	logger   *zap.Logger

	lastSeq  int64
	buffer   map[int64]messages.Sequenced
	gapSince time.Time

	phase        phase
	attempts     int
	resyncSentAt time.Time
}

// New creates a reconciler expecting sequence 1 next
func New(
	store *session.Store,
	resyncer Resyncer,
	notifier Notifier,
	clock clockwork.Clock,
	cfg Config,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		store:    store,
		resyncer: resyncer,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		buffer:   make(map[int64]messages.Sequenced),
	}
}

// LastSequence is the sequence of the last applied message
func (r *Reconciler) LastSequence() int64 {
	return r.lastSeq
}

// AwaitingResync reports whether a snapshot has been requested and not received
func (r *Reconciler) AwaitingResync() bool {
	return r.phase == phaseAwaiting
}

// Stale reports whether the resync budget was exhausted
func (r *Reconciler) Stale() bool {
	return r.phase == phaseStale
}

// Handle applies one inbound message. Malformed content and desyncs are
// reported through the returned error after recovery has been started;
// callers only log it.
func (r *Reconciler) Handle(msg messages.Inbound) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reconciler panic handling %s: %v", msg.Kind(), rec)
			r.logger.Error("reconciler panic", zap.String("kind", msg.Kind()), zap.Any("panic", rec))
		}
	}()

	switch m := msg.(type) {
	case messages.MoveApplied:
		if m.Snapshot != nil {
			return r.snapshotMove(m)
		}
		return r.sequenced(m)

	case messages.ClockSync:
		return r.sequenced(m)

	case messages.GameEnded:
		return r.store.Apply(session.CauseEvent, func(g *session.GameSession) error {
			g.Result = m.Result
			g.EndReason = m.Reason
			g.DrawOffer = ""
			return nil
		})

	case messages.DrawOffered:
		return r.store.Apply(session.CauseEvent, func(g *session.GameSession) error {
			if g.Terminal() {
				return nil
			}
			g.DrawOffer = m.BySide
			return nil
		})

	case messages.DrawResponse:
		if err := r.store.Apply(session.CauseEvent, func(g *session.GameSession) error {
			g.DrawOffer = ""
			return nil
		}); err != nil {
			return err
		}

		text := "draw offer declined"
		if m.Accepted {
			text = "draw offer accepted"
		}
		r.notify(events.LevelInfo, text)
		return nil

	case messages.Resync:
		return r.applySnapshot(m.Snapshot, session.CauseResync, nil)

	case messages.ChatMessage, messages.GameInvalid:
		// routed by the controller, nothing to reconcile
		return nil
	}

	return fmt.Errorf("%w: %s", messages.ErrUnknownType, msg.Kind())
}

func (r *Reconciler) sequenced(m messages.Sequenced) error {
	seq, ok := m.Seq()
	if !ok {
		return r.apply(m)
	}

	if r.phase != phaseLive {
		r.logger.Debug("dropping message while awaiting resync",
			zap.String("kind", m.Kind()),
			zap.Int64("sequence", seq),
		)
		return nil
	}

	switch {
	case seq < r.lastSeq, seq == r.lastSeq && m.Kind() != messages.TypeClockSync:
		r.logger.Debug("dropping duplicate message",
			zap.String("kind", m.Kind()),
			zap.Int64("sequence", seq),
			zap.Int64("last_sequence", r.lastSeq),
		)
		return nil

	case seq == r.lastSeq:
		// a clock sync sharing the sequence of the move it follows
		return r.apply(m)

	case seq == r.lastSeq+1:
		if err := r.apply(m); err != nil {
			return err
		}
		r.lastSeq = seq
		return r.drain()
	}

	r.buffer[seq] = m
	if r.gapSince.IsZero() {
		r.gapSince = r.clock.Now()
	}
	r.logger.Debug("buffering message ahead of sequence",
		zap.Int64("sequence", seq),
		zap.Int64("expected", r.lastSeq+1),
	)
	return nil
}

// drain applies buffered messages that are now next in line
func (r *Reconciler) drain() error {
	for {
		m, ok := r.buffer[r.lastSeq+1]
		if !ok {
			break
		}
		delete(r.buffer, r.lastSeq+1)

		if err := r.apply(m); err != nil {
			return err
		}
		r.lastSeq++
	}

	for seq := range r.buffer {
		if seq <= r.lastSeq {
			delete(r.buffer, seq)
		}
	}

	if len(r.buffer) == 0 {
		r.gapSince = time.Time{}
	} else {
		r.gapSince = r.clock.Now()
	}

	return nil
}

func (r *Reconciler) apply(m messages.Sequenced) error {
	switch m := m.(type) {
	case messages.MoveApplied:
		return r.applyMove(m)
	case messages.ClockSync:
		return r.store.Apply(session.CauseEvent, func(g *session.GameSession) error {
			if g.Terminal() {
				return nil
			}
			g.Clocks = m.Clocks()
			return nil
		})
	}

	return fmt.Errorf("%w: %s", messages.ErrUnknownType, m.Kind())
}

func (r *Reconciler) applyMove(m messages.MoveApplied) error {
	current := r.store.Snapshot()
	if !chess.SamePosition(m.FromFEN, current.PositionFEN) {
		return r.desync(&DesyncError{Local: current.PositionFEN, Remote: m.FromFEN, SAN: m.SAN})
	}

	to := m.ToFEN
	if to == "" {
		derived, err := chess.ApplySAN(m.FromFEN, m.SAN)
		if err != nil {
			return r.desync(fmt.Errorf("derive position after %s: %w", m.SAN, err))
		}
		to = derived
	}

	err := r.store.Apply(session.CauseEvent, func(g *session.GameSession) error {
		g.PositionFEN = to
		g.MoveHistory = append(g.MoveHistory, m.SAN)
		g.LastMove = &session.MoveRecord{SAN: m.SAN, Capture: m.Capture}
		g.DrawOffer = ""
		return nil
	})
	if err != nil {
		return r.desync(fmt.Errorf("apply %s: %w", m.SAN, err))
	}

	return nil
}

// desync marks the session untrusted and asks for a snapshot
func (r *Reconciler) desync(cause error) error {
	r.logger.Warn("session out of sync", zap.Error(cause))

	if r.phase == phaseLive {
		r.startResync()
	}

	return cause
}

// RequestResync starts a new resync cycle with a fresh retry budget. The
// controller calls it on join and after the channel reconnects.
func (r *Reconciler) RequestResync() {
	r.startResync()
}

func (r *Reconciler) startResync() {
	r.phase = phaseAwaiting
	r.attempts = 0
	r.buffer = make(map[int64]messages.Sequenced)
	r.gapSince = time.Time{}

	if err := r.store.Apply(session.CauseEvent, func(g *session.GameSession) error {
		g.Status = session.StatusAwaitingResync
		return nil
	}); err != nil && !errors.Is(err, session.ErrInactive) {
		r.logger.Error("failed to mark session awaiting resync", zap.Error(err))
	}

	r.sendResync()
}

func (r *Reconciler) sendResync() {
	r.attempts++
	r.resyncSentAt = r.clock.Now()

	r.logger.Info("requesting resync", zap.Int("attempt", r.attempts))
	if err := r.resyncer.RequestResync(); err != nil {
		// the timeout below retries
		r.logger.Warn("resync request not sent", zap.Error(err))
	}
}

// Tick evaluates the gap grace window and the resync timeout
func (r *Reconciler) Tick(now time.Time) {
	switch r.phase {
	case phaseAwaiting:
		if now.Sub(r.resyncSentAt) < r.cfg.ResyncTimeout {
			return
		}

		if r.attempts >= r.cfg.MaxResyncAttempts {
			r.markStale()
			return
		}

		r.sendResync()

	case phaseLive:
		if r.gapSince.IsZero() || now.Sub(r.gapSince) < r.cfg.GapGrace {
			return
		}

		r.logger.Warn("sequence gap persisted, requesting resync",
			zap.Int64("expected", r.lastSeq+1),
			zap.Int("buffered", len(r.buffer)),
		)
		r.startResync()
	}
}

func (r *Reconciler) markStale() {
	r.phase = phaseStale
	r.logger.Error("resync attempts exhausted", zap.Int("attempts", r.attempts))

	if err := r.store.Apply(session.CauseEvent, func(g *session.GameSession) error {
		g.Status = session.StatusStale
		return nil
	}); err != nil {
		r.logger.Error("failed to mark session stale", zap.Error(err))
	}

	r.notify(events.LevelError, StaleNotice)
}

// snapshotMove applies a move that carries the full session. While live it
// obeys the same ordering as any other sequenced message.
func (r *Reconciler) snapshotMove(m messages.MoveApplied) error {
	snap := *m.Snapshot

	if seq, ok := m.Seq(); ok {
		if r.phase == phaseLive && seq <= r.lastSeq {
			r.logger.Debug("dropping late move snapshot",
				zap.Int64("sequence", seq),
				zap.Int64("last_sequence", r.lastSeq),
			)
			return nil
		}
		snap.Sequence = max(snap.Sequence, seq)
	}

	return r.applySnapshot(snap, session.CauseEvent, &session.MoveRecord{SAN: m.SAN, Capture: m.Capture})
}

// applySnapshot replaces the session and resumes sequencing after it. A live
// session never goes back to an older snapshot.
func (r *Reconciler) applySnapshot(snap messages.Snapshot, cause session.Cause, last *session.MoveRecord) error {
	if r.phase == phaseLive && snap.Sequence > 0 && snap.Sequence < r.lastSeq {
		r.logger.Debug("dropping outdated snapshot",
			zap.Int64("sequence", snap.Sequence),
			zap.Int64("last_sequence", r.lastSeq),
		)
		return nil
	}

	err := r.store.Apply(cause, func(g *session.GameSession) error {
		g.PositionFEN = snap.FEN
		g.MoveHistory = append([]string{}, snap.MoveHistory...)
		g.Clocks = snap.Clocks
		g.Result = snap.Result
		g.EndReason = snap.Reason
		g.DrawOffer = snap.DrawOffer
		g.LastMove = last
		if g.Players.Empty() {
			g.Players = snap.Players
		}
		g.Status = session.StatusLive
		return nil
	})
	if err != nil {
		r.logger.Warn("dropping unusable snapshot", zap.Error(err))
		return fmt.Errorf("apply snapshot: %w", err)
	}

	r.phase = phaseLive
	r.attempts = 0
	if snap.Sequence > 0 {
		r.lastSeq = snap.Sequence
	}

	return r.drain()
}

func (r *Reconciler) notify(level, text string) {
	if r.notifier == nil {
		return
	}

	r.notifier.Notify(r.store.Snapshot().GameID.String(), level, text)
}
