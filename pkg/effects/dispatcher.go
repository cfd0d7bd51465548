// Package effects fires one-shot cues and notices from session transitions.
package effects

import (
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/audio"
	"github.com/tecu23/eng-client/pkg/events"
	"github.com/tecu23/eng-client/pkg/gameclock"
	"github.com/tecu23/eng-client/pkg/session"
)

// Sounder plays cues
type Sounder interface {
	Play(cue audio.Cue)
}

// Notifier surfaces user-visible notices
type Notifier interface {
	Notify(gameID, level, text string)
}

// Dispatcher compares consecutive snapshots and fires an effect only on the
// transition into a state. Listening to committed updates means a transition
// is seen exactly once no matter how often the presentation re-renders.
type Dispatcher struct {
	sounder  Sounder
	notifier Notifier
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(sounder Sounder, notifier Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sounder: sounder, notifier: notifier, logger: logger}
}

// Observe is registered as a session store listener
func (d *Dispatcher) Observe(u session.Update) {
	prev, next := u.Prev, u.Next

	if u.Cause != session.CauseResync && u.Cause != session.CauseReset && prev.PositionFEN != next.PositionFEN {
		if next.LastMove != nil && next.LastMove.Capture {
			d.play(audio.CueCapture)
		} else {
			d.play(audio.CueMove)
		}
	}

	if u.Cause != session.CauseReset && !prev.CheckState().InCheck && next.CheckState().InCheck && !next.Terminal() {
		d.play(audio.CueCheck)
	}

	if !prev.Terminal() && next.Terminal() && u.Cause != session.CauseReset {
		d.gameEnded(next)
	}

	if prev.DrawOffer == "" && next.DrawOffer != "" && next.DrawOffer != next.LocalSide {
		d.notify(next, events.LevelInfo, string(next.DrawOffer)+" offers a draw")
	}
}

func (d *Dispatcher) gameEnded(g session.GameSession) {
	d.play(audio.CueGameEnd)

	text := "game over: " + string(g.Result)
	if g.EndReason != "" {
		text += " by " + g.EndReason
	}
	d.notify(g, events.LevelInfo, text)

	if !g.LocalSide.Valid() {
		// spectators only get the neutral cue
		return
	}

	switch g.Result.Winner() {
	case "":
		d.play(audio.CueDraw)
	case g.LocalSide:
		d.play(audio.CueWin)
	default:
		d.play(audio.CueLose)
	}
}

// Signal turns clock driver signals into effects
func (d *Dispatcher) Signal(gameID string, s gameclock.Signal) {
	switch s.Kind {
	case gameclock.LowTime:
		d.play(audio.CueLowTime)
	case gameclock.ZeroReached:
		if d.notifier != nil {
			d.notifier.Notify(gameID, events.LevelWarn, string(s.Side)+" clock reached zero")
		}
	}
}

func (d *Dispatcher) play(cue audio.Cue) {
	d.logger.Debug("effect", zap.String("cue", string(cue)))
	d.sounder.Play(cue)
}

func (d *Dispatcher) notify(g session.GameSession, level, text string) {
	if d.notifier == nil {
		return
	}

	d.notifier.Notify(g.GameID.String(), level, text)
}

var _ Sounder = (*audio.Service)(nil)
