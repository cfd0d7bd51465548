package game

import (
	"errors"
	"fmt"

	"github.com/tecu23/eng-client/pkg/chess"
)

// Errors returned by controller intents
var (
	ErrLeft         = errors.New("game session has been left")
	ErrSessionStale = errors.New("game session is stale, rejoin required")
	ErrSpectator    = errors.New("spectators cannot play")
	ErrNoDrawOffer  = errors.New("no draw offer to respond to")
	ErrEmptyChat    = errors.New("chat message is empty")
	ErrGameInvalid  = errors.New("game is no longer valid")
)

// TerminalSessionViolation is returned for an intent submitted after the game
// ended. Such intents are never sent to the server.
type TerminalSessionViolation struct {
	Intent string
	Result chess.Result
}

func (e *TerminalSessionViolation) Error() string {
	return fmt.Sprintf("cannot %s: game is over (%s)", e.Intent, e.Result)
}
