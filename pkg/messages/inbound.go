// Package messages defines the wire format exchanged with the game server.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tecu23/eng-client/pkg/chess"
)

// Inbound message types
const (
	TypeMoveApplied  = "move-applied"
	TypeClockSync    = "clock-sync"
	TypeGameEnded    = "game-ended"
	TypeDrawOffered  = "draw-offered"
	TypeDrawResponse = "draw-response"
	TypeResync       = "resync"
	TypeChat         = "chat"
	TypeGameInvalid  = "game-invalid"
)

// ErrUnknownType is returned by Decode for message types this client does not know.
// Callers ignore such messages.
var ErrUnknownType = errors.New("unknown message type")

// Envelope is the generic wrapper of every frame on the socket.
// The "type" field tells us the kind; "payload" is the data we parse further.
type Envelope struct {
	Type     string          `json:"type"`
	Topic    string          `json:"topic,omitempty"`
	GameID   string          `json:"gameId,omitempty"`
	Sequence *int64          `json:"sequence,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// MalformedMessageError reports a payload that does not match its schema
type MalformedMessageError struct {
	Type  string
	Field string
	Err   error
}

func (e *MalformedMessageError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s message: missing %s", e.Type, e.Field)
	}

	return fmt.Sprintf("malformed %s message: %v", e.Type, e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// Inbound is one of the message kinds the reconciler understands. The set is
// closed: only types in this package implement it.
type Inbound interface {
	Kind() string
	inbound()
}

// Sequenced is implemented by messages that take part in ordering
type Sequenced interface {
	Inbound
	Seq() (int64, bool)
}

// Snapshot is a full copy of the server's view of a game
type Snapshot struct {
	FEN         string        `json:"fen"`
	MoveHistory []string      `json:"moveHistory"`
	Clocks      chess.Clocks  `json:"clocks"`
	Result      chess.Result  `json:"result,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Players     chess.Players `json:"players"`
	DrawOffer   chess.Side    `json:"drawOffer,omitempty"`
	Sequence    int64         `json:"sequence"`
}

// MoveApplied is the server's confirmation of a move
type MoveApplied struct {
	FromFEN  string    `json:"fromFen"`
	ToFEN    string    `json:"toFen,omitempty"`
	SAN      string    `json:"san"`
	Capture  bool      `json:"capture"`
	Sequence *int64    `json:"sequence,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// ClockSync carries the authoritative remaining time of both sides
type ClockSync struct {
	White    *int64 `json:"white"`
	Black    *int64 `json:"black"`
	Sequence *int64 `json:"sequence,omitempty"`
}

// Clocks returns the synced values
func (m ClockSync) Clocks() chess.Clocks {
	var c chess.Clocks
	if m.White != nil {
		c.White = *m.White
	}
	if m.Black != nil {
		c.Black = *m.Black
	}

	return c
}

// GameEnded announces the terminal outcome
type GameEnded struct {
	Result chess.Result `json:"result"`
	Reason string       `json:"reason"`
}

// DrawOffered is sent when a side offers a draw
type DrawOffered struct {
	BySide chess.Side `json:"bySide"`
}

// DrawResponse answers a pending draw offer
type DrawResponse struct {
	Accepted bool `json:"accepted"`
}

// Resync replaces the local session
type Resync struct {
	Snapshot Snapshot `json:"snapshot"`
}

// ChatMessage is a line posted in the game chat
type ChatMessage struct {
	From   string    `json:"from"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// GameInvalid tells the client the game id is no longer valid
type GameInvalid struct {
	Reason string `json:"reason"`
}

func (MoveApplied) Kind() string  { return TypeMoveApplied }
func (ClockSync) Kind() string    { return TypeClockSync }
func (GameEnded) Kind() string    { return TypeGameEnded }
func (DrawOffered) Kind() string  { return TypeDrawOffered }
func (DrawResponse) Kind() string { return TypeDrawResponse }
func (Resync) Kind() string       { return TypeResync }
func (ChatMessage) Kind() string  { return TypeChat }
func (GameInvalid) Kind() string  { return TypeGameInvalid }

func (MoveApplied) inbound()  {}
func (ClockSync) inbound()    {}
func (GameEnded) inbound()    {}
func (DrawOffered) inbound()  {}
func (DrawResponse) inbound() {}
func (Resync) inbound()       {}
func (ChatMessage) inbound()  {}
func (GameInvalid) inbound()  {}

// Seq returns the sequence number, if any
func (m MoveApplied) Seq() (int64, bool) {
	if m.Sequence == nil {
		return 0, false
	}

	return *m.Sequence, true
}

// Seq returns the sequence number, if any
func (m ClockSync) Seq() (int64, bool) {
	if m.Sequence == nil {
		return 0, false
	}

	return *m.Sequence, true
}

// Decode turns an envelope into its typed variant. A sequence carried on the
// envelope is used when the payload does not have its own.
func Decode(env Envelope) (Inbound, error) {
	switch env.Type {
	case TypeMoveApplied:
		var m MoveApplied
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		if m.Sequence == nil {
			m.Sequence = env.Sequence
		}
		if m.Snapshot == nil {
			if m.FromFEN == "" {
				return nil, &MalformedMessageError{Type: env.Type, Field: "fromFen"}
			}
			if m.SAN == "" {
				return nil, &MalformedMessageError{Type: env.Type, Field: "san"}
			}
		} else if m.Snapshot.FEN == "" {
			return nil, &MalformedMessageError{Type: env.Type, Field: "snapshot.fen"}
		}
		return m, nil

	case TypeClockSync:
		var m ClockSync
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		if m.White == nil {
			return nil, &MalformedMessageError{Type: env.Type, Field: "white"}
		}
		if m.Black == nil {
			return nil, &MalformedMessageError{Type: env.Type, Field: "black"}
		}
		if m.Sequence == nil {
			m.Sequence = env.Sequence
		}
		return m, nil

	case TypeGameEnded:
		var m GameEnded
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		if !m.Result.Valid() {
			return nil, &MalformedMessageError{Type: env.Type, Field: "result"}
		}
		return m, nil

	case TypeDrawOffered:
		var m DrawOffered
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		if !m.BySide.Valid() {
			return nil, &MalformedMessageError{Type: env.Type, Field: "bySide"}
		}
		return m, nil

	case TypeDrawResponse:
		var m DrawResponse
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeResync:
		var m Resync
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		if m.Snapshot.FEN == "" {
			return nil, &MalformedMessageError{Type: env.Type, Field: "snapshot.fen"}
		}
		return m, nil

	case TypeChat:
		var m ChatMessage
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		if m.Text == "" {
			return nil, &MalformedMessageError{Type: env.Type, Field: "text"}
		}
		return m, nil

	case TypeGameInvalid:
		var m GameInvalid
		if len(env.Payload) == 0 {
			return m, nil
		}
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
}

func unmarshal(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return &MalformedMessageError{Type: env.Type, Field: "payload"}
	}

	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &MalformedMessageError{Type: env.Type, Err: err}
	}

	return nil
}
