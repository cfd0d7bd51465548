// Package session holds the client's single source of truth for one game.
package session

import (
	"github.com/google/uuid"

	"github.com/tecu23/eng-client/pkg/chess"
)

// Status tells whether the local session can be trusted
type Status string

// Possible statuses
const (
	StatusLive           Status = "live"
	StatusAwaitingResync Status = "awaiting-resync"
	StatusStale          Status = "stale" // resync budget exhausted, the user must rejoin
)

// MoveRecord describes the last applied move
type MoveRecord struct {
	SAN     string `json:"san"`
	Capture bool   `json:"capture"`
}

// GameSession is the aggregate root of an active game
type GameSession struct {
	GameID      uuid.UUID     `json:"gameId"`
	PositionFEN string        `json:"fen"`
	MoveHistory []string      `json:"moveHistory"`
	Clocks      chess.Clocks  `json:"clocks"`
	Result      chess.Result  `json:"result,omitempty"`
	EndReason   string        `json:"endReason,omitempty"`
	Orientation chess.Side    `json:"orientation"`
	Players     chess.Players `json:"players"`
	LocalSide   chess.Side    `json:"localSide,omitempty"`
	DrawOffer   chess.Side    `json:"drawOffer,omitempty"`
	LastMove    *MoveRecord   `json:"lastMove,omitempty"`
	Status      Status        `json:"status"`
}

// New returns a session at the initial position
func New(gameID uuid.UUID, localSide chess.Side) GameSession {
	orientation := localSide
	if !orientation.Valid() {
		orientation = chess.White
	}

	return GameSession{
		GameID:      gameID,
		PositionFEN: chess.StartFEN,
		MoveHistory: []string{},
		Orientation: orientation,
		LocalSide:   localSide,
		Status:      StatusLive,
	}
}

// Terminal reports whether the game has a result
func (s GameSession) Terminal() bool {
	return s.Result != chess.NoResult
}

// ActivePlayer is the side to move, derived from the position. An empty side
// is returned only for a session that was never initialized.
func (s GameSession) ActivePlayer() chess.Side {
	p, err := chess.ParseFEN(s.PositionFEN)
	if err != nil {
		return ""
	}

	return p.SideToMove()
}

// CheckState is derived from the position on every call
func (s GameSession) CheckState() chess.CheckState {
	p, err := chess.ParseFEN(s.PositionFEN)
	if err != nil {
		return chess.CheckState{}
	}

	return p.CheckState()
}

// Clone returns a deep copy
func (s GameSession) Clone() GameSession {
	c := s
	c.MoveHistory = append([]string(nil), s.MoveHistory...)
	if s.LastMove != nil {
		last := *s.LastMove
		c.LastMove = &last
	}

	return c
}
