package chess

import "fmt"

// Side represents one of the two players of a chess game
type Side string

// Possible sides in a chess game
const (
	White Side = "white"
	Black Side = "black"
)

// Opp returns the opposite side for the given side.
func (s Side) Opp() Side {
	if s == White {
		return Black
	}

	return White
}

// Valid reports whether s names one of the two sides
func (s Side) Valid() bool {
	return s == White || s == Black
}

// ParseSide accepts the long names used on the wire as well as the
// single letter used in the side-to-move field of a FEN string.
func ParseSide(v string) (Side, error) {
	switch v {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}

	return "", fmt.Errorf("unknown side %q", v)
}

// Result is the terminal outcome of a game
type Result string

// Possible results. NoResult means the game is still being played.
const (
	NoResult  Result = ""
	WhiteWins Result = "white-wins"
	BlackWins Result = "black-wins"
	Draw      Result = "draw"
)

// Valid reports whether r is one of the terminal outcomes
func (r Result) Valid() bool {
	return r == WhiteWins || r == BlackWins || r == Draw
}

// Winner returns the winning side, or the empty side for draws and unset results
func (r Result) Winner() Side {
	switch r {
	case WhiteWins:
		return White
	case BlackWins:
		return Black
	}

	return ""
}

// Identity is how a player is presented next to the board
type Identity struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// Players holds both identities of a game
type Players struct {
	White Identity `json:"white"`
	Black Identity `json:"black"`
}

// Empty reports whether no identity has been set yet
func (p Players) Empty() bool {
	return p == Players{}
}

// Get returns the identity playing the given side
func (p Players) Get(side Side) Identity {
	if side == Black {
		return p.Black
	}

	return p.White
}
