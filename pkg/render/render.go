// Package render draws a session snapshot as text for the terminal client
package render

import (
	"fmt"
	"strings"

	"github.com/tecu23/eng-client/pkg/chess"
	"github.com/tecu23/eng-client/pkg/session"
)

const files = "abcdefgh"

// Board draws the position from the snapshot's orientation. The king of the
// side to move is bracketed while it is in check.
func Board(s session.GameSession) string {
	pos, err := chess.ParseFEN(s.PositionFEN)
	if err != nil {
		return fmt.Sprintf("(no position: %v)\n", err)
	}

	checked := pos.CheckState()

	rankOrder := []int{7, 6, 5, 4, 3, 2, 1, 0}
	fileOrder := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if s.Orientation == chess.Black {
		rankOrder, fileOrder = fileOrder, rankOrder
	}

	var b strings.Builder
	header := fileHeader(fileOrder)

	b.WriteString(header)
	for _, rank := range rankOrder {
		fmt.Fprintf(&b, "%d ", rank+1)
		for _, file := range fileOrder {
			b.WriteString(cell(pos.Piece(file, rank), checked.InCheck && checked.Square == chess.SquareName(file, rank)))
		}
		fmt.Fprintf(&b, " %d\n", rank+1)
	}
	b.WriteString(header)

	return b.String()
}

func fileHeader(order []int) string {
	var b strings.Builder
	b.WriteString("  ")
	for _, file := range order {
		fmt.Fprintf(&b, " %c ", files[file])
	}
	b.WriteString("\n")

	return b.String()
}

func cell(piece byte, checked bool) string {
	if piece == 0 {
		return " . "
	}
	if checked {
		return "[" + string(piece) + "]"
	}

	return " " + string(piece) + " "
}

// Summary lists players, clocks, moves and the outcome. The player seated at
// the top of the board comes first.
func Summary(s session.GameSession) string {
	var b strings.Builder

	active := s.ActivePlayer()
	top, bottom := s.Orientation.Opp(), s.Orientation
	if !bottom.Valid() {
		top, bottom = chess.Black, chess.White
	}

	for _, side := range []chess.Side{top, bottom} {
		marker := " "
		if side == active && !s.Terminal() {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-5s %-24s %s\n", marker, side, player(s.Players.Get(side), side == s.LocalSide), chess.FormatClock(s.Clocks.Get(side)))
	}

	if len(s.MoveHistory) > 0 {
		fmt.Fprintf(&b, "moves: %s\n", MoveList(s.MoveHistory))
	}
	if s.DrawOffer != "" && !s.Terminal() {
		fmt.Fprintf(&b, "%s offers a draw\n", s.DrawOffer)
	}
	if s.Terminal() {
		fmt.Fprintf(&b, "result: %s", s.Result)
		if s.EndReason != "" {
			fmt.Fprintf(&b, " by %s", s.EndReason)
		}
		b.WriteString("\n")
	}
	if s.Status != session.StatusLive {
		fmt.Fprintf(&b, "status: %s\n", s.Status)
	}

	return b.String()
}

func player(id chess.Identity, local bool) string {
	name := id.Name
	if name == "" {
		name = "?"
	}
	if id.Rating > 0 {
		name = fmt.Sprintf("%s (%d)", name, id.Rating)
	}
	if local {
		name += " [you]"
	}

	return name
}

// MoveList numbers a SAN history, e.g. "1. e4 e5 2. Nf3"
func MoveList(history []string) string {
	parts := make([]string, 0, len(history)+len(history)/2+1)
	for i, san := range history {
		if i%2 == 0 {
			parts = append(parts, fmt.Sprintf("%d.", i/2+1))
		}
		parts = append(parts, san)
	}

	return strings.Join(parts, " ")
}
