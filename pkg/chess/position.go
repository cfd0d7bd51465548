package chess

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ErrInvalidFEN is returned for strings that are not a usable position
var ErrInvalidFEN = errors.New("invalid FEN")

// CheckState describes whether the side to move is in check and where its king stands
type CheckState struct {
	InCheck bool   `json:"inCheck"`
	Square  string `json:"square,omitempty"`
}

// Position is a parsed FEN string. Everything the client derives from a
// position (side to move, check) is computed from it.
type Position struct {
	fen       string
	board     [8][8]byte // [rank][file], rank 0 is the first rank
	turn      Side
	castling  string
	enPassant string
}

// ParseFEN validates fen with the rule library and parses the fields the
// client needs.
func ParseFEN(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return nil, fmt.Errorf("%w: %q has %d fields", ErrInvalidFEN, fen, len(fields))
	}

	if _, err := nchess.FEN(fen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}

	turn, err := ParseSide(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}

	p := &Position{
		fen:       fen,
		turn:      turn,
		castling:  fields[2],
		enPassant: fields[3],
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("%w: expected 8 ranks, got %d", ErrInvalidFEN, len(ranks))
	}

	for i, row := range ranks {
		rank := 7 - i
		file := 0
		for _, r := range row {
			switch {
			case r >= '1' && r <= '8':
				file += int(r - '0')
			case strings.ContainsRune("pnbrqkPNBRQK", r):
				if file > 7 {
					return nil, fmt.Errorf("%w: rank %d overflows", ErrInvalidFEN, rank+1)
				}
				p.board[rank][file] = byte(r)
				file++
			default:
				return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidFEN, r)
			}
		}
		if file != 8 {
			return nil, fmt.Errorf("%w: rank %d has %d files", ErrInvalidFEN, rank+1, file)
		}
	}

	return p, nil
}

// FEN returns the original string
func (p *Position) FEN() string {
	return p.fen
}

// SideToMove returns the side whose turn it is
func (p *Position) SideToMove() Side {
	return p.turn
}

// Placement returns the piece placement field
func (p *Position) Placement() string {
	return strings.Fields(p.fen)[0]
}

// Key identifies the position itself: placement, side to move, castling
// rights and en-passant target. Move counters are not part of it.
func (p *Position) Key() string {
	return strings.Join([]string{p.Placement(), string(p.turn), p.castling, p.enPassant}, " ")
}

// Piece returns the FEN letter standing on the square, or 0 for an empty square.
// file and rank are zero based.
func (p *Position) Piece(file, rank int) byte {
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0
	}

	return p.board[rank][file]
}

// CheckState reports whether the king of the side to move is attacked
func (p *Position) CheckState() CheckState {
	king := byte('K')
	if p.turn == Black {
		king = 'k'
	}

	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			if p.board[rank][file] != king {
				continue
			}
			if p.attacked(file, rank, p.turn.Opp()) {
				return CheckState{InCheck: true, Square: SquareName(file, rank)}
			}
			return CheckState{}
		}
	}

	return CheckState{}
}

var (
	knightJumps = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps   = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	straightRay = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonalRay = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// attacked reports whether any piece of side by attacks the square
func (p *Position) attacked(file, rank int, by Side) bool {
	own := func(b byte) byte {
		if by == White {
			return b - 'a' + 'A'
		}
		return b
	}

	// pawns capture towards the opponent, so look one rank behind the target
	pawnRank := rank - 1
	if by == Black {
		pawnRank = rank + 1
	}
	if p.Piece(file-1, pawnRank) == own('p') || p.Piece(file+1, pawnRank) == own('p') {
		return true
	}

	for _, j := range knightJumps {
		if p.Piece(file+j[0], rank+j[1]) == own('n') {
			return true
		}
	}

	for _, s := range kingSteps {
		if p.Piece(file+s[0], rank+s[1]) == own('k') {
			return true
		}
	}

	if p.slides(file, rank, straightRay[:], own('r'), own('q')) {
		return true
	}

	return p.slides(file, rank, diagonalRay[:], own('b'), own('q'))
}

func (p *Position) slides(file, rank int, rays [][2]int, pieces ...byte) bool {
	for _, d := range rays {
		f, r := file+d[0], rank+d[1]
		for f >= 0 && f < 8 && r >= 0 && r < 8 {
			if b := p.board[r][f]; b != 0 {
				for _, piece := range pieces {
					if b == piece {
						return true
					}
				}
				break
			}
			f += d[0]
			r += d[1]
		}
	}

	return false
}

// SquareName converts zero based coordinates to algebraic notation (0,0 is "a1")
func SquareName(file, rank int) string {
	return string([]byte{byte('a' + file), byte('1' + rank)})
}

// ParseSquare converts algebraic notation to zero based coordinates
func ParseSquare(sq string) (file, rank int, err error) {
	if len(sq) != 2 || sq[0] < 'a' || sq[0] > 'h' || sq[1] < '1' || sq[1] > '8' {
		return 0, 0, fmt.Errorf("invalid square %q", sq)
	}

	return int(sq[0] - 'a'), int(sq[1] - '1'), nil
}

// SamePosition reports whether two FEN strings describe the same position,
// ignoring the move counters. Unparseable input never matches.
func SamePosition(a, b string) bool {
	pa, err := ParseFEN(a)
	if err != nil {
		return false
	}

	pb, err := ParseFEN(b)
	if err != nil {
		return false
	}

	return pa.Key() == pb.Key()
}

// ApplySAN plays a move in standard algebraic notation on fen and returns the
// resulting position. The client only uses this to fill in a position the
// server left out; legality is still the server's call.
func ApplySAN(fen, san string) (string, error) {
	option, err := nchess.FEN(fen)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}

	game := nchess.NewGame(option)
	if err := game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
		return "", fmt.Errorf("apply %s: %w", san, err)
	}

	return game.FEN(), nil
}
