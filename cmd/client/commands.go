package main

import (
	"errors"
	"fmt"
	"strings"
)

var errQuit = errors.New("quit")

type commandKind int

const (
	cmdMove commandKind = iota
	cmdResign
	cmdOfferDraw
	cmdAccept
	cmdDecline
	cmdFlip
	cmdMute
	cmdSay
	cmdShow
	cmdHelp
	cmdQuit
)

type command struct {
	kind      commandKind
	from, to  string
	promotion string
	text      string
}

// controls is the part of a game controller the prompt drives
type controls interface {
	AttemptMove(from, to, promotion string) error
	Resign() error
	OfferDraw() error
	RespondDraw(accept bool) error
	Flip() error
	SendChat(text string) error
}

const usage = `commands:
  move e2 e4 [q] | e2e4 | e7e8q   attempt a move
  resign                          give up the game
  draw                            offer a draw
  accept | decline                answer a draw offer
  flip                            turn the board around
  mute                            toggle sounds
  say <text>                      chat
  show                            redraw the board
  quit                            leave the game`

// parseCommand turns one prompt line into a command
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errors.New("empty command")
	}

	name, args := strings.ToLower(fields[0]), fields[1:]
	switch name {
	case "move", "m":
		switch len(args) {
		case 1:
			return coordinateMove(args[0])
		case 2, 3:
			cmd := command{kind: cmdMove, from: strings.ToLower(args[0]), to: strings.ToLower(args[1])}
			if len(args) == 3 {
				cmd.promotion = strings.ToLower(args[2])
			}
			return cmd, nil
		}
		return command{}, errors.New("usage: move <from> <to> [promotion]")
	case "resign":
		return command{kind: cmdResign}, nil
	case "draw":
		return command{kind: cmdOfferDraw}, nil
	case "accept":
		return command{kind: cmdAccept}, nil
	case "decline":
		return command{kind: cmdDecline}, nil
	case "flip":
		return command{kind: cmdFlip}, nil
	case "mute":
		return command{kind: cmdMute}, nil
	case "say":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if text == "" {
			return command{}, errors.New("usage: say <text>")
		}
		return command{kind: cmdSay, text: text}, nil
	case "show":
		return command{kind: cmdShow}, nil
	case "help", "?":
		return command{kind: cmdHelp}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	}

	if len(args) == 0 {
		if cmd, err := coordinateMove(name); err == nil {
			return cmd, nil
		}
	}

	return command{}, fmt.Errorf("unknown command %q, type help", fields[0])
}

// coordinateMove parses the e2e4 / e7e8q shorthand
func coordinateMove(s string) (command, error) {
	s = strings.ToLower(s)
	if len(s) != 4 && len(s) != 5 {
		return command{}, fmt.Errorf("invalid move %q", s)
	}

	cmd := command{kind: cmdMove, from: s[:2], to: s[2:4]}
	if len(s) == 5 {
		cmd.promotion = s[4:]
	}
	if !isSquare(cmd.from) || !isSquare(cmd.to) {
		return command{}, fmt.Errorf("invalid move %q", s)
	}

	return cmd, nil
}

func isSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

// execute runs a game command against the controller. Commands that do not
// reach the game (mute, show, help, quit) are handled by the caller.
func execute(cmd command, c controls) error {
	switch cmd.kind {
	case cmdMove:
		return c.AttemptMove(cmd.from, cmd.to, cmd.promotion)
	case cmdResign:
		return c.Resign()
	case cmdOfferDraw:
		return c.OfferDraw()
	case cmdAccept:
		return c.RespondDraw(true)
	case cmdDecline:
		return c.RespondDraw(false)
	case cmdFlip:
		return c.Flip()
	case cmdSay:
		return c.SendChat(cmd.text)
	case cmdQuit:
		return errQuit
	}

	return fmt.Errorf("command %d is not a game command", cmd.kind)
}
