package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/audio"
	"github.com/tecu23/eng-client/pkg/boardlink"
	"github.com/tecu23/eng-client/pkg/channel"
	"github.com/tecu23/eng-client/pkg/chess"
	"github.com/tecu23/eng-client/pkg/config"
	"github.com/tecu23/eng-client/pkg/events"
	"github.com/tecu23/eng-client/pkg/game"
	"github.com/tecu23/eng-client/pkg/render"
	"github.com/tecu23/eng-client/pkg/session"
)

// application encapsulates global dependencies
type application struct {
	Config    *config.Config
	Logger    *zap.Logger
	Publisher *events.Publisher
	Audio     *audio.Service
	Channel   *channel.Channel
	Manager   *game.Manager
	Board     *boardlink.Bridge

	Out   io.Writer
	outMu sync.Mutex

	StartTime time.Time
}

// run joins the configured game and drives it from lines read on in until
// the user quits, a signal arrives or the game ends on its own.
func (app *application) run(in io.Reader) error {
	gameID, err := uuid.Parse(app.Config.GameID)
	if err != nil {
		return fmt.Errorf("game id: %w", err)
	}

	var side chess.Side
	if app.Config.LocalSide != "" {
		if side, err = chess.ParseSide(app.Config.LocalSide); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		// Set up signal handling for graceful shutdown
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case s := <-quit:
			app.Logger.Info("Shutting down client", zap.String("signal", s.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.start(ctx); err != nil {
		return multierr.Append(err, app.Shutdown())
	}

	ctrl, err := app.Manager.Join(ctx, gameID, game.JoinOptions{LocalSide: side})
	if err != nil {
		return multierr.Append(err, app.Shutdown())
	}

	ctrl.Subscribe(func(u session.Update) {
		if u.Cause != session.CauseTick {
			app.draw(u.Next)
		}
	})
	if app.Board != nil {
		app.Board.Attach(ctrl)
	}

	lines := make(chan string)
	go scanLines(in, lines)

	app.printf("%s\n", usage)

	var gameErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case <-ctrl.Done():
			gameErr = ctrl.Err()
			break loop

		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := app.command(line, ctrl); errors.Is(err, errQuit) {
				break loop
			}
		}
	}

	app.Logger.Info("client stopping", zap.Duration("uptime", time.Since(app.StartTime)))
	return multierr.Append(gameErr, app.Shutdown())
}

// start creates the shared services and opens the connection
func (app *application) start(ctx context.Context) error {
	app.Publisher = events.NewPublisher()
	app.Publisher.Subscribe(events.EventNotice, app.printNotice)
	app.Publisher.Subscribe(events.EventChatReceived, app.printChat)
	app.Publisher.SubscribeAll(func(e events.Event) {
		app.Logger.Debug("event", zap.String("type", string(e.Type)), zap.String("game_id", e.GameID))
	})
	app.Publisher.Subscribe(events.EventChannelClosed, func(events.Event) {
		app.Logger.Info("connection closed")
	})

	var pack *audio.SoundPack
	if app.Config.SoundPack != "" {
		p, err := audio.LoadSoundPack(app.Config.SoundPack)
		if err != nil {
			app.Logger.Warn("sound pack not loaded, using defaults", zap.Error(err))
		} else {
			pack = p
		}
	}

	var player audio.Player = audio.BellPlayer{Out: app.Out}
	if app.Config.Debug {
		player = audio.LogPlayer{Logger: app.Logger}
	}
	app.Audio = audio.NewService(player, pack, app.Logger)
	app.Audio.SetMuted(app.Config.Muted)
	app.Logger.Debug("audio ready", zap.Bool("muted", app.Audio.Muted()))

	ch, err := channel.Dial(ctx, app.Config.Channel(), app.Logger, app.Publisher)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", app.Config.Endpoint, err)
	}
	app.Channel = ch

	app.Manager = game.NewManager(ch, app.Publisher, app.Audio, app.Config.Settings(), nil, app.Logger)

	if boardCfg, ok := app.Config.Board(); ok {
		bridge := boardlink.NewBridge(boardCfg, app.Logger)
		if err := bridge.Connect(); err != nil {
			app.Logger.Warn("smart board unavailable", zap.Error(err))
		} else {
			app.Board = bridge
		}
	}

	return nil
}

// command executes one prompt line. Errors are shown to the user; only
// errQuit is returned.
func (app *application) command(line string, ctrl *game.Controller) error {
	cmd, err := parseCommand(line)
	if err != nil {
		app.printf("%v\n", err)
		return nil
	}

	switch cmd.kind {
	case cmdMute:
		if app.Audio.ToggleMute() {
			app.printf("sound off\n")
		} else {
			app.printf("sound on\n")
		}
		return nil
	case cmdShow:
		app.draw(ctrl.Snapshot())
		return nil
	case cmdHelp:
		app.printf("%s\n", usage)
		return nil
	}

	err = execute(cmd, ctrl)
	switch {
	case errors.Is(err, errQuit):
		return err
	case err != nil:
		app.Logger.Debug("command rejected", zap.String("line", line), zap.Error(err))
		app.printf("%v\n", err)
	}

	return nil
}

func (app *application) draw(s session.GameSession) {
	app.printf("\n%s%s", render.Board(s), render.Summary(s))
}

func (app *application) printNotice(e events.Event) {
	if n, ok := e.Payload.(events.NoticePayload); ok {
		app.printf("! %s\n", n.Text)
	}
}

func (app *application) printChat(e events.Event) {
	if line, ok := e.Payload.(game.ChatLine); ok {
		app.printf("<%s> %s\n", line.From, line.Text)
	}
}

func (app *application) printf(format string, args ...any) {
	app.outMu.Lock()
	defer app.outMu.Unlock()

	fmt.Fprintf(app.Out, format, args...)
}

// Shutdown cleans up resources
func (app *application) Shutdown() error {
	var err error

	if app.Board != nil {
		err = multierr.Append(err, app.Board.Close())
	}
	if app.Manager != nil {
		err = multierr.Append(err, app.Manager.Shutdown())
	}
	if app.Channel != nil {
		err = multierr.Append(err, app.Channel.Close())
	}
	if app.Audio != nil {
		err = multierr.Append(err, app.Audio.Close())
	}

	if err == nil {
		app.Logger.Info("All components shut down successfully")
	}
	return err
}

func scanLines(in io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
