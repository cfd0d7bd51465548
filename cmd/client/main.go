// Package main is the entry point of the terminal client
package main

import (
	"flag"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/eng-client/pkg/config"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	gameID := flag.String("game", "", "game id to join, overrides GAME_ID")
	side := flag.String("side", "", "seat to play (white or black), empty to spectate")
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	// Initialize logger
	logger := initLogger(*debug)
	defer logger.Sync()

	cfg, err := config.Load(logger, *envFile)
	if err != nil {
		logger.Fatal("loading config error", zap.Error(err))
	}

	if *gameID != "" {
		cfg.GameID = *gameID
	}
	if *side != "" {
		cfg.LocalSide = *side
	}
	if cfg.Debug && !*debug {
		logger = initLogger(true)
	}
	cfg.Debug = cfg.Debug || *debug

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	app := &application{
		Config:    cfg,
		Logger:    logger,
		Out:       os.Stdout,
		StartTime: time.Now(),
	}

	if err := app.run(os.Stdin); err != nil {
		logger.Fatal("client stopped with error", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}
