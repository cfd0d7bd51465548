// Package config loads the client configuration from the environment
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/internal/auth"
	"github.com/tecu23/eng-client/pkg/boardlink"
	"github.com/tecu23/eng-client/pkg/channel"
	"github.com/tecu23/eng-client/pkg/game"
	"github.com/tecu23/eng-client/pkg/gameclock"
	"github.com/tecu23/eng-client/pkg/reconciler"
)

// Config holds everything the client needs to join a game
type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Endpoint  string `env:"ENDPOINT"`
	AuthToken string `env:"AUTH_TOKEN"`
	PlayerID  string `env:"PLAYER_ID"`

	GameID    string `env:"GAME_ID"`
	LocalSide string `env:"LOCAL_SIDE"`

	LowTimeThreshold     int64         `env:"LOW_TIME_THRESHOLD" envDefault:"30"`
	GapGrace             time.Duration `env:"GAP_GRACE" envDefault:"3s"`
	ResyncTimeout        time.Duration `env:"RESYNC_TIMEOUT" envDefault:"5s"`
	MaxResyncAttempts    int           `env:"MAX_RESYNC_ATTEMPTS" envDefault:"3"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"10"`

	SoundPack string `env:"SOUND_PACK"`
	Muted     bool   `env:"MUTED" envDefault:"false"`

	BoardNATSURL string `env:"BOARD_NATS_URL"`
	BoardSerial  string `env:"BOARD_SERIAL"`
}

// Load reads an optional .env file and parses the environment. A missing
// .env file is not an error.
func Load(logger *zap.Logger, files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
		logger.Debug("no .env file found")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	return &cfg, nil
}

// Validate reports the first setting that prevents the client from starting
func (c *Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("config: ENDPOINT must be set")
	case c.AuthToken == "":
		return errors.New("config: AUTH_TOKEN must be set")
	case c.GameID == "":
		return errors.New("config: GAME_ID must be set")
	case c.BoardNATSURL != "" && c.BoardSerial == "":
		return errors.New("config: BOARD_SERIAL must be set")
	}

	if _, err := uuid.Parse(c.GameID); err != nil {
		return fmt.Errorf("config: GAME_ID must be a uuid: %w", err)
	}
	if c.LowTimeThreshold < 0 || c.MaxResyncAttempts < 1 || c.ReconnectMaxAttempts < 1 {
		return errors.New("config: thresholds and attempt counts must be positive")
	}

	return nil
}

// Credentials returns the handshake credentials
func (c *Config) Credentials() auth.Credentials {
	return auth.Credentials{Token: c.AuthToken, PlayerID: c.PlayerID}
}

// Channel returns the connection channel settings
func (c *Config) Channel() channel.Config {
	cfg := channel.DefaultConfig(c.Endpoint, c.Credentials())
	cfg.MaxReconnectAttempts = c.ReconnectMaxAttempts

	return cfg
}

// Settings returns the per-game controller settings
func (c *Config) Settings() game.Settings {
	lowTime := c.LowTimeThreshold
	if lowTime == 0 {
		lowTime = gameclock.DefaultLowTime
	}

	return game.Settings{
		Reconciler: reconciler.Config{
			GapGrace:          c.GapGrace,
			ResyncTimeout:     c.ResyncTimeout,
			MaxResyncAttempts: c.MaxResyncAttempts,
		},
		LowTime: lowTime,
	}
}

// Board returns the smart board bridge settings; ok is false when the
// bridge is disabled.
func (c *Config) Board() (cfg boardlink.Config, ok bool) {
	if c.BoardNATSURL == "" {
		return boardlink.Config{}, false
	}

	return boardlink.DefaultConfig(c.BoardNATSURL, c.BoardSerial), true
}
