// Package audio plays feedback cues. The service is created once by the
// application root and injected where cues are needed.
package audio

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Cue names a sound
type Cue string

// Known cues
const (
	CueMove    Cue = "move"
	CueCapture Cue = "capture"
	CueCheck   Cue = "check"
	CueGameEnd Cue = "game-end"
	CueWin     Cue = "win"
	CueLose    Cue = "lose"
	CueDraw    Cue = "draw"
	CueLowTime Cue = "low-time"
	CueNotify  Cue = "notify"
)

// Player turns a cue into sound
type Player interface {
	Play(cue Cue, source string, volume float64) error
}

// SoundPack maps cues to sound files
type SoundPack struct {
	Volume float64        `yaml:"volume"`
	Sounds map[Cue]string `yaml:"sounds"`
}

// LoadSoundPack reads a YAML sound pack file
func LoadSoundPack(path string) (*SoundPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sound pack: %w", err)
	}

	var pack SoundPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to parse sound pack: %w", err)
	}

	if pack.Volume <= 0 || pack.Volume > 1 {
		pack.Volume = 1
	}

	return &pack, nil
}

// Service plays cues unless muted. Mute is shared by every session using the
// same service, so toggling it never touches a game.
type Service struct {
	player Player
	pack   *SoundPack
	muted  atomic.Bool
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewService creates a service. A nil pack plays every cue with an empty source.
func NewService(player Player, pack *SoundPack, logger *zap.Logger) *Service {
	if pack == nil {
		pack = &SoundPack{Volume: 1}
	}

	return &Service{
		player: player,
		pack:   pack,
		logger: logger,
	}
}

// Play plays a cue. Failures are logged, never returned.
func (s *Service) Play(cue Cue) {
	if s.muted.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if err := s.player.Play(cue, s.pack.Sounds[cue], s.pack.Volume); err != nil {
		s.logger.Warn("failed to play cue", zap.String("cue", string(cue)), zap.Error(err))
	}
}

// SetMuted sets the mute state
func (s *Service) SetMuted(muted bool) {
	s.muted.Store(muted)
}

// ToggleMute flips the mute state and returns the new value
func (s *Service) ToggleMute() bool {
	for {
		old := s.muted.Load()
		if s.muted.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Muted reports the mute state
func (s *Service) Muted() bool {
	return s.muted.Load()
}

// Close stops playback for good
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if c, ok := s.player.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// BellPlayer rings the terminal bell for the cues that deserve attention
type BellPlayer struct {
	Out io.Writer
}

// Play writes a bell character for check, low time and game end cues
func (b BellPlayer) Play(cue Cue, _ string, _ float64) error {
	switch cue {
	case CueCheck, CueLowTime, CueGameEnd:
		_, err := io.WriteString(b.Out, "\a")
		return err
	}

	return nil
}

// LogPlayer records cues in the log, useful when no audio device exists
type LogPlayer struct {
	Logger *zap.Logger
}

// Play logs the cue
func (l LogPlayer) Play(cue Cue, source string, volume float64) error {
	l.Logger.Debug("cue", zap.String("cue", string(cue)), zap.String("source", source), zap.Float64("volume", volume))
	return nil
}
