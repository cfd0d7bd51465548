package game

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/effects"
	"github.com/tecu23/eng-client/pkg/events"
)

// Manager keeps the controllers of every joined game
type Manager struct {
	sessions map[uuid.UUID]*Controller
	mu       sync.RWMutex

	transport Transport
	publisher *events.Publisher
	sounder   effects.Sounder
	settings  Settings
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewManager creates a manager sharing one transport between its games
func NewManager(
	transport Transport,
	publisher *events.Publisher,
	sounder effects.Sounder,
	settings Settings,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Manager{
		sessions:  make(map[uuid.UUID]*Controller),
		transport: transport,
		publisher: publisher,
		sounder:   sounder,
		settings:  settings,
		clock:     clock,
		logger:    logger,
	}
}

// Join starts a session for the game, or returns the running one
func (m *Manager) Join(ctx context.Context, gameID uuid.UUID, opts JoinOptions) (*Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.sessions[gameID]; ok {
		return c, nil
	}

	c, err := newController(ctx, gameID, opts, m.transport, m.publisher, m.sounder, m.settings, m.clock, m.logger)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", gameID, err)
	}
	m.sessions[gameID] = c

	// forget sessions that end on their own, e.g. an invalid game id
	go func() {
		<-c.Done()
		m.remove(gameID, c)
	}()

	return c, nil
}

// Get returns the controller of a joined game
func (m *Manager) Get(gameID uuid.UUID) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.sessions[gameID]
	return c, ok
}

// Games returns the ids of every joined game
func (m *Manager) Games() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}

	return ids
}

// Leave tears a game down. Leaving a game that is not joined is a no-op.
func (m *Manager) Leave(gameID uuid.UUID) {
	m.mu.Lock()
	c, ok := m.sessions[gameID]
	delete(m.sessions, gameID)
	m.mu.Unlock()

	if ok {
		c.Leave()
	}
}

// Shutdown leaves every game and reports sessions that had already failed
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Controller)
	m.mu.Unlock()

	var err error
	for id, c := range sessions {
		c.Leave()
		if cerr := c.Err(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("game %s: %w", id, cerr))
		}
	}

	m.logger.Info("all games left", zap.Int("count", len(sessions)))
	return err
}

func (m *Manager) remove(gameID uuid.UUID, c *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[gameID] == c {
		delete(m.sessions, gameID)
	}
}
