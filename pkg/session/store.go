package session

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/chess"
)

// Cause tells listeners what produced an update
type Cause string

// Possible causes
const (
	CauseEvent  Cause = "event"  // a reconciled server message
	CauseTick   Cause = "tick"   // the local clock driver
	CauseIntent Cause = "intent" // an explicit user action
	CauseResync Cause = "resync" // a full snapshot replaced the session
	CauseReset  Cause = "reset"  // session start
)

// Errors returned by the store
var (
	ErrInactive         = errors.New("session store is not active")
	ErrPlayersImmutable = errors.New("players cannot change once set")
)

// Update is handed to every listener after a commit
type Update struct {
	Prev  GameSession
	Next  GameSession
	Cause Cause
}

// Listener observes committed updates
type Listener func(Update)

type listener struct {
	id uint64
	fn Listener
}

// Store is the single writable copy of a game session. Mutations are applied
// to a clone and committed only if the result is valid, so listeners never see
// a half applied event.
type Store struct {
	mu        sync.RWMutex
	state     GameSession
	active    bool
	nextID    uint64
	listeners []listener

	logger *zap.Logger
}

// NewStore creates an inactive store; Reset activates it
func NewStore(logger *zap.Logger) *Store {
	return &Store{logger: logger}
}

// Snapshot returns a copy of the current session
func (s *Store) Snapshot() GameSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Clone()
}

// Active reports whether the store holds a session
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.active
}

// Subscribe registers a listener and returns a function that removes it
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Reset replaces the whole session and activates the store
func (s *Store) Reset(next GameSession) error {
	if err := validate(next); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.state
	s.state = next.Clone()
	s.active = true
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, Update{Prev: prev, Next: next.Clone(), Cause: CauseReset})
	return nil
}

// Apply runs mutate on a copy of the session and commits it when mutate
// succeeds and the result is valid. Nothing is committed otherwise.
func (s *Store) Apply(cause Cause, mutate func(*GameSession) error) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrInactive
	}

	prev := s.state
	next := prev.Clone()
	if err := mutate(&next); err != nil {
		s.mu.Unlock()
		return err
	}

	if err := validate(next); err != nil {
		s.mu.Unlock()
		return err
	}

	if !prev.Players.Empty() && next.Players != prev.Players {
		s.mu.Unlock()
		return ErrPlayersImmutable
	}

	s.state = next
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, Update{Prev: prev, Next: next.Clone(), Cause: cause})
	return nil
}

// Clear drops the session and every listener
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = GameSession{}
	s.active = false
	s.listeners = nil
}

func (s *Store) notify(listeners []listener, u Update) {
	for _, l := range listeners {
		s.call(l.fn, u)
	}
}

func (s *Store) call(fn Listener, u Update) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session listener panicked",
				zap.String("game_id", u.Next.GameID.String()),
				zap.Any("panic", r),
			)
		}
	}()

	fn(u)
}

func validate(g GameSession) error {
	if _, err := chess.ParseFEN(g.PositionFEN); err != nil {
		return fmt.Errorf("session position: %w", err)
	}

	if !g.Clocks.Valid() {
		return fmt.Errorf("session clocks must not be negative: %+v", g.Clocks)
	}

	if g.Result != chess.NoResult && !g.Result.Valid() {
		return fmt.Errorf("session result %q is not valid", g.Result)
	}

	if !g.Orientation.Valid() {
		return fmt.Errorf("session orientation %q is not valid", g.Orientation)
	}

	return nil
}
