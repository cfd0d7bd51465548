package session

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/eng-client/pkg/chess"
)

const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"

func newStore(t *testing.T) *Store {
	t.Helper()

	s := NewStore(zap.NewNop())
	g := New(uuid.New(), chess.White)
	g.Clocks = chess.Clocks{White: 600, Black: 600}
	require.NoError(t, s.Reset(g))
	return s
}

func TestSelectorsDerivedFromPosition(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, chess.White, s.Snapshot().ActivePlayer())

	require.NoError(t, s.Apply(CauseEvent, func(g *GameSession) error {
		g.PositionFEN = afterE4
		return nil
	}))

	snap := s.Snapshot()
	assert.Equal(t, chess.Black, snap.ActivePlayer())
	assert.False(t, snap.CheckState().InCheck)
}

func TestApplyRejectsInvalidFEN(t *testing.T) {
	s := newStore(t)

	var updates int
	s.Subscribe(func(Update) { updates++ })

	err := s.Apply(CauseEvent, func(g *GameSession) error {
		g.PositionFEN = "garbage"
		g.MoveHistory = append(g.MoveHistory, "e4")
		return nil
	})
	require.ErrorIs(t, err, chess.ErrInvalidFEN)

	snap := s.Snapshot()
	assert.Equal(t, chess.StartFEN, snap.PositionFEN)
	assert.Empty(t, snap.MoveHistory)
	assert.Zero(t, updates)
}

func TestApplyFailingMutationCommitsNothing(t *testing.T) {
	s := newStore(t)
	boom := errors.New("boom")

	err := s.Apply(CauseIntent, func(g *GameSession) error {
		g.Clocks.White = 1
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(600), s.Snapshot().Clocks.White)
}

func TestPlayersSetOnce(t *testing.T) {
	s := newStore(t)
	alice := chess.Players{White: chess.Identity{Name: "alice", Rating: 1500}, Black: chess.Identity{Name: "bob"}}

	require.NoError(t, s.Apply(CauseResync, func(g *GameSession) error {
		g.Players = alice
		return nil
	}))

	err := s.Apply(CauseResync, func(g *GameSession) error {
		g.Players.White.Name = "mallory"
		return nil
	})
	require.ErrorIs(t, err, ErrPlayersImmutable)
	assert.Equal(t, alice, s.Snapshot().Players)
}

func TestListenersSeePrevAndNext(t *testing.T) {
	s := newStore(t)

	var got []Update
	unsubscribe := s.Subscribe(func(u Update) { got = append(got, u) })

	require.NoError(t, s.Apply(CauseTick, func(g *GameSession) error {
		g.Clocks.Decrement(chess.White)
		return nil
	}))

	require.Len(t, got, 1)
	assert.Equal(t, CauseTick, got[0].Cause)
	assert.Equal(t, int64(600), got[0].Prev.Clocks.White)
	assert.Equal(t, int64(599), got[0].Next.Clocks.White)

	unsubscribe()
	require.NoError(t, s.Apply(CauseTick, func(g *GameSession) error { return nil }))
	assert.Len(t, got, 1)
}

func TestPanickingListenerDoesNotStopOthers(t *testing.T) {
	s := newStore(t)

	var reached bool
	s.Subscribe(func(Update) { panic("render failed") })
	s.Subscribe(func(Update) { reached = true })

	require.NoError(t, s.Apply(CauseIntent, func(g *GameSession) error {
		g.Orientation = chess.Black
		return nil
	}))
	assert.True(t, reached)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Apply(CauseEvent, func(g *GameSession) error {
		g.MoveHistory = append(g.MoveHistory, "e4")
		g.PositionFEN = afterE4
		return nil
	}))

	snap := s.Snapshot()
	snap.MoveHistory[0] = "d4"
	assert.Equal(t, []string{"e4"}, s.Snapshot().MoveHistory)
}

func TestClear(t *testing.T) {
	s := newStore(t)
	s.Clear()

	assert.False(t, s.Active())
	assert.ErrorIs(t, s.Apply(CauseTick, func(*GameSession) error { return nil }), ErrInactive)
}
