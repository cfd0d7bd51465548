package chess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClocksDecrementFloorsAtZero(t *testing.T) {
	c := Clocks{White: 1, Black: 10}

	assert.True(t, c.Decrement(White))
	assert.Equal(t, int64(0), c.White)
	assert.False(t, c.Decrement(White))
	assert.Equal(t, int64(0), c.White)
	assert.Equal(t, int64(10), c.Black)
}

func TestClocksSetClamps(t *testing.T) {
	var c Clocks
	c.Set(Black, -5)
	assert.Equal(t, int64(0), c.Get(Black))
	assert.True(t, c.Valid())

	assert.False(t, Clocks{White: -1}.Valid())
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "0:00", FormatClock(-3))
	assert.Equal(t, "1:30", FormatClock(90))
	assert.Equal(t, "10:00", FormatClock(600))
	assert.Equal(t, "1:01:05", FormatClock(3665))
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide("b")
	require.NoError(t, err)
	assert.Equal(t, Black, s)
	assert.Equal(t, White, s.Opp())

	_, err = ParseSide("red")
	assert.Error(t, err)
}

func TestResultWinner(t *testing.T) {
	assert.Equal(t, White, WhiteWins.Winner())
	assert.Equal(t, Side(""), Draw.Winner())
	assert.False(t, NoResult.Valid())
	assert.True(t, Draw.Valid())
}
