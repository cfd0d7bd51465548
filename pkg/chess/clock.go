// Package chess defines the game primitives the client derives its state from
package chess

import "fmt"

// Clocks holds the remaining time of both players in whole seconds
type Clocks struct {
	White int64 `json:"white"`
	Black int64 `json:"black"`
}

// Get returns the remaining time for the given side
func (c Clocks) Get(side Side) int64 {
	if side == Black {
		return c.Black
	}

	return c.White
}

// Set overwrites the remaining time of a side. Negative values are clamped to zero.
func (c *Clocks) Set(side Side, seconds int64) {
	if seconds < 0 {
		seconds = 0
	}

	if side == Black {
		c.Black = seconds
	} else {
		c.White = seconds
	}
}

// Decrement removes one second from the given side and reports whether
// anything changed. A clock already at zero stays at zero.
func (c *Clocks) Decrement(side Side) bool {
	remaining := c.Get(side)
	if remaining <= 0 {
		return false
	}

	c.Set(side, remaining-1)
	return true
}

// Valid reports whether both clocks are non-negative
func (c Clocks) Valid() bool {
	return c.White >= 0 && c.Black >= 0
}

// FormatClock formats a remaining time in seconds to a user-friendly string (e.g. "1:30")
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}

	return fmt.Sprintf("%d:%02d", minutes, secs)
}
