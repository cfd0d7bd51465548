package game

import (
	"sync"
	"time"
)

const maxChatLines = 200

// ChatLine is one message of the game chat
type ChatLine struct {
	From   string
	Text   string
	SentAt time.Time
}

// ChatLog keeps the most recent chat lines of a game in arrival order
type ChatLog struct {
	mu    sync.RWMutex
	lines []ChatLine
}

// Append adds a line, dropping the oldest once the log is full
func (l *ChatLog) Append(line ChatLine) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, line)
	if over := len(l.lines) - maxChatLines; over > 0 {
		l.lines = append([]ChatLine(nil), l.lines[over:]...)
	}
}

// Lines returns a copy of the log
func (l *ChatLog) Lines() []ChatLine {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]ChatLine(nil), l.lines...)
}
