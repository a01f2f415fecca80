package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Log is the append-only conversation transcript. It is the only place
// turn ids are generated, and turns are never mutated or removed for
// the lifetime of the session.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewLog() *Log {
	return &Log{}
}

// Append creates a turn with a fresh id and timestamp, stores it and
// returns a copy.
func (l *Log) Append(role Role, modality Modality, text string) Turn {
	turn := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Modality:  modality,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()

	return turn
}

// Turns returns a snapshot copy of the transcript in append order.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
