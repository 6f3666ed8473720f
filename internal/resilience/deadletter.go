package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeadLetterEntry is a terminal failure record kept for operator inspection.
type DeadLetterEntry struct {
	ID           uuid.UUID
	OpKey        string
	Kind         Kind
	Message      string
	Attempts     int
	FirstFailure time.Time
	LastFailure  time.Time
}

// DeadLetterLog is an append-only, capacity-bounded record of terminal
// failures. When full, the oldest entries are dropped.
type DeadLetterLog struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	cap     int
	dropped int64
}

// NewDeadLetterLog creates a log holding at most cap entries.
func NewDeadLetterLog(cap int) *DeadLetterLog {
	if cap < 1 {
		cap = 1
	}
	return &DeadLetterLog{cap: cap}
}

// Append records a terminal failure.
func (l *DeadLetterLog) Append(e DeadLetterEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.cap {
		drop := len(l.entries) - l.cap + 1
		l.entries = l.entries[drop:]
		l.dropped += int64(drop)
	}
	l.entries = append(l.entries, e)
}

// Entries returns a copy of the current entries, oldest first.
func (l *DeadLetterLog) Entries() []DeadLetterEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]DeadLetterEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *DeadLetterLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Dropped returns how many entries were evicted due to the capacity bound.
func (l *DeadLetterLog) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}
