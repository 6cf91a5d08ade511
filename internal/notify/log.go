package notify

import (
	"sync"
	"time"
)

// DefaultLogSize is the number of entries Log keeps.
const DefaultLogSize = 500

// Entry records one channel outcome.
type Entry struct {
	Time     time.Time `json:"time"`
	UserID   string    `json:"userId"`
	AlertID  string    `json:"alertId,omitempty"`
	WalletID string    `json:"walletId,omitempty"`
	Channel  string    `json:"channel"`
	Outcome  Outcome   `json:"outcome"`
}

// Log is a fixed-size ring of recent dispatch outcomes.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewLog creates a ring holding up to size entries.
func NewLog(size int) *Log {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &Log{entries: make([]Entry, size)}
}

// Add appends e, overwriting the oldest entry when full.
func (l *Log) Add(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// ForUser returns up to limit of userID's entries, newest first. An empty
// userID matches everyone.
func (l *Log) ForUser(userID string, limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.entries)
	}
	out := []Entry{}
	for i := 0; i < n; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		if userID != "" && e.UserID != userID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
