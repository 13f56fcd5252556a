// Package audit keeps a bounded in-memory record of every action the
// assistant executed, for the "what did you just do" question and the
// admin surface.
package audit

import (
	"sync"
	"time"
)

// MaxEntries bounds the log; older entries are dropped.
const MaxEntries = 1000

// Entry records one executed action.
type Entry struct {
	Person    string         `json:"person"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Log is a bounded in-memory audit log.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty log.
func New() *Log {
	return &Log{}
}

// Record appends an entry, evicting the oldest past MaxEntries.
func (l *Log) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[len(l.entries)-MaxEntries:]
	}
}

// Recent returns the n most recent entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out
}

// ByPerson returns the n most recent entries for one person, newest
// first.
func (l *Log) ByPerson(person string, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for i := len(l.entries) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if l.entries[i].Person == person {
			out = append(out, l.entries[i])
		}
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
