package feed

import (
	"sync"
)

// Log is a thread-safe, bounded buffer of events ordered most-recent-first.
// Pushing at capacity evicts the oldest entry. History survives reconnects;
// it is dropped only when the owning manager is torn down.
type Log struct {
	mu    sync.Mutex
	buf   []Event
	head  int // index of the most recent entry
	count int

	// Stats
	totalAccepted int64
	totalEvicted  int64
}

// NewLog creates a log holding at most capacity events.
func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		buf:  make([]Event, capacity),
		head: 0,
	}
}

// Push prepends an event, evicting the oldest entry if the log is full.
func (l *Log) Push(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := len(l.buf)
	l.head = (l.head - 1 + capacity) % capacity
	l.buf[l.head] = ev

	if l.count < capacity {
		l.count++
	} else {
		l.totalEvicted++
	}
	l.totalAccepted++
}

// Latest returns the most recent event, or false if the log is empty.
func (l *Log) Latest() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return Event{}, false
	}
	return l.buf[l.head], true
}

// Snapshot returns a copy of the log contents, most recent first.
func (l *Log) Snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := len(l.buf)
	out := make([]Event, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.head+i)%capacity]
	}
	return out
}

// Len returns the current number of events in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Cap returns the fixed capacity of the log.
func (l *Log) Cap() int {
	return len(l.buf)
}

// Stats returns log statistics.
func (l *Log) Stats() LogStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LogStats{
		Count:         l.count,
		Capacity:      len(l.buf),
		TotalAccepted: l.totalAccepted,
		TotalEvicted:  l.totalEvicted,
	}
}

// LogStats contains log statistics.
type LogStats struct {
	Count         int
	Capacity      int
	TotalAccepted int64
	TotalEvicted  int64
}
