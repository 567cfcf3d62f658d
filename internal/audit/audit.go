// Package audit keeps a size-bounded rolling log of recent operations for health inspection
package audit

import (
	"sync"
	"time"
)

// Entry is one recorded operation
type Entry struct {
	At        time.Time     `json:"at"`
	Operation string        `json:"operation"`
	Target    string        `json:"target,omitempty"`
	Success   bool          `json:"success"`
	Attempts  int           `json:"attempts"`
	Latency   time.Duration `json:"latencyNs"`
	Error     string        `json:"error,omitempty"`
}

// OpStats aggregates entries for one operation
type OpStats struct {
	Total      int           `json:"total"`
	Failures   int           `json:"failures"`
	Retries    int           `json:"retries"`
	AvgLatency time.Duration `json:"avgLatencyNs"`
}

// Summary aggregates all retained entries
type Summary struct {
	Retained    int                `json:"retained"`
	Capacity    int                `json:"capacity"`
	Evicted     uint64             `json:"evicted"`
	ByOperation map[string]OpStats `json:"byOperation"`
}

// Log is a ring buffer; once full the oldest entry is overwritten
type Log struct {
	mu      sync.Mutex
	buf     []Entry
	next    int
	size    int
	evicted uint64
	now     func() time.Time
}

// New returns a log retaining at most capacity entries
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{buf: make([]Entry, capacity), now: time.Now}
}

// Record appends e, stamping At when unset
func (l *Log) Record(e Entry) {
	if e.At.IsZero() {
		e.At = l.now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size == len(l.buf) {
		l.evicted++
	} else {
		l.size++
	}
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
}

// Recent returns up to n entries, newest first; n <= 0 returns all
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Summary aggregates the retained entries per operation
func (l *Log) Summary() Summary {
	entries := l.Recent(0)

	l.mu.Lock()
	s := Summary{Retained: l.size, Capacity: len(l.buf), Evicted: l.evicted, ByOperation: map[string]OpStats{}}
	l.mu.Unlock()

	totals := map[string]time.Duration{}
	for _, e := range entries {
		st := s.ByOperation[e.Operation]
		st.Total++
		if !e.Success {
			st.Failures++
		}
		if e.Attempts > 1 {
			st.Retries += e.Attempts - 1
		}
		totals[e.Operation] += e.Latency
		s.ByOperation[e.Operation] = st
	}
	for op, st := range s.ByOperation {
		st.AvgLatency = totals[op] / time.Duration(st.Total)
		s.ByOperation[op] = st
	}
	return s
}
