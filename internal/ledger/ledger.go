// Package ledger accumulates per-backend reliability and latency statistics.
package ledger

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	attempts          int
	successes         int
	cumulativeLatency time.Duration
}

// Stats is one backend's row in a report.
type Stats struct {
	Backend     string        `json:"backend"`
	Attempts    int           `json:"attempts"`
	Successes   int           `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency_ns"`
}

// Ledger is safe for concurrent use. Readers see a consistent snapshot.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// Record counts one attempt. Latency only accumulates for successful attempts.
func (l *Ledger) Record(backend string, success bool, latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[backend]
	if !ok {
		e = &entry{}
		l.entries[backend] = e
	}
	e.attempts++
	if success {
		e.successes++
		e.cumulativeLatency += latency
	}
}

// Report returns stats for every backend seen, ordered by name.
func (l *Ledger) Report() []Stats {
	l.mu.RLock()
	out := make([]Stats, 0, len(l.entries))
	for name, e := range l.entries {
		out = append(out, e.stats(name))
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// Get returns the stats for one backend.
func (l *Ledger) Get(backend string) (Stats, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[backend]
	if !ok {
		return Stats{Backend: backend}, false
	}
	return e.stats(backend), true
}

// Reset clears all entries.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

func (e *entry) stats(name string) Stats {
	s := Stats{Backend: name, Attempts: e.attempts, Successes: e.successes}
	if e.attempts > 0 {
		s.SuccessRate = float64(e.successes) / float64(e.attempts)
		s.AvgLatency = e.cumulativeLatency / time.Duration(e.attempts)
	}
	return s
}
