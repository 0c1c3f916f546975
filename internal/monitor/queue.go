package monitor

import (
	"sync"

	"polyweather/pkg/types"
)

// Queue is the FIFO trade-signal queue between the monitor and the
// executor. Enqueue dedups by signal key, so at most one pending signal
// exists per (market, token) pair and the queue is naturally bounded by
// markets times bins.
type Queue struct {
	mu      sync.Mutex
	signals []types.TradeSignal
	keys    map[string]bool
}

func NewQueue() *Queue {
	return &Queue{keys: make(map[string]bool)}
}

// Enqueue appends a signal unless one with the same key is already
// pending. Returns false on dedup.
func (q *Queue) Enqueue(sig types.TradeSignal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.keys[sig.Key()] {
		return false
	}
	q.keys[sig.Key()] = true
	q.signals = append(q.signals, sig)
	return true
}

// Pending returns a snapshot of the queue in FIFO order.
func (q *Queue) Pending() []types.TradeSignal {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.TradeSignal, len(q.signals))
	copy(out, q.signals)
	return out
}

// Remove deletes the signal with the given key. Idempotent.
func (q *Queue) Remove(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.keys[key] {
		return
	}
	delete(q.keys, key)
	for i, s := range q.signals {
		if s.Key() == key {
			q.signals = append(q.signals[:i], q.signals[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signals)
}
