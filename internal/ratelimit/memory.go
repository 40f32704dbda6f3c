package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps a sliding log per bucket in process memory. It is only
// correct when a single worker process sends for the accounts it tracks.
type MemoryStore struct {
	mu        sync.Mutex
	logs      map[string][]time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: map[string][]time.Time{}}
}

func (m *MemoryStore) Reserve(_ context.Context, buckets []Bucket, now time.Time, window time.Duration) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	if now.Sub(m.lastSweep) >= window {
		m.sweep(cutoff)
		m.lastSweep = now
	}
	var wait time.Duration
	for _, b := range buckets {
		log := prune(m.logs[b.Key], cutoff)
		if len(log) == 0 {
			delete(m.logs, b.Key)
		} else {
			m.logs[b.Key] = log
		}
		if b.Limit <= 0 || len(log) < b.Limit {
			continue
		}
		// the slot frees when the entry len-limit leaves the window
		if w := log[len(log)-b.Limit].Add(window).Sub(now); w > wait {
			wait = w
		}
	}
	if wait > 0 {
		return false, wait, nil
	}
	for _, b := range buckets {
		m.logs[b.Key] = append(m.logs[b.Key], now)
	}
	return true, 0, nil
}

// sweep drops buckets with no entries left in the window.
func (m *MemoryStore) sweep(cutoff time.Time) {
	for key, log := range m.logs {
		if log = prune(log, cutoff); len(log) == 0 {
			delete(m.logs, key)
		} else {
			m.logs[key] = log
		}
	}
}

func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}
