package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	mu     sync.Mutex
	hits   []time.Time
	period time.Duration
	// dead is set when Sweep unlinked the window from the store.
	dead bool
}

// prune drops hits that fell out of the window. Caller holds w.mu.
func (w *window) prune(now time.Time, period time.Duration) {
	cut := 0
	for cut < len(w.hits) && now.Sub(w.hits[cut]) >= period {
		cut++
	}
	if cut > 0 {
		w.hits = append(w.hits[:0], w.hits[cut:]...)
	}
	w.period = period
}

// MemoryStore keeps counters in process memory. Counters live for the
// lifetime of the process and are pruned lazily and by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

func (s *MemoryStore) get(key Key) *window {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key.String()]
	if !ok {
		w = &window{period: key.Rule.Window}
		s.windows[key.String()] = w
	}
	return w
}

// Reserve locks the windows in the order given (session, client, global) so
// concurrent reservations never deadlock and never overshoot a ceiling.
func (s *MemoryStore) Reserve(_ context.Context, now time.Time, keys []Key) (Decision, error) {
	windows := s.lock(keys)
	defer func() {
		for i := len(windows) - 1; i >= 0; i-- {
			windows[i].mu.Unlock()
		}
	}()

	for i, key := range keys {
		w := windows[i]
		w.prune(now, key.Rule.Window)
		if len(w.hits) >= key.Rule.Max {
			return Decision{
				Allowed:    false,
				Scope:      key.Scope,
				RetryAfter: retryAfter(w.hits[0], key.Rule.Window, now),
			}, nil
		}
	}

	for _, w := range windows {
		w.hits = append(w.hits, now)
	}

	return Decision{Allowed: true}, nil
}

// lock fetches and locks the windows for keys, retrying when a concurrent
// Sweep unlinked one of them in between.
func (s *MemoryStore) lock(keys []Key) []*window {
	windows := make([]*window, len(keys))
	for {
		for i, key := range keys {
			windows[i] = s.get(key)
		}

		stale := false
		for i, w := range windows {
			w.mu.Lock()
			if w.dead {
				stale = true
				for j := i; j >= 0; j-- {
					windows[j].mu.Unlock()
				}
				break
			}
		}
		if !stale {
			return windows
		}
	}
}

func (s *MemoryStore) Usage(_ context.Context, now time.Time, key Key) (Usage, error) {
	s.mu.Lock()
	w, ok := s.windows[key.String()]
	s.mu.Unlock()
	if !ok {
		return Usage{}, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, key.Rule.Window)
	usage := Usage{Used: len(w.hits)}
	if len(w.hits) > 0 {
		usage.Oldest = w.hits[0]
	}
	return usage, nil
}

// Sweep removes counters whose hits have all expired.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, w := range s.windows {
		if !w.mu.TryLock() {
			continue
		}
		w.prune(now, w.period)
		if len(w.hits) == 0 {
			w.dead = true
			delete(s.windows, id)
			removed++
		}
		w.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func retryAfter(oldest time.Time, period time.Duration, now time.Time) time.Duration {
	wait := oldest.Add(period).Sub(now)
	if wait <= 0 {
		return time.Millisecond
	}
	return wait
}
