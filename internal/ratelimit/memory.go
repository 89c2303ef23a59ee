package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

type entry struct {
	windows    [3]window
	lastAccess time.Time // used by the sweeper to drop idle identities
}

// MemoryStore keeps counters in a mutex-guarded map. State is process-local:
// in a multi-instance deployment each instance enforces its own quota. Use
// RedisStore when enforcement must span instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	sweepInterval time.Duration
	maxIdle       time.Duration
	now           func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type MemoryStoreOption func(*MemoryStore)

// WithSweepInterval sets how often idle entries are removed.
// Zero disables the sweeper.
func WithSweepInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.sweepInterval = interval
	}
}

// WithMaxIdle sets how long an identity may go unseen before its windows are
// dropped. A dropped identity re-initializes exactly like a first-seen one.
func WithMaxIdle(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.maxIdle = d
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]*entry),
		sweepInterval: 10 * time.Minute,
		maxIdle:       25 * time.Hour, // just past the day window
		now:           time.Now,
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		go s.sweep()
	}

	return s
}

func (s *MemoryStore) Take(ctx context.Context, key string, limits Limits) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		for _, g := range granularities {
			e.windows[g] = window{resetAt: now.Add(g.Window())}
		}
		s.entries[key] = e
	}
	e.lastAccess = now

	// Roll over any expired window before evaluating.
	for _, g := range granularities {
		if !now.Before(e.windows[g].resetAt) {
			e.windows[g] = window{resetAt: now.Add(g.Window())}
		}
	}

	// Minute before hour before day: the shortest window is the most
	// actionable signal for a client backing off.
	for _, g := range granularities {
		w := e.windows[g]
		if w.count >= int64(limits.For(g)) {
			return Result{
				Exceeded: g,
				Limit:    limits.For(g),
				Current:  w.count,
				ResetAt:  w.resetAt,
			}, nil
		}
	}

	// All windows have room; consume one unit from each. Denied requests
	// never reach this point, so denials cost no quota.
	for _, g := range granularities {
		e.windows[g].count++
	}

	return Result{Allowed: true}, nil
}

// Len reports the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeIdle()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) removeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.maxIdle)
	for key, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}
