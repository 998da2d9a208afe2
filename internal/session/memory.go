package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Defaults for MemoryRegistry.
const (
	DefaultMaxEntries = 500
	DefaultTTL        = 24 * time.Hour
)

type memEntry struct {
	s       *Session
	touched time.Time
}

// MemoryRegistry keeps sessions in process memory, bounded by entry count
// and by age since the last save.
type MemoryRegistry struct {
	mu         sync.Mutex
	entries    map[string]*memEntry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMemoryRegistry creates a registry and starts a janitor that sweeps
// expired sessions every sweepEvery. sweepEvery <= 0 disables the janitor.
func NewMemoryRegistry(maxEntries int, ttl, sweepEvery time.Duration) *MemoryRegistry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &MemoryRegistry{
		entries:    make(map[string]*memEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if sweepEvery > 0 {
		go r.janitor(sweepEvery)
	} else {
		close(r.done)
	}
	return r
}

// Save stores a copy of s, evicting to stay within the entry bound.
func (r *MemoryRegistry) Save(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[s.ID]; !ok {
		for len(r.entries) >= r.maxEntries {
			if !r.evictOne() {
				break
			}
		}
	}
	r.entries[s.ID] = &memEntry{s: s.Clone(), touched: r.now()}
	return nil
}

// Get returns a copy of the session.
func (r *MemoryRegistry) Get(_ context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || r.expired(e) {
		return nil, ErrNotFound
	}
	return e.s.Clone(), nil
}

// Len returns the number of stored sessions.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops expired sessions and returns how many were removed.
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if r.expired(e) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// Close stops the janitor.
func (r *MemoryRegistry) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *MemoryRegistry) expired(e *memEntry) bool {
	return r.now().Sub(e.touched) > r.ttl
}

// evictOne removes the least recently saved finished session, or the least
// recently saved session of any status when none has finished.
func (r *MemoryRegistry) evictOne() bool {
	var victim string
	var victimAt time.Time
	finished := false
	for id, e := range r.entries {
		term := e.s.Status.Terminal()
		switch {
		case victim == "",
			term && !finished,
			term == finished && e.touched.Before(victimAt):
			victim, victimAt, finished = id, e.touched, term
		}
	}
	if victim == "" {
		return false
	}
	delete(r.entries, victim)
	zap.L().Debug("session evicted", zap.String("session_id", victim), zap.Bool("finished", finished))
	return true
}

func (r *MemoryRegistry) janitor(every time.Duration) {
	defer close(r.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				zap.L().Debug("expired sessions swept", zap.Int("count", n))
			}
		}
	}
}
