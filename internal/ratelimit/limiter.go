// Package ratelimit implements a per-key sliding-window log limiter.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// ScopeChat is the scope applied to inbound chat frames.
const ScopeChat = "chat"

// Key builds the limiter key for an identity and scope.
func Key(identity, scope string) string {
	return identity + "|" + scope
}

// window keeps the admission timestamps of one key, oldest first.
type window struct {
	mu       sync.Mutex
	hits     []time.Time
	lastSeen time.Time
	// removed is set by Sweep once the window is no longer in the map.
	removed bool
}

// Limiter admits at most limit events per key within any sliding period.
type Limiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	windows map[string]*window
}

// New creates a limiter allowing limit admissions per period.
func New(limit int, period time.Duration) *Limiter {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = time.Minute
	}
	return &Limiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// SetClock overrides the time source.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Limiter) window(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[key]; !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

// lock returns the live window for key with its mutex held. A window swept
// between lookup and locking is skipped and looked up again.
func (l *Limiter) lock(key string) *window {
	for {
		w := l.window(key)
		w.mu.Lock()
		if !w.removed {
			return w
		}
		w.mu.Unlock()
	}
}

// Allow records an admission for key, or returns *domain.RateLimitExceeded
// when the key already used its budget within the window. Check and record
// happen under the key's lock.
func (l *Limiter) Allow(key string) error {
	w := l.lock(key)
	defer w.mu.Unlock()

	now := l.now()
	w.lastSeen = now
	w.evict(now.Add(-l.period))

	if len(w.hits) >= l.limit {
		wait := w.hits[0].Add(l.period).Sub(now)
		return &domain.RateLimitExceeded{Key: key, RetryAfterSeconds: retryAfter(wait)}
	}
	w.hits = append(w.hits, now)
	return nil
}

// Remaining reports how many admissions key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	w := l.lock(key)
	defer w.mu.Unlock()
	w.evict(l.now().Add(-l.period))
	return l.limit - len(w.hits)
}

// evict drops hits at or before cutoff.
func (w *window) evict(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

func retryAfter(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Sweep drops keys idle for longer than the window and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.period)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		if w.lastSeen.Before(cutoff) {
			delete(l.windows, key)
			w.removed = true
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}
