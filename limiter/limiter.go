// Package limiter bounds per-client request frequency with a sliding
// time window.
package limiter

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Limiter accepts up to Limit requests per client identity within a
// trailing Span. Windows live in a concurrent map so checks for
// different identities never contend; mutation of one identity's
// window is serialized by its own mutex, held only for the eviction
// and append.
type Limiter struct {
	limit int
	span  time.Duration

	clients *xsync.MapOf[string, *window]
}

func New(limit int, span time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		span:    span,
		clients: xsync.NewMapOf[string, *window](),
	}
}

// Allow records one request attempt for identity and reports whether
// it is within the limit. Timestamps older than the window are evicted
// lazily on each check; a rejected request records nothing.
func (l *Limiter) Allow(identity string) bool {
	if l.limit <= 0 {
		return true
	}

	w, _ := l.clients.LoadOrCompute(identity, func() *window {
		return &window{}
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.span)

	live := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			break
		}
		live++
	}
	if live > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[live:]...)
	}

	if len(w.stamps) >= l.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Sweep drops identities whose whole window has gone stale. The server
// runs it periodically so one-off clients do not accumulate forever.
func (l *Limiter) Sweep() {
	cutoff := time.Now().Add(-l.span)
	l.clients.Range(func(identity string, w *window) bool {
		w.mu.Lock()
		stale := len(w.stamps) == 0 || !w.stamps[len(w.stamps)-1].After(cutoff)
		w.mu.Unlock()
		if stale {
			l.clients.Delete(identity)
		}
		return true
	})
}

// Tracked reports how many client identities currently hold a window.
func (l *Limiter) Tracked() int {
	return l.clients.Size()
}
