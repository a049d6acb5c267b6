// Package ratelimit gates DM dispatch with a per-(campaign, platform)
// sliding-hour counter. State is process-local: acceptable only under the
// single-writer deployment assumption, multi-instance deployments need a
// shared counter instead.
package ratelimit

import (
	"sync"
	"time"
)

const window = time.Hour

type entry struct {
	lastSent time.Time
	count    int
}

type Limiter struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock is for tests that need to steer the window.
func NewWithClock(now func() time.Time) *Limiter {
	l := New()
	l.now = now
	return l
}

func key(campaignID, platformID string) string {
	return campaignID + ":" + platformID
}

// Check reports whether another send is allowed under throttleRate sends per
// hour. It never mutates state; an elapsed window only resets on the next
// Record call.
func (l *Limiter) Check(campaignID, platformID string, throttleRate int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key(campaignID, platformID)]
	if !ok {
		return true
	}
	if l.now().Sub(e.lastSent) > window {
		return true
	}
	return e.count < throttleRate
}

// Record counts one send: increments within the current window, or starts a
// fresh window with count 1 when the previous one has elapsed.
func (l *Limiter) Record(campaignID, platformID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := key(campaignID, platformID)
	now := l.now()
	e, ok := l.entries[k]
	if !ok || now.Sub(e.lastSent) > window {
		l.entries[k] = entry{lastSent: now, count: 1}
		return
	}
	e.count++
	e.lastSent = now
	l.entries[k] = e
}
