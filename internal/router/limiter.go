package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SenderLimiter allows one message per window for each sender.
type SenderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*senderEntry
	window   time.Duration
	idleTTL  time.Duration
}

type senderEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSenderLimiter creates a limiter. A window of zero disables limiting.
// Entries idle longer than idleTTL are removed by Prune.
func NewSenderLimiter(window, idleTTL time.Duration) *SenderLimiter {
	if idleTTL < window {
		idleTTL = window
	}
	return &SenderLimiter{
		limiters: make(map[string]*senderEntry),
		window:   window,
		idleTTL:  idleTTL,
	}
}

// Allow reports whether sender may send at now. Rejected attempts do not
// extend the sender's wait.
func (l *SenderLimiter) Allow(sender string, now time.Time) bool {
	if l.window <= 0 {
		return true
	}

	l.mu.Lock()
	entry, ok := l.limiters[sender]
	if !ok {
		entry = &senderEntry{limiter: rate.NewLimiter(rate.Every(l.window), 1)}
		l.limiters[sender] = entry
	}
	entry.lastSeen = now
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Prune drops senders not seen since now-idleTTL and returns how many were removed.
func (l *SenderLimiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := now.Add(-l.idleTTL)
	removed := 0
	for sender, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, sender)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked senders.
func (l *SenderLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
