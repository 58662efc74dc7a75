package auth

import (
	"sync"
	"time"
)

const (
	maxLoginAttempts  = 5 // failures per IP within the window
	loginWindow       = 5 * time.Minute
	accountLockout    = 10 // consecutive failures before account lockout
	accountLockoutDur = 30 * time.Minute
)

// loginAttempt tracks failed sign-in attempts for an IP.
type loginAttempt struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter tracks per-IP sign-in failures across all flows. Allow is
// a pure check; only RecordFailure advances the counter.
type RateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*loginAttempt
}

// NewRateLimiter creates a new sign-in rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{attempts: make(map[string]*loginAttempt)}
}

// Allow reports whether a sign-in attempt from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	a, ok := rl.attempts[ip]
	if !ok {
		return true
	}
	// Window expired, the slate is clean.
	if time.Now().After(a.FirstAt.Add(loginWindow)) {
		delete(rl.attempts, ip)
		return true
	}
	return a.Count < maxLoginAttempts
}

// RecordFailure notes a failed attempt for the IP.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	a, ok := rl.attempts[ip]
	if !ok || now.After(a.FirstAt.Add(loginWindow)) {
		rl.attempts[ip] = &loginAttempt{Count: 1, FirstAt: now}
		return
	}
	a.Count++
}

// Reset clears attempt tracking for an IP after a successful sign-in.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// Cleanup drops entries whose window has expired.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, a := range rl.attempts {
		if now.After(a.FirstAt.Add(loginWindow)) {
			delete(rl.attempts, ip)
		}
	}
}
