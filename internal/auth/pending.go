package auth

import (
	"sync"
	"time"
)

const pendingTTL = 5 * time.Minute

// pendingLogin holds the half-completed state of a 2-step sign-in: the
// password already checked, the TOTP code still outstanding.
type pendingLogin struct {
	UserID    string
	ExpiresAt time.Time
}

// PendingStore is a TTL-bounded in-memory store keyed by one-time token.
// Entries are consumed on read.
type PendingStore struct {
	mu    sync.Mutex
	items map[string]pendingLogin
}

// NewPendingStore creates a new PendingStore and starts a background
// cleanup goroutine.
func NewPendingStore() *PendingStore {
	ps := &PendingStore{items: make(map[string]pendingLogin)}
	go ps.cleanup()
	return ps
}

// Put stores a pending login keyed by token.
func (ps *PendingStore) Put(token, userID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.items[token] = pendingLogin{
		UserID:    userID,
		ExpiresAt: time.Now().Add(pendingTTL),
	}
}

// Take retrieves and removes a pending login. Returns "" if not found or
// expired.
func (ps *PendingStore) Take(token string) string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	item, ok := ps.items[token]
	if !ok {
		return ""
	}
	delete(ps.items, token)
	if time.Now().After(item.ExpiresAt) {
		return ""
	}
	return item.UserID
}

// cleanup removes expired entries every 30 seconds.
func (ps *PendingStore) cleanup() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		ps.mu.Lock()
		now := time.Now()
		for k, v := range ps.items {
			if now.After(v.ExpiresAt) {
				delete(ps.items, k)
			}
		}
		ps.mu.Unlock()
	}
}
