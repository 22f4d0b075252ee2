package utils

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewChildQRToken builds the opaque token encoded into a child's QR code.
// Generation is an explicit factory step at profile creation, not a
// persistence hook, so the token is visible and testable before the row
// exists. The uuid keeps it globally unique even for children created within
// the same millisecond.
func NewChildQRToken() string {
	return fmt.Sprintf("CHILD-%s-%d", uuid.NewString(), time.Now().UnixMilli())
}

var (
	blacklistedTokens = make(map[string]time.Time)
	blacklistMutex    sync.RWMutex
)

// BlacklistToken invalidates a bearer token until its natural expiry window
// has passed. Used by logout.
func BlacklistToken(token string) {
	blacklistMutex.Lock()
	defer blacklistMutex.Unlock()
	blacklistedTokens[token] = time.Now().Add(24 * time.Hour)
}

func IsTokenBlacklisted(token string) bool {
	blacklistMutex.RLock()
	defer blacklistMutex.RUnlock()

	if expiry, exists := blacklistedTokens[token]; exists {
		if time.Now().Before(expiry) {
			return true
		}
	}
	return false
}

// CleanupBlacklist drops entries whose hold window has passed. Called
// periodically from the scheduler.
func CleanupBlacklist() {
	blacklistMutex.Lock()
	defer blacklistMutex.Unlock()
	now := time.Now()
	for token, expiry := range blacklistedTokens {
		if now.After(expiry) {
			delete(blacklistedTokens, token)
		}
	}
}
