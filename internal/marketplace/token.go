package marketplace

import (
	"context"
	"sync"
	"time"
)

// Token is an access token for the marketplace api. Tokens are replaced, never modified.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Usable reports whether the token may still be used at `now`, the token is
// considered stale `margin` before it actually expires.
func (t Token) Usable(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// TokenCache holds a single token slot.
//
// note: fault injection point
type TokenCache interface {
	// Load returns the cached token, ok is false if the slot is empty.
	Load(ctx context.Context) (token Token, ok bool, err error)
	// Store overwrites the slot.
	Store(ctx context.Context, token Token) error
	// Invalidate empties the slot.
	Invalidate(ctx context.Context) error
}

// MemoryTokenCache is a TokenCache local to the process.
type MemoryTokenCache struct {
	mutex sync.RWMutex
	token Token
	ok    bool
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{}
}

func (c *MemoryTokenCache) Load(context.Context) (Token, bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.token, c.ok, nil
}

func (c *MemoryTokenCache) Store(_ context.Context, token Token) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.token = token
	c.ok = true
	return nil
}

func (c *MemoryTokenCache) Invalidate(context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.token = Token{}
	c.ok = false
	return nil
}
