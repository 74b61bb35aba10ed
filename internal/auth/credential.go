package auth

import (
	"sync"
	"time"
)

// Credential holds the current bearer token. Writes come from the TokenProvider only;
// downloaders read it on every request.
type Credential struct {
	mu         sync.RWMutex
	token      string
	acquiredAt time.Time
	expiry     time.Time
}

// Token returns the current bearer token, or "" before the first authentication.
func (c *Credential) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// AcquiredAt returns when the current token was issued to us.
func (c *Credential) AcquiredAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acquiredAt
}

// Expiry is zero when the endpoint did not send expires_in.
func (c *Credential) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}

func (c *Credential) set(token string, expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.acquiredAt = time.Now()
	c.expiry = expiry
}
