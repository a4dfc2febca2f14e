package tokencache

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL applies when neither the token nor the endpoint reports a lifetime.
	DefaultTTL = 59 * time.Minute
	// DefaultSkew is subtracted from every lifetime.
	DefaultSkew = 30 * time.Second
)

// Cache stores one token per account id.
type Cache interface {
	Get(ctx context.Context, accountID string) (string, bool, error)
	Put(ctx context.Context, accountID, token string, ttl time.Duration) error
	Delete(ctx context.Context, accountID string) error
}

// TTL returns how long token may be cached. reported is the lifetime the
// sign-in endpoint returned, or zero. A non-positive result means the token
// must not be cached.
func TTL(token string, reported time.Duration, now time.Time, skew time.Duration) time.Duration {
	if skew < 0 {
		skew = 0
	}
	if exp, ok := jwtExpiry(token); ok {
		return exp.Sub(now) - skew
	}
	if reported > 0 {
		return reported - skew
	}
	return DefaultTTL - skew
}

func jwtExpiry(token string) (time.Time, bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache returns an empty cache. now defaults to time.Now.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]memoryEntry), now: now}
}

func (c *MemoryCache) Get(_ context.Context, accountID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[accountID]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, accountID)
		return "", false, nil
	}
	return e.token, true, nil
}

func (c *MemoryCache) Put(_ context.Context, accountID, token string, ttl time.Duration) error {
	if ttl <= 0 || token == "" {
		return nil
	}
	c.mu.Lock()
	c.entries[accountID] = memoryEntry{token: token, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, accountID string) error {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
