// Package secrets loads gateway and notification credentials from a secret
// backend: HashiCorp Vault, AWS Secrets Manager or a local directory.
package secrets

import (
	"sync"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// DefaultCacheTTL is used when a backend config leaves CacheTTL unset
const DefaultCacheTTL = 5 * time.Minute

// secretCache holds resolved secrets until their TTL passes. A zero or
// negative TTL disables caching.
type secretCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	ttl     time.Duration
	mu      sync.Mutex
}

type cacheEntry struct {
	expiresAt time.Time
	secret    *ports.Secret
}

func newSecretCache(ttl time.Duration) *secretCache {
	return &secretCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		ttl:     ttl,
	}
}

func (c *secretCache) get(key string) *ports.Secret {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return entry.secret
}

func (c *secretCache) set(key string, secret *ports.Secret) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{secret: secret, expiresAt: c.now().Add(c.ttl)}
}
