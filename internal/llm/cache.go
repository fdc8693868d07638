package llm

import "sync"

// Cache hands out provider instances, building each profile's provider at
// most once. Keys are profile fingerprints; entries are write-once, so
// lookups after warm-up are lock-free.
type Cache struct {
	providers sync.Map // Profile.Key() → Provider
}

// NewCache returns an empty provider cache.
func NewCache() *Cache {
	return &Cache{}
}

// For returns the provider for a profile, constructing it on first use.
// Concurrent first calls for the same key may both construct; exactly one
// instance wins and is returned to every caller.
func (c *Cache) For(profile Profile) (Provider, error) {
	key := profile.Key()
	if cached, ok := c.providers.Load(key); ok {
		return cached.(Provider), nil
	}
	provider, err := New(profile)
	if err != nil {
		return nil, err
	}
	actual, _ := c.providers.LoadOrStore(key, provider)
	return actual.(Provider), nil
}

// Seed stores a pre-built provider under the profile's key. Entries stay
// write-once: seeding an existing key is a no-op.
func (c *Cache) Seed(profile Profile, provider Provider) {
	c.providers.LoadOrStore(profile.Key(), provider)
}
