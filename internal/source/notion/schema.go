package notion

import (
	"context"
	"sync"
	"time"
)

// SchemaCache holds the property-name → property-ID mapping for one Notion
// database. Notion addresses schema properties by opaque IDs that are not
// guaranteed stable, so the mapping is refetched after TTL. A stale mapping
// is served when a refresh fails; only a cold cache plus a failed fetch is
// fatal. The clock is injectable so tests control expiry.
type SchemaCache struct {
	mu        sync.Mutex
	mapping   map[string]string
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewSchemaCache(ttl time.Duration) *SchemaCache {
	return &SchemaCache{
		ttl: ttl,
		now: time.Now,
	}
}

// Mapping returns the cached mapping, refreshing via fetch when expired.
func (c *SchemaCache) Mapping(ctx context.Context, fetch func(context.Context) (map[string]string, error)) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mapping != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.mapping, nil
	}

	mapping, err := fetch(ctx)
	if err != nil {
		if c.mapping != nil {
			// Stale beats nothing; the schema rarely changes.
			return c.mapping, nil
		}
		return nil, err
	}

	c.mapping = mapping
	c.fetchedAt = c.now()
	return c.mapping, nil
}
