package cache

import (
	"context"
	"sync"
	"time"

	insightdomain "safe-backend/internal/insight/domain"
)

type memoryEntry struct {
	insights  *insightdomain.Insights
	expiresAt time.Time
}

// MemoryCache is an in-process InsightCache used when Redis is not configured.
type MemoryCache struct {
	entries map[string]memoryEntry
	mu      sync.RWMutex
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(ctx context.Context, userID, projectID string) (*insightdomain.Insights, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(userID, projectID)]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, cacheKey(userID, projectID))
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.insights, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, userID, projectID string, insights *insightdomain.Insights, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[cacheKey(userID, projectID)] = memoryEntry{
		insights:  insights,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, userID, projectID string) error {
	c.mu.Lock()
	delete(c.entries, cacheKey(userID, projectID))
	c.mu.Unlock()
	return nil
}
