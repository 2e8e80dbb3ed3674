package voting

import (
	"context"

	"github.com/okian/ascent/internal/domain/dedupe"
)

// MemoryCache adapts a Deduper into a process-local VoteCache.
type MemoryCache struct {
	seen dedupe.Deduper
}

// NewMemoryCache creates a cache remembering at most size votes.
func NewMemoryCache(size int) *MemoryCache {
	return &MemoryCache{seen: dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(size))}
}

// Has implements VoteCache.
func (c *MemoryCache) Has(ctx context.Context, threadID, voterID string) (bool, error) {
	return c.seen.Contains(ctx, CacheKey(threadID, voterID)), nil
}

// Add implements VoteCache.
func (c *MemoryCache) Add(ctx context.Context, threadID, voterID string) error {
	c.seen.SeenAndRecord(ctx, CacheKey(threadID, voterID))
	return nil
}

// Size returns the number of cached votes.
func (c *MemoryCache) Size() int64 {
	return c.seen.Size()
}

// CacheKey is the cache identity of a vote.
func CacheKey(threadID, voterID string) string {
	return threadID + ":" + voterID
}
