package dense

import (
	"context"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedSearcher memoises dense hit lists per (query, topK) in an LRU. Errors
// are not cached.
type CachedSearcher struct {
	inner  Searcher
	cache  *lru.Cache[string, []Hit]
	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedSearcher(inner Searcher, size int) (*CachedSearcher, error) {
	c, err := lru.New[string, []Hit](size)
	if err != nil {
		return nil, err
	}
	return &CachedSearcher{inner: inner, cache: c}, nil
}

func (c *CachedSearcher) Search(ctx context.Context, queryText string, topK int) ([]Hit, error) {
	key := strconv.Itoa(topK) + "\x00" + queryText
	if hits, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return cloneHits(hits), nil
	}
	c.misses.Add(1)
	hits, err := c.inner.Search(ctx, queryText, topK)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneHits(hits))
	return hits, nil
}

// Purge drops every cached entry. The searcher calls it after each local
// write and each index-complete event. A nil receiver is a no-op.
func (c *CachedSearcher) Purge() {
	if c == nil {
		return
	}
	c.cache.Purge()
}

// Stats returns cache hit and miss counts and the current entry count.
func (c *CachedSearcher) Stats() (hits, misses int64, size int) {
	return c.hits.Load(), c.misses.Load(), c.cache.Len()
}

func cloneHits(hits []Hit) []Hit {
	if hits == nil {
		return nil
	}
	out := make([]Hit, len(hits))
	copy(out, hits)
	return out
}
