package similarity

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPairCacheSize bounds the number of cached pairs per run.
const DefaultPairCacheSize = 200_000

// pairKey is an unordered pair: a <= b always holds.
type pairKey struct {
	a, b string
}

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// PairCache memoizes Hybrid scores for unordered string pairs.
// A PairCache belongs to one matching run (or one search generation) and must
// be invalidated whenever the underlying index changes. It is safe for
// concurrent use. A nil *PairCache computes every score directly.
type PairCache struct {
	cache  *lru.Cache[pairKey, float64]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewPairCache creates a cache holding at most size pairs.
func NewPairCache(size int) (*PairCache, error) {
	if size <= 0 {
		size = DefaultPairCacheSize
	}
	cache, err := lru.New[pairKey, float64](size)
	if err != nil {
		return nil, err
	}
	return &PairCache{cache: cache}, nil
}

// Hybrid returns Hybrid(a, b), computing it at most once per pair while the
// pair stays in the cache.
func (c *PairCache) Hybrid(a, b string) float64 {
	if c == nil {
		return Hybrid(a, b)
	}
	key := newPairKey(a, b)
	if score, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return score
	}
	c.misses.Add(1)
	score := Hybrid(key.a, key.b)
	c.cache.Add(key, score)
	return score
}

// Invalidate drops every cached pair.
func (c *PairCache) Invalidate() {
	if c == nil {
		return
	}
	c.cache.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
}

// Len returns the number of cached pairs.
func (c *PairCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Stats returns hit and miss counters since creation or the last Invalidate.
func (c *PairCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}
