package manager

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/LeJamon/goXRPLd/internal/core/consensus"
	"github.com/LeJamon/goXRPLd/internal/core/consensus/rcl"
)

// LedgerCache wraps an rcl.LedgerStore with an in-memory LRU of recently
// used headers and a completeness tracker, so repeated lookups of ledgers
// a round just closed don't round-trip through the backing store. It
// satisfies rcl.LedgerStore itself, so it can be used anywhere a plain
// store is expected.
type LedgerCache struct {
	mu sync.RWMutex

	backing rcl.LedgerStore

	recentBySeq  *lru.Cache[uint32, Header]
	recentByHash *lru.Cache[consensus.LedgerID, Header]

	completeness *CompleteLedgerSet

	hits   uint64
	misses uint64
}

// Header is a local alias kept so this package doesn't need to import
// rcl under two different names across its files.
type Header = rcl.Header

// LedgerCacheConfig holds configuration for the cache.
type LedgerCacheConfig struct {
	// MaxRecentLedgers is the number of headers to keep in memory.
	MaxRecentLedgers int
}

// NewLedgerCache creates a cache in front of backing.
func NewLedgerCache(config LedgerCacheConfig, backing rcl.LedgerStore) (*LedgerCache, error) {
	if config.MaxRecentLedgers <= 0 {
		config.MaxRecentLedgers = 256
	}

	seqCache, err := lru.New[uint32, Header](config.MaxRecentLedgers)
	if err != nil {
		return nil, err
	}

	hashCache, err := lru.New[consensus.LedgerID, Header](config.MaxRecentLedgers)
	if err != nil {
		return nil, err
	}

	return &LedgerCache{
		backing:      backing,
		recentBySeq:  seqCache,
		recentByHash: hashCache,
		completeness: NewCompleteLedgerSet(),
	}, nil
}

// FetchLedgerHeader satisfies rcl.LedgerStore, serving from cache before
// falling through to the backing store.
func (c *LedgerCache) FetchLedgerHeader(hash consensus.LedgerID) (Header, bool) {
	c.mu.Lock()
	if h, found := c.recentByHash.Get(hash); found {
		c.hits++
		c.mu.Unlock()
		return h, true
	}
	c.misses++
	c.mu.Unlock()

	h, ok := c.backing.FetchLedgerHeader(hash)
	if ok {
		c.mu.Lock()
		c.recentBySeq.Add(h.Seq, h)
		c.recentByHash.Add(hash, h)
		c.mu.Unlock()
	}
	return h, ok
}

// StoreLedger satisfies rcl.LedgerStore: writes through to the backing
// store, populates the cache, and marks the sequence complete.
func (c *LedgerCache) StoreLedger(l *rcl.Ledger) error {
	if err := c.backing.StoreLedger(l); err != nil {
		return err
	}

	c.mu.Lock()
	c.recentBySeq.Add(l.Header.Seq, l.Header)
	c.recentByHash.Add(l.Hash(), l.Header)
	c.completeness.Add(l.Header.Seq)
	c.mu.Unlock()
	return nil
}

// Get retrieves a header by sequence number from cache only.
func (c *LedgerCache) Get(seq uint32) (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recentBySeq.Get(seq)
}

// GetByHash retrieves a header by hash from cache only.
func (c *LedgerCache) GetByHash(hash consensus.LedgerID) (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recentByHash.Get(hash)
}

// Remove evicts a cached sequence (and its hash entry, if present).
func (c *LedgerCache) Remove(seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, found := c.recentBySeq.Peek(seq); found {
		c.recentByHash.Remove(h.Hash())
	}
	c.recentBySeq.Remove(seq)
}

// MarkComplete marks a ledger sequence as complete locally.
func (c *LedgerCache) MarkComplete(seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeness.Add(seq)
}

// MarkCompleteRange marks a range of ledger sequences as complete.
func (c *LedgerCache) MarkCompleteRange(start, end uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeness.AddRange(start, end)
}

// IsComplete reports whether a ledger sequence is complete locally.
func (c *LedgerCache) IsComplete(seq uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completeness.Contains(seq)
}

// GetCompleteRange returns the overall range of complete ledgers.
func (c *LedgerCache) GetCompleteRange() (min, max uint32, hasAny bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completeness.Range()
}

// FindMissingInRange finds missing ledger sequences in a range.
func (c *LedgerCache) FindMissingInRange(start, end uint32) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completeness.FindMissing(start, end)
}

// Clear removes all cached headers but keeps completeness tracking.
func (c *LedgerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentBySeq.Purge()
	c.recentByHash.Purge()
}

// ClearCompleteness clears the completeness tracking.
func (c *LedgerCache) ClearCompleteness() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeness.Clear()
}

// Stats returns cache performance metrics.
func (c *LedgerCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Hits:         c.hits,
		Misses:       c.misses,
		HitRate:      hitRate,
		SeqCacheLen:  c.recentBySeq.Len(),
		HashCacheLen: c.recentByHash.Len(),
	}
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Hits         uint64
	Misses       uint64
	HitRate      float64
	SeqCacheLen  int
	HashCacheLen int
}
