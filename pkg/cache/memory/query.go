package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/memini-ai/memini/pkg/models"
)

// Payload is the value type a QueryCache stores. Clone returns a copy the
// caller may modify without affecting the cached entry.
type Payload[P any] interface {
	Clone() P
}

// HitType identifies which tier produced a cache hit.
type HitType string

const (
	HitExact    HitType = "exact"
	HitSemantic HitType = "semantic"
)

// Hit is a successful cache lookup: an independent copy of the stored
// payload plus its provenance. Similarity is set on semantic hits only.
type Hit[P Payload[P]] struct {
	Payload    P
	Type       HitType
	Similarity float64
}

// Options configures a QueryCache.
type Options struct {
	// MaxSize is the entry budget shared by both tiers. Must be positive.
	MaxSize int
	// SimilarityThreshold is the minimum cosine similarity for a semantic
	// hit, boundary inclusive.
	SimilarityThreshold float64
	// TTL is the entry lifetime. Zero means entries never expire; negative
	// values are rejected.
	TTL time.Duration
	// EnableSemantic turns the semantic tier on. When false, lookups and
	// writes touch only the exact tier.
	EnableSemantic bool
}

// DefaultOptions returns the standard query cache configuration.
func DefaultOptions() Options {
	return Options{
		MaxSize:             1000,
		SimilarityThreshold: 0.92,
		TTL:                 time.Hour,
		EnableSemantic:      true,
	}
}

type exactEntry[P any] struct {
	payload   P
	createdAt time.Time
	query     string
}

type semanticEntry[P any] struct {
	embedding []float64
	payload   P
	createdAt time.Time
	query     string
}

// QueryCache is a two-tier in-memory cache for query results: an exact
// tier keyed by query fingerprint and a semantic tier matched by cosine
// similarity over stored embeddings. Both tiers share one MaxSize budget
// and evict least recently used entries first. All methods are safe for
// concurrent use; a single mutex guards each operation end to end.
type QueryCache[P Payload[P]] struct {
	mu       sync.Mutex
	opts     Options
	exact    *recencyList[exactEntry[P]]
	semantic *recencyList[semanticEntry[P]]

	exactHits      int64
	semanticHits   int64
	misses         int64
	totalQueries   int64
	evictions      int64
	ttlExpirations int64
}

// NewQueryCache validates opts and returns an empty cache.
func NewQueryCache[P Payload[P]](opts Options) (*QueryCache[P], error) {
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("cache max size must be positive, got %d", opts.MaxSize)
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("cache ttl must not be negative, got %v", opts.TTL)
	}
	return &QueryCache[P]{
		opts:     opts,
		exact:    newRecencyList[exactEntry[P]](),
		semantic: newRecencyList[semanticEntry[P]](),
	}, nil
}

// Fingerprint derives the exact-tier key for a query: SHA-256 over the
// lower-cased, whitespace-trimmed text joined with k, so the same question
// at a different retrieval depth never collides.
func Fingerprint(query string, k int) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|k=%d", normalized, k)))
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached result for (query, k). The exact tier is consulted
// first; when it misses and embedding is non-nil and the semantic tier is
// enabled, every live semantic entry is scanned for the best cosine match.
// An exact entry found past its TTL is removed and counted before the
// lookup falls through to the semantic tier. The returned payload is an
// independent copy. The only error condition is a dimension mismatch
// between embedding and a stored vector, reported as ErrInvalidEmbedding.
func (c *QueryCache[P]) Get(query string, k int, embedding []float64) (Hit[P], bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalQueries++
	fp := Fingerprint(query, k)

	if entry, ok := c.exact.get(fp); ok {
		if c.expiredLocked(entry.createdAt) {
			c.exact.remove(fp)
			c.ttlExpirations++
		} else {
			c.exact.promote(fp)
			c.exactHits++
			return Hit[P]{Payload: entry.payload.Clone(), Type: HitExact}, true, nil
		}
	}

	if c.opts.EnableSemantic && embedding != nil {
		hit, ok, err := c.semanticLookupLocked(embedding)
		if err != nil {
			return Hit[P]{}, false, err
		}
		if ok {
			return hit, true, nil
		}
	}

	c.misses++
	return Hit[P]{}, false, nil
}

// semanticLookupLocked scans the semantic tier for the entry most similar
// to embedding. Expired entries are skipped but not removed; only the
// lazy exact-tier check and RemoveExpired reclaim them. On equal scores
// the least recently used entry wins.
func (c *QueryCache[P]) semanticLookupLocked(embedding []float64) (Hit[P], bool, error) {
	var (
		bestKey string
		best    semanticEntry[P]
		bestSim float64
		found   bool
		scanErr error
	)
	c.semantic.each(func(key string, entry semanticEntry[P]) bool {
		if c.expiredLocked(entry.createdAt) {
			return true
		}
		sim, err := CosineSimilarity(embedding, entry.embedding)
		if err != nil {
			scanErr = err
			return false
		}
		if sim > bestSim {
			bestSim = sim
			bestKey = key
			best = entry
			found = true
		}
		return true
	})
	if scanErr != nil {
		return Hit[P]{}, false, scanErr
	}
	if !found || bestSim < c.opts.SimilarityThreshold {
		return Hit[P]{}, false, nil
	}
	c.semantic.promote(bestKey)
	c.semanticHits++
	return Hit[P]{Payload: best.payload.Clone(), Type: HitSemantic, Similarity: bestSim}, true, nil
}

// Set stores payload under (query, k) in the exact tier and, when
// embedding is non-nil and the semantic tier is enabled, in the semantic
// tier as well. Existing entries are overwritten and made most recently
// used. The shared budget is restored before returning.
func (c *QueryCache[P]) Set(query string, k int, payload P, embedding []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := Fingerprint(query, k)
	now := time.Now()

	c.exact.set(fp, exactEntry[P]{payload: payload, createdAt: now, query: query})
	if c.opts.EnableSemantic && embedding != nil {
		c.semantic.set(fp, semanticEntry[P]{embedding: embedding, payload: payload, createdAt: now, query: query})
	}

	c.enforceBudgetLocked()
}

// enforceBudgetLocked evicts least recently used entries until the
// combined size fits, taking from whichever tier holds more entries; ties
// take from the exact tier.
func (c *QueryCache[P]) enforceBudgetLocked() {
	for c.exact.len()+c.semantic.len() > c.opts.MaxSize {
		if c.exact.len() >= c.semantic.len() {
			if _, _, ok := c.exact.removeOldest(); ok {
				c.evictions++
			}
		} else {
			if _, _, ok := c.semantic.removeOldest(); ok {
				c.evictions++
			}
		}
	}
}

// Clear empties both tiers. Counters are preserved; use ResetStats to zero
// them.
func (c *QueryCache[P]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exact.clear()
	c.semantic.clear()
}

// RemoveExpired sweeps both tiers, dropping every entry past its TTL and
// counting each removal as an expiration. It returns the number of entries
// removed; zero when the cache has no TTL.
func (c *QueryCache[P]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.TTL == 0 {
		return 0
	}

	removed := 0
	var stale []string
	c.exact.each(func(key string, entry exactEntry[P]) bool {
		if c.expiredLocked(entry.createdAt) {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		c.exact.remove(key)
		c.ttlExpirations++
		removed++
	}

	stale = stale[:0]
	c.semantic.each(func(key string, entry semanticEntry[P]) bool {
		if c.expiredLocked(entry.createdAt) {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		c.semantic.remove(key)
		c.ttlExpirations++
		removed++
	}
	return removed
}

// Stats returns a snapshot of the counters and current occupancy.
func (c *QueryCache[P]) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	totalHits := c.exactHits + c.semanticHits
	rate := 0.0
	if c.totalQueries > 0 {
		rate = round2(float64(totalHits) / float64(c.totalQueries) * 100)
	}
	return models.CacheStats{
		ExactHits:      c.exactHits,
		SemanticHits:   c.semanticHits,
		Misses:         c.misses,
		TotalQueries:   c.totalQueries,
		Evictions:      c.evictions,
		TTLExpirations: c.ttlExpirations,
		TotalHits:      totalHits,
		HitRatePercent: rate,
		ExactSize:      c.exact.len(),
		SemanticSize:   c.semantic.len(),
		TotalSize:      c.exact.len() + c.semantic.len(),
	}
}

// ResetStats zeroes every counter without touching cached entries.
func (c *QueryCache[P]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exactHits = 0
	c.semanticHits = 0
	c.misses = 0
	c.totalQueries = 0
	c.evictions = 0
	c.ttlExpirations = 0
}

func (c *QueryCache[P]) expiredLocked(createdAt time.Time) bool {
	if c.opts.TTL == 0 {
		return false
	}
	return time.Since(createdAt) > c.opts.TTL
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
