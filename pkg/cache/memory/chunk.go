package memory

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/memini-ai/memini/pkg/models"
)

// chunkKeyPrefix bounds how many embedding components feed the chunk cache
// key. The leading components identify a vector well enough; hashing the
// full dimension buys nothing.
const chunkKeyPrefix = 100

// ChunkOptions configures a ChunkCache.
type ChunkOptions struct {
	// MaxSize is the entry budget. Must be positive.
	MaxSize int
	// TTL is the entry lifetime. Zero means entries never expire; negative
	// values are rejected.
	TTL time.Duration
}

// DefaultChunkOptions returns the standard chunk cache configuration.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{MaxSize: 500, TTL: 30 * time.Minute}
}

type chunkEntry struct {
	chunks    []models.ScoredChunk
	createdAt time.Time
}

// ChunkCache caches retrieved chunk lists keyed by search embedding and
// result count, so repeated vector searches skip the index scan. Safe for
// concurrent use.
type ChunkCache struct {
	mu      sync.Mutex
	opts    ChunkOptions
	entries *recencyList[chunkEntry]

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// NewChunkCache validates opts and returns an empty cache.
func NewChunkCache(opts ChunkOptions) (*ChunkCache, error) {
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("chunk cache max size must be positive, got %d", opts.MaxSize)
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("chunk cache ttl must not be negative, got %v", opts.TTL)
	}
	return &ChunkCache{opts: opts, entries: newRecencyList[chunkEntry]()}, nil
}

// EmbeddingKey derives the chunk cache key from the first 100 components
// of the embedding plus k, hashing their raw little-endian float64 bytes.
// k is encoded as a float64 like the components around it.
func EmbeddingKey(embedding []float64, k int) string {
	h := sha256.New()
	var buf [8]byte

	n := len(embedding)
	if n > chunkKeyPrefix {
		n = chunkKeyPrefix
	}
	for _, v := range embedding[:n] {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(float64(k)))
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached chunk list for (embedding, k) if present and not
// expired. An expired entry is removed and counted as both an expiration
// and a miss.
func (c *ChunkCache) Get(embedding []float64, k int) ([]models.ScoredChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := EmbeddingKey(embedding, k)
	entry, ok := c.entries.get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.opts.TTL > 0 && time.Since(entry.createdAt) > c.opts.TTL {
		c.entries.remove(key)
		c.expirations++
		c.misses++
		return nil, false
	}
	c.entries.promote(key)
	c.hits++
	return entry.chunks, true
}

// Set stores the chunk list for (embedding, k), evicting the least
// recently used entry if the cache is over capacity afterwards.
func (c *ChunkCache) Set(embedding []float64, k int, chunks []models.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := EmbeddingKey(embedding, k)
	c.entries.set(key, chunkEntry{chunks: chunks, createdAt: time.Now()})

	if c.entries.len() > c.opts.MaxSize {
		if _, _, ok := c.entries.removeOldest(); ok {
			c.evictions++
		}
	}
}

// Clear empties the cache. Counters are preserved.
func (c *ChunkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.clear()
}

// Stats returns a snapshot of the counters and current occupancy.
func (c *ChunkCache) Stats() models.ChunkCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = round2(float64(c.hits) / float64(total) * 100)
	}
	return models.ChunkCacheStats{
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		Expirations:    c.expirations,
		HitRatePercent: rate,
		Size:           c.entries.len(),
	}
}
