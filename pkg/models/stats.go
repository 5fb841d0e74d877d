package models

// CacheStats is a point-in-time snapshot of the query cache counters and
// occupancy.
type CacheStats struct {
	ExactHits      int64   `json:"exact_hits"`
	SemanticHits   int64   `json:"semantic_hits"`
	Misses         int64   `json:"misses"`
	TotalQueries   int64   `json:"total_queries"`
	Evictions      int64   `json:"evictions"`
	TTLExpirations int64   `json:"ttl_expirations"`
	TotalHits      int64   `json:"total_hits"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	ExactSize      int     `json:"exact_cache_size"`
	SemanticSize   int     `json:"semantic_cache_size"`
	TotalSize      int     `json:"total_cache_size"`
}

// ChunkCacheStats is a point-in-time snapshot of the chunk cache counters
// and occupancy.
type ChunkCacheStats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	Evictions      int64   `json:"evictions"`
	Expirations    int64   `json:"expirations"`
	HitRatePercent float64 `json:"hit_rate_percent"`
	Size           int     `json:"cache_size"`
}
