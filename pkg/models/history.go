package models

import "time"

// QueryLogEntry is one answered query in the history log. CacheType is
// empty for freshly generated answers, "exact" or "semantic" for cache
// hits.
type QueryLogEntry struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	Query      string    `json:"query"`
	K          int       `json:"k"`
	CacheType  string    `json:"cache_type,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Model      string    `json:"model,omitempty"`
	Sources    int       `json:"sources"`
	Response   string    `json:"response,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryQueryOpts filters history lookups. Zero values mean no filter.
type HistoryQueryOpts struct {
	Since     time.Time
	CacheType string
	Limit     int
}

// HistoryStat aggregates answered queries per day.
type HistoryStat struct {
	Day     string `json:"day"`
	Queries int64  `json:"queries"`
	Hits    int64  `json:"hits"`
}
