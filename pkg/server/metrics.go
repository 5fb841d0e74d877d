package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/memini-ai/memini/pkg/models"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memini_queries_total",
		Help: "Total number of answered queries by cache outcome",
	}, []string{"cache"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "memini_query_duration_seconds",
		Help:    "End to end query latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func observeQuery(a models.Answer) {
	queriesTotal.WithLabelValues(cacheLabel(a)).Inc()
	queryDuration.Observe(float64(a.TookMs) / 1000)
}
