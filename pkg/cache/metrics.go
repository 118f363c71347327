package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks pages served from Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retail_prices_cache_hits_total",
			Help: "Total number of Retail Prices pages served from cache",
		},
	)

	// CacheMisses tracks lookups that went upstream
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retail_prices_cache_misses_total",
			Help: "Total number of Retail Prices page cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_prices_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
