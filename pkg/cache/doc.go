// Package cache provides an optional Redis-backed cache for raw Retail
// Prices API pages.
//
// The crawler asks for the same $filter/$skip combinations on every run, so
// caching the raw page body for a bounded TTL lets repeated runs (and
// development loops) avoid hitting the upstream API. Only successful pages
// that carried an Items array are stored; rate-limit payloads and errors are
// never cached.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, time.Hour)
//
//	key := cache.PageKey{
//		Endpoint:   "https://prices.azure.com/api/retail/prices",
//		APIVersion: "2021-10-01-preview",
//		Filter:     "serviceName eq 'Virtual Machines'",
//		Skip:       200,
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch upstream, then manager.Set(ctx, key, cache.NewEntry(body, 200))
//	}
//
// # Metrics
//
//   - retail_prices_cache_hits_total
//   - retail_prices_cache_misses_total
//   - retail_prices_cache_errors_total{operation}
package cache
