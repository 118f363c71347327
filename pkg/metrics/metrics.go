// Package metrics serves the crawler's Prometheus metrics.
// All metrics are defined in their respective packages (client, cache,
// pagination, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package provides the /metrics endpoint and documents what it exposes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the crawler.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Path is where Handler is mounted by Serve.
const Path = "/metrics"

// Handler returns the HTTP handler exposing the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server exposes Handler on its own listener for the duration of a crawl.
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background. Listen errors are logged, not returned:
// a crawl does not fail because its metrics port is taken.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("Serving metrics")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.server.Addr).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the server, waiting up to two seconds for scrapes in flight.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - retail_prices_requests_total{status} (Counter): Page requests by HTTP status
//   - retail_prices_request_duration_seconds (Histogram): Page request duration
//   - retail_prices_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Pagination Metrics (pkg/pagination):
//   - retail_prices_pages_launched_total (Counter): Page fetches started
//   - retail_prices_records_total (Counter): Price records collected
//   - retail_prices_outstanding_tasks (Gauge): Page fetches in flight
//   - retail_prices_missing_items_total (Counter): Payloads without an Items key
//
// Start Limiter Metrics (pkg/ratelimit):
//   - retail_prices_start_wait_seconds (Histogram): Wait before a fetch may start
//
// Cache Metrics (pkg/cache):
//   - retail_prices_cache_hits_total (Counter): Pages served from Redis
//   - retail_prices_cache_misses_total (Counter): Lookups that went upstream
//   - retail_prices_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(retail_prices_cache_hits_total[5m])) /
//   (sum(rate(retail_prices_cache_hits_total[5m])) + sum(rate(retail_prices_cache_misses_total[5m])))
//
//   # Likely throttling
//   increase(retail_prices_missing_items_total[5m]) > 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(retail_prices_request_duration_seconds_bucket[5m]))
