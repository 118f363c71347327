package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/azure-retail-prices/internal/testutil"
	"github.com/Sternrassler/azure-retail-prices/pkg/cache"
	"github.com/Sternrassler/azure-retail-prices/pkg/client"
	"github.com/Sternrassler/azure-retail-prices/pkg/pagination"
	"github.com/Sternrassler/azure-retail-prices/pkg/ratelimit"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// testTransport sends requests for the public endpoint to the mock server.
type testTransport struct {
	mockServer *testutil.MockPricesAPI
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if req.URL.Host == "" || req.URL.Host == "prices.azure.com" {
		mockURL := t.mockServer.URL()
		req.URL.Host = mockURL[7:len(mockURL)-len("/api/retail/prices")] // Remove "http://" and path
	}
	return http.DefaultTransport.RoundTrip(req)
}

// newCrawler wires the real client and scheduler against the mock and Redis.
func newCrawler(t *testing.T, mock *testutil.MockPricesAPI, manager *cache.Manager, cfg pagination.Config) *pagination.Scheduler {
	t.Helper()

	clientCfg := client.DefaultConfig()
	clientCfg.Cache = manager
	c, err := client.New(clientCfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	c.SetHTTPClient(&http.Client{
		Transport: &testTransport{mockServer: mock},
		Timeout:   30 * time.Second,
	})

	s, err := pagination.NewScheduler(c, cfg, ratelimit.Unlimited())
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	return s
}

// TestFullCrawlFlow tests the complete flow: Start Limiter → Cache → API → Cache Update.
func TestFullCrawlFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPricesAPI(420)
	defer mock.Close()

	manager := cache.NewManager(redisClient, time.Minute)
	// Sequential, so both crawls request exactly pages 0-5
	cfg := pagination.Config{Concurrency: 1}
	ctx := context.Background()

	// Crawl 1: every page misses the cache and is stored
	t.Log("Crawl 1: cold cache")
	hitsBefore := promtest.ToFloat64(cache.CacheHits)

	records, err := newCrawler(t, mock, manager, cfg).Run(ctx)
	if err != nil {
		t.Fatalf("Crawl 1 failed: %v", err)
	}
	if len(records) != 420 {
		t.Errorf("Crawl 1 records = %d, want 420", len(records))
	}
	upstream := mock.GetRequestCount()
	if upstream != 6 {
		t.Errorf("Crawl 1 upstream requests = %d, want 6", upstream)
	}

	// Crawl 2: same query, served from Redis
	t.Log("Crawl 2: warm cache")
	records, err = newCrawler(t, mock, manager, cfg).Run(ctx)
	if err != nil {
		t.Fatalf("Crawl 2 failed: %v", err)
	}
	if len(records) != 420 {
		t.Errorf("Crawl 2 records = %d, want 420", len(records))
	}
	if mock.GetRequestCount() != upstream {
		t.Errorf("Crawl 2 made %d upstream requests, want 0", mock.GetRequestCount()-upstream)
	}
	if hits := promtest.ToFloat64(cache.CacheHits) - hitsBefore; hits != 6 {
		t.Errorf("Crawl 2 cache hits = %v, want 6", hits)
	}
}

// TestMissingItemsNotCached checks that a throttled page is fetched again next run.
func TestMissingItemsNotCached(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPricesAPI(250)
	defer mock.Close()
	mock.SetMissingItems(100)

	manager := cache.NewManager(redisClient, time.Minute)
	cfg := pagination.Config{Concurrency: 1}
	ctx := context.Background()

	records, err := newCrawler(t, mock, manager, cfg).Run(ctx)
	if err != nil {
		t.Fatalf("Crawl 1 failed: %v", err)
	}
	if len(records) != 150 {
		t.Errorf("Crawl 1 records = %d, want 150", len(records))
	}

	before := mock.GetRequestCount()
	if _, err := newCrawler(t, mock, manager, cfg).Run(ctx); err != nil {
		t.Fatalf("Crawl 2 failed: %v", err)
	}

	skips := mock.Skips()[before:]
	if len(skips) != 1 || skips[0] != 100 {
		t.Errorf("Crawl 2 upstream skips = %v, want only [100]", skips)
	}
}

// TestUpstreamErrorAbortsCrawl checks that HTTP errors surface through the full stack.
func TestUpstreamErrorAbortsCrawl(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPricesAPI(1000)
	defer mock.Close()
	mock.SetStatus(300, http.StatusTooManyRequests)

	manager := cache.NewManager(redisClient, time.Minute)
	records, err := newCrawler(t, mock, manager, pagination.Config{Concurrency: 2}).Run(context.Background())

	if records != nil {
		t.Errorf("records = %d, want nil", len(records))
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *client.APIError", err)
	}
	if apiErr.ErrorClass != client.ErrorClassRateLimit {
		t.Errorf("ErrorClass = %s, want %s", apiErr.ErrorClass, client.ErrorClassRateLimit)
	}
}

// TestCacheExpiration tests that pages are refetched after their TTL.
func TestCacheExpiration(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockPricesAPI(50)
	defer mock.Close()

	manager := cache.NewManager(redisClient, time.Second)
	cfg := pagination.Config{Concurrency: 1}
	ctx := context.Background()

	if _, err := newCrawler(t, mock, manager, cfg).Run(ctx); err != nil {
		t.Fatalf("Crawl 1 failed: %v", err)
	}
	first := mock.GetRequestCount()

	t.Log("Waiting for cache expiration...")
	time.Sleep(1500 * time.Millisecond)

	if _, err := newCrawler(t, mock, manager, cfg).Run(ctx); err != nil {
		t.Fatalf("Crawl 2 failed: %v", err)
	}
	if got := mock.GetRequestCount() - first; got != first {
		t.Errorf("Crawl 2 upstream requests = %d, want %d after expiry", got, first)
	}
}
