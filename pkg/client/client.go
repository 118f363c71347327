// Package client provides the HTTP client for the Azure Retail Prices API,
// with optional page caching and request metrics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/azure-retail-prices/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the public Retail Prices endpoint.
	DefaultBaseURL = "https://prices.azure.com/api/retail/prices"

	// DefaultAPIVersion is the api-version the crawler was built against.
	DefaultAPIVersion = "2021-10-01-preview"

	// DefaultUserAgent identifies the crawler to the API.
	DefaultUserAgent = "azure-retail-prices/0.1.0"
)

// Prometheus metrics for Retail Prices requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retail_prices_requests_total",
		Help: "Total Retail Prices page requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retail_prices_request_duration_seconds",
		Help:    "Retail Prices page request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retail_prices_errors_total",
		Help: "Total Retail Prices request errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the prices endpoint without query string
	BaseURL string

	// APIVersion is sent as the api-version query parameter
	APIVersion string

	// UserAgent header sent with every request
	UserAgent string

	// Timeout per HTTP request (0 disables)
	Timeout time.Duration

	// Cache is an optional page cache; nil disables caching
	Cache *cache.Manager
}

// DefaultConfig returns the configuration for the public API without caching.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIVersion: DefaultAPIVersion,
		UserAgent:  DefaultUserAgent,
		Timeout:    30 * time.Second,
	}
}

// Page is one decoded API response.
type Page struct {
	// Items holds the price records. Nil when HasItems is false.
	Items []map[string]any

	// HasItems reports whether the payload carried an Items array at all.
	// A missing key usually means rate limiting or a malformed filter.
	HasItems bool

	// NextPageLink and Count are informational; pagination is driven by $skip.
	NextPageLink string
	Count        int

	// Raw is the undecoded body, kept for diagnostics.
	Raw []byte

	// FromCache is true when the page was served by the page cache.
	FromCache bool
}

// Client talks to the Retail Prices API.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a new Retail Prices client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}
	if cfg.APIVersion == "" {
		return nil, fmt.Errorf("api version is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		cache:  cfg.Cache,
		config: cfg,
		logger: log.With().Str("component", "retail-client").Logger(),
	}, nil
}

// PageURL builds the request URL for one page. The OData parameter names keep
// their literal '$'.
func (c *Client) PageURL(filter string, skip int) string {
	sep := "?"
	if strings.Contains(c.config.BaseURL, "?") {
		sep = "&"
	}
	return c.config.BaseURL + sep +
		"api-version=" + url.QueryEscape(c.config.APIVersion) +
		"&$filter=" + url.QueryEscape(filter) +
		"&$skip=" + strconv.Itoa(skip)
}

// GetPage fetches and decodes the page starting at skip.
//
// A 2xx JSON object without an Items key is NOT an error: the returned Page
// has HasItems=false and Raw set so the caller can decide what to do.
// Transport failures, HTTP errors and undecodable bodies return *APIError.
func (c *Client) GetPage(ctx context.Context, filter string, skip int) (*Page, error) {
	key := cache.PageKey{
		Endpoint:   c.config.BaseURL,
		APIVersion: c.config.APIVersion,
		Filter:     filter,
		Skip:       skip,
	}

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			page, decErr := decodePage(entry.Data, skip)
			if decErr == nil {
				page.FromCache = true
				c.logger.Debug().Int("skip", skip).Msg("Page served from cache")
				return page, nil
			}
			c.logger.Warn().Err(decErr).Int("skip", skip).Msg("Cached page undecodable, refetching")
		case errors.Is(err, cache.ErrCacheMiss):
			c.logger.Debug().Int("skip", skip).Msg("Page cache miss")
		default:
			c.logger.Warn().Err(err).Int("skip", skip).Msg("Cache get error")
		}
	}

	body, err := c.do(ctx, filter, skip)
	if err != nil {
		return nil, err
	}

	page, err := decodePage(body, skip)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, err
	}

	if c.cache != nil && page.HasItems {
		if err := c.cache.Set(ctx, key, cache.NewEntry(body, http.StatusOK)); err != nil {
			c.logger.Warn().Err(err).Int("skip", skip).Msg("Failed to cache page")
		}
	}

	return page, nil
}

// do issues the GET and returns the body of a successful response.
func (c *Client) do(ctx context.Context, filter string, skip int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PageURL(filter, skip), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		c.logger.Error().Err(err).Int("skip", skip).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Skip:       skip,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error().
			Int("skip", skip).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Bytes("body", snippet).
			Msg("Retail Prices request error")
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Skip:       skip,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Skip:       skip,
			Message:    "read response body",
			Err:        err,
		}
	}

	return body, nil
}

// decodePage turns a response body into a Page.
func decodePage(body []byte, skip int) (*Page, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Skip:       skip,
			Message:    "response is not a JSON object",
			Err:        err,
		}
	}

	page := &Page{Raw: body}

	if raw, ok := payload["NextPageLink"]; ok {
		_ = json.Unmarshal(raw, &page.NextPageLink)
	}
	if raw, ok := payload["Count"]; ok {
		_ = json.Unmarshal(raw, &page.Count)
	}

	raw, ok := payload["Items"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return page, nil
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Skip:       skip,
			Message:    "Items is not an array of objects",
			Err:        err,
		}
	}
	if items == nil {
		items = []map[string]any{}
	}

	page.Items = items
	page.HasItems = true
	return page, nil
}

// CloseIdleConnections releases pooled connections. Safe to call repeatedly.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Close releases the client's connections.
func (c *Client) Close() error {
	c.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
