package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/azure-retail-prices/pkg/client"
	"github.com/Sternrassler/azure-retail-prices/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// PageSize is the number of records the API returns per page.
	PageSize = 100

	// DefaultConcurrency is the number of page fetches kept in flight.
	DefaultConcurrency = 9

	// DefaultReportInterval is the gap between progress log lines.
	DefaultReportInterval = time.Second

	// DefaultQuery selects consumption and reservation prices in EU West and EU East.
	DefaultQuery = "(location eq 'EU West' or location eq 'EU East') " +
		"and " +
		"(priceType eq 'Consumption' or priceType eq 'Reservation')"
)

// ErrInvalidConfig is wrapped by NewScheduler for rejected configurations.
var ErrInvalidConfig = errors.New("invalid scheduler config")

// Prometheus metrics for the pagination loop.
var (
	pagesLaunchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retail_prices_pages_launched_total",
		Help: "Total page fetches started",
	})

	recordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retail_prices_records_total",
		Help: "Total price records collected",
	})

	outstandingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retail_prices_outstanding_tasks",
		Help: "Page fetches currently in flight",
	})

	missingItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retail_prices_missing_items_total",
		Help: "Pages whose payload had no Items key (rate limited or malformed query)",
	})
)

// Record is one price entry, passed through as decoded JSON.
type Record = map[string]any

// PageSource fetches single pages. *client.Client implements it.
type PageSource interface {
	// GetPage fetches the page starting at skip for the given $filter.
	GetPage(ctx context.Context, filter string, skip int) (*client.Page, error)

	// CloseIdleConnections releases the source's pooled connections.
	CloseIdleConnections()
}

// Config holds scheduler configuration.
type Config struct {
	// Query is the OData $filter, passed verbatim. Empty means DefaultQuery.
	Query string

	// Concurrency is the maximum number of page fetches in flight
	Concurrency int

	// StopAfter stops launching new pages once this many records are held.
	// In-flight pages still complete, so the result may exceed it. 0 = unbounded.
	StopAfter int

	// ReportInterval between progress log lines
	ReportInterval time.Duration
}

// DefaultConfig returns the default crawl: DefaultQuery, 9 in flight, unbounded.
func DefaultConfig() Config {
	return Config{
		Query:          DefaultQuery,
		Concurrency:    DefaultConcurrency,
		StopAfter:      0,
		ReportInterval: DefaultReportInterval,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive (got %d)", ErrInvalidConfig, c.Concurrency)
	}
	if c.StopAfter < 0 {
		return fmt.Errorf("%w: stop-after cannot be negative (got %d)", ErrInvalidConfig, c.StopAfter)
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("%w: report interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// pageResult is what a finished fetch task hands back to the driver.
type pageResult struct {
	page      int
	records   []Record
	endOfData bool
	err       error
}

// Scheduler fetches every page of one query with bounded concurrency.
type Scheduler struct {
	source  PageSource
	limiter *ratelimit.StartLimiter
	config  Config
	logger  zerolog.Logger

	// trace observes driver events ("launch", "reap", "end"); nil outside tests.
	trace func(event string, page, records int)
}

// NewScheduler creates a scheduler. Zero Query, Concurrency and ReportInterval
// take their defaults; a nil limiter spaces starts by DefaultStartInterval.
func NewScheduler(source PageSource, config Config, limiter *ratelimit.StartLimiter) (*Scheduler, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: page source is required", ErrInvalidConfig)
	}
	if config.Query == "" {
		config.Query = DefaultQuery
	}
	if config.Concurrency == 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.ReportInterval == 0 {
		config.ReportInterval = DefaultReportInterval
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = ratelimit.NewStartLimiter(ratelimit.DefaultStartInterval)
	}

	return &Scheduler{
		source:  source,
		limiter: limiter,
		config:  config,
		logger:  log.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// SetLogger replaces the scheduler's logger (for testing).
func (s *Scheduler) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// FetchPage fetches page index and reports whether it marked the end of data.
// A payload without Items is logged and yields no records, but does not end
// pagination.
func (s *Scheduler) FetchPage(ctx context.Context, index int) ([]Record, bool, error) {
	skip := index * PageSize

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	page, err := s.source.GetPage(ctx, s.config.Query, skip)
	if err != nil {
		return nil, false, fmt.Errorf("fetch page %d: %w", index, err)
	}

	if !page.HasItems {
		missingItemsTotal.Inc()
		s.logger.Warn().
			Int("page", index).
			Int("skip", skip).
			Bytes("payload", page.Raw).
			Msg("No data. Maybe rate limited, or the query is malformed")
		return nil, false, nil
	}

	if len(page.Items) == 0 {
		return nil, true, nil
	}

	return page.Items, false, nil
}

// Run drives pagination to completion and returns every collected record.
// Records are in completion order, not page order. On the first fetch error
// the run is aborted and nothing is returned. The source's idle connections
// are released on every exit path.
func (s *Scheduler) Run(ctx context.Context) ([]Record, error) {
	defer s.source.CloseIdleConnections()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	state := newRunState(s.config.StopAfter)
	state.lastReport = start

	// Buffered to the concurrency limit: a finished task never blocks,
	// even after Run has returned.
	results := make(chan pageResult, s.config.Concurrency)

	ticker := time.NewTicker(s.config.ReportInterval)
	defer ticker.Stop()

	s.logger.Info().
		Str("query", s.config.Query).
		Int("concurrency", s.config.Concurrency).
		Int("stop_after", s.config.StopAfter).
		Msg("Starting price crawl")

	for {
		s.refill(ctx, state, results)
		if state.done() {
			break
		}

		select {
		case res := <-results:
			if res.err != nil {
				outstandingTasks.Set(0)
				s.logger.Error().
					Err(res.err).
					Int("page", res.page).
					Int("records", len(state.results)).
					Msg("Page fetch failed, aborting crawl")
				return nil, res.err
			}
			state.reap(res)
			s.emit("reap", res.page, len(state.results))
			if res.endOfData {
				s.emit("end", res.page, len(state.results))
			}
			recordsTotal.Add(float64(len(res.records)))
			s.logger.Debug().
				Int("page", res.page).
				Int("records", len(res.records)).
				Bool("end_of_data", res.endOfData).
				Msg("Page fetched")
		case <-ticker.C:
			s.report(state)
		case <-ctx.Done():
			outstandingTasks.Set(0)
			return nil, ctx.Err()
		}
	}

	outstandingTasks.Set(0)
	s.report(state)
	s.logger.Info().
		Int("records", len(state.results)).
		Int("pages", state.nextPage).
		Bool("end_of_data", state.endOfData).
		Dur("duration", time.Since(start)).
		Msg("Crawl complete")

	if state.results == nil {
		return []Record{}, nil
	}
	return state.results, nil
}

// refill launches pages until the pool is full, the data ended, or the
// record threshold is reached.
func (s *Scheduler) refill(ctx context.Context, state *runState, results chan<- pageResult) {
	for state.canLaunch(s.config.Concurrency) {
		page := state.launch()
		s.emit("launch", page, len(state.results))
		pagesLaunchedTotal.Inc()
		s.logger.Debug().Int("page", page).Int("skip", page*PageSize).Msg("Launching page fetch")
		go s.runTask(ctx, page, results)
	}
	outstandingTasks.Set(float64(len(state.outstanding)))
}

func (s *Scheduler) emit(event string, page, records int) {
	if s.trace != nil {
		s.trace(event, page, records)
	}
}

// runTask is one FetchTask.
func (s *Scheduler) runTask(ctx context.Context, page int, results chan<- pageResult) {
	records, endOfData, err := s.FetchPage(ctx, page)
	results <- pageResult{
		page:      page,
		records:   records,
		endOfData: endOfData,
		err:       err,
	}
}

// report logs the current progress.
func (s *Scheduler) report(state *runState) {
	s.logger.Info().
		Int("outstanding", len(state.outstanding)).
		Int("records", len(state.results)).
		Msgf("Running %d concurrent API calls, got %d prices", len(state.outstanding), len(state.results))
	state.lastReport = time.Now()
}
