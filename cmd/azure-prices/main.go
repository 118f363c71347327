// Command azure-prices crawls the Azure Retail Prices API and writes every
// matching price record to a local file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/azure-retail-prices/pkg/cache"
	"github.com/Sternrassler/azure-retail-prices/pkg/client"
	"github.com/Sternrassler/azure-retail-prices/pkg/export"
	"github.com/Sternrassler/azure-retail-prices/pkg/logging"
	"github.com/Sternrassler/azure-retail-prices/pkg/metrics"
	"github.com/Sternrassler/azure-retail-prices/pkg/pagination"
	"github.com/Sternrassler/azure-retail-prices/pkg/ratelimit"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// options are the resolved command-line settings.
type options struct {
	query         string
	stopAfter     int
	concurrency   int
	output        string
	format        string
	baseURL       string
	redisURL      string
	cacheTTL      time.Duration
	startInterval time.Duration
	logLevel      string
	pretty        bool
	metricsAddr   string
}

func main() {
	// .env.local wins over .env; neither overrides the real environment.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// newRootCommand builds the azure-prices command. Flag defaults are read from
// the environment when the command is built.
func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "azure-prices",
		Short: "Download Azure retail prices",
		Long: `Crawl the Azure Retail Prices API for one OData filter and write
every returned price record to a CSV, JSON Lines or Excel file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.query, "query", "q",
		getEnv("AZURE_PRICES_QUERY", pagination.DefaultQuery), "OData $filter expression")
	flags.IntVar(&opts.stopAfter, "stop-after",
		getEnvInt("AZURE_PRICES_STOP_AFTER", 0), "stop launching pages after this many records (0 = all)")
	flags.IntVarP(&opts.concurrency, "concurrency", "c",
		getEnvInt("AZURE_PRICES_CONCURRENCY", pagination.DefaultConcurrency), "maximum page fetches in flight")
	flags.StringVarP(&opts.output, "output", "o",
		getEnv("AZURE_PRICES_OUTPUT", "output/prices.csv"), "output file")
	flags.StringVarP(&opts.format, "format", "f",
		getEnv("AZURE_PRICES_FORMAT", ""), "output format: csv, jsonl or xlsx (default: from file extension)")
	flags.StringVar(&opts.baseURL, "base-url",
		getEnv("AZURE_PRICES_BASE_URL", client.DefaultBaseURL), "Retail Prices endpoint")
	flags.StringVar(&opts.redisURL, "redis-url",
		getEnv("REDIS_URL", ""), "Redis URL for the page cache (empty disables caching)")
	flags.DurationVar(&opts.cacheTTL, "cache-ttl",
		getEnvDuration("CACHE_TTL", cache.DefaultTTL), "page cache lifetime")
	flags.DurationVar(&opts.startInterval, "start-interval",
		getEnvDuration("AZURE_PRICES_START_INTERVAL", ratelimit.DefaultStartInterval), "minimum gap between page fetch starts")
	flags.StringVar(&opts.logLevel, "log-level",
		getEnv("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")
	flags.StringVar(&opts.metricsAddr, "metrics-addr",
		getEnv("METRICS_ADDR", ""), "serve Prometheus metrics on this address (empty disables)")

	_ = flags.MarkHidden("base-url")

	return cmd
}

// run performs one crawl and export.
func run(ctx context.Context, opts *options) error {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{Level: level, Pretty: opts.pretty, Output: os.Stderr})
	logger := logging.NewLogger("cli")

	format := export.FormatFromPath(opts.output)
	if opts.format != "" {
		if format, err = export.ParseFormat(opts.format); err != nil {
			return fail(logger, err, "Invalid output format")
		}
	}

	if opts.metricsAddr != "" {
		server := metrics.NewServer(opts.metricsAddr, logger)
		server.Start()
		defer server.Shutdown()
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = opts.baseURL

	if opts.redisURL != "" {
		redisClient, err := openRedis(ctx, opts.redisURL)
		if err != nil {
			return fail(logger, err, "Failed to connect to Redis")
		}
		defer redisClient.Close()
		cfg.Cache = cache.NewManager(redisClient, opts.cacheTTL)
		logger.Info().Dur("ttl", cfg.Cache.TTL()).Msg("Page cache enabled")
	}

	prices, err := client.New(cfg)
	if err != nil {
		return fail(logger, err, "Failed to create client")
	}
	defer prices.Close()

	scheduler, err := pagination.NewScheduler(prices, pagination.Config{
		Query:       opts.query,
		Concurrency: opts.concurrency,
		StopAfter:   opts.stopAfter,
	}, ratelimit.NewStartLimiter(opts.startInterval))
	if err != nil {
		return fail(logger, err, "Invalid crawl settings")
	}

	start := time.Now()
	records, err := scheduler.Run(ctx)
	if err != nil {
		return fail(logger, err, "Crawl failed")
	}

	if err := export.Write(opts.output, format, records); err != nil {
		return fail(logger, err, "Export failed")
	}

	logger.Info().
		Int("records", len(records)).
		Int("columns", len(export.Columns(records))).
		Str("output", opts.output).
		Str("format", string(format)).
		Dur("duration", time.Since(start)).
		Msg("Prices exported")
	return nil
}

// openRedis connects to redisURL and checks the connection.
func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	redisClient := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return redisClient, nil
}

// fail logs err and returns it so RunE reports failure.
func fail(logger zerolog.Logger, err error, msg string) error {
	logger.Error().Err(err).Msg(msg)
	return err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
