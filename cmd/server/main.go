package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "tutormarket/searchservice/internal/api/http"
	"tutormarket/searchservice/internal/app"
	"tutormarket/searchservice/internal/geo"
	"tutormarket/searchservice/internal/metrics"
	"tutormarket/searchservice/internal/providers/availability"
	"tutormarket/searchservice/internal/providers/coverage"
	"tutormarket/searchservice/internal/providers/instructorsearch"
	"tutormarket/searchservice/internal/search"
	"tutormarket/searchservice/internal/telemetry"
	"tutormarket/searchservice/internal/tracking"
)

const serviceName = "tutor-search"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName, version, cfg.TracingSampleRatio)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.String("marketplaceURL", cfg.MarketplaceBaseURL),
		slog.String("coverageURL", cfg.CoverageBaseURL),
		slog.String("availabilityURL", cfg.AvailabilityBaseURL),
		slog.String("geoMatchMode", cfg.GeoMatchMode),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("coverageCacheTTL", cfg.CoverageCacheTTL),
		slog.Duration("sessionTTL", cfg.SessionTTL),
		slog.Any("clickSinks", cfg.ClickSinks),
	)

	backend := instructorsearch.NewClient(instructorsearch.Config{
		BaseURL:   cfg.MarketplaceBaseURL,
		UserAgent: cfg.UserAgent,
		Client:    newTracedClient(cfg.RequestTimeout),
	})
	coverageClient := coverage.NewClient(coverage.Config{
		BaseURL:     cfg.CoverageBaseURL,
		UserAgent:   cfg.UserAgent,
		ChunkSize:   cfg.CoverageChunkSize,
		Concurrency: cfg.CoverageConcurrency,
		Client:      newTracedClient(cfg.RequestTimeout),
		Logger:      logger,
	})
	availabilityClient := availability.NewClient(availability.Config{
		BaseURL:   cfg.AvailabilityBaseURL,
		UserAgent: cfg.UserAgent,
		Client:    newTracedClient(cfg.RequestTimeout),
	})

	sinks, kafkaSink := buildClickSinks(cfg, logger)
	tracker := tracking.NewTracker(sinks, tracking.WithLogger(logger))

	opts := []search.ServiceOption{
		search.WithLogger(logger),
		search.WithCoverage(coverageClient),
		search.WithAvailability(availabilityClient),
		search.WithTracker(tracker),
		search.WithMatchMode(geo.ParseMatchMode(cfg.GeoMatchMode)),
		search.WithSessionTTL(cfg.SessionTTL),
		search.WithMaxSessions(cfg.MaxSessions),
		search.WithAvailabilityConcurrency(cfg.AvailabilityConcurrency),
	}
	opts = append(opts, buildCoverageCacheOptions(cfg, logger)...)
	searchService := search.NewService(backend, cfg.RequestTimeout, opts...)

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Page fetches may retry and then load coverage, so allow a few upstream timeouts.
		WriteTimeout: 4*cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	searchService.StartBackground(rootCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("tutor search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
	)

	exitCode := 0
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	if err := tracker.Wait(shutdownCtx); err != nil {
		logger.Warn("click events still in flight at shutdown", slog.String("error", err.Error()))
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			logger.Warn("kafka writer close failed", slog.String("error", err.Error()))
		}
	}
	logger.Info("tutor search service stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func newTracedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildCoverageCacheOptions(cfg app.Config, logger *slog.Logger) []search.ServiceOption {
	if cfg.CoverageCacheDisabled {
		return []search.ServiceOption{search.WithCoverageCacheDisabled(true)}
	}

	opts := []search.ServiceOption{search.WithCoverageCacheTTL(cfg.CoverageCacheTTL)}
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return opts
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory coverage cache only", slog.String("error", err.Error()))
		return opts
	}
	cache := search.NewRedisCoverageCache(redis.NewClient(redisOpts))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis not reachable, using in-memory coverage cache only", slog.String("error", err.Error()))
		return opts
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return append(opts, search.WithRedisCoverageCache(cache))
}

// buildClickSinks returns the enabled sinks; the kafka sink is also returned
// on its own so its writer can be closed on shutdown.
func buildClickSinks(cfg app.Config, logger *slog.Logger) ([]tracking.Sink, *tracking.KafkaSink) {
	var sinks []tracking.Sink
	if cfg.HasClickSink("http") {
		sinks = append(sinks, tracking.NewHTTPSink(tracking.HTTPSinkConfig{
			BaseURL:   cfg.MarketplaceBaseURL,
			UserAgent: cfg.UserAgent,
			Client:    newTracedClient(cfg.RequestTimeout),
		}))
	}
	var kafkaSink *tracking.KafkaSink
	if cfg.HasClickSink("kafka") {
		if len(cfg.KafkaBrokers) == 0 {
			logger.Warn("kafka click sink enabled without brokers; skipping")
		} else {
			kafkaSink = tracking.NewKafkaSink(tracking.KafkaSinkConfig{
				Brokers: cfg.KafkaBrokers,
				Topic:   cfg.KafkaClickTopic,
			})
			sinks = append(sinks, kafkaSink)
			logger.Info("kafka click sink enabled",
				slog.Any("brokers", cfg.KafkaBrokers),
				slog.String("topic", cfg.KafkaClickTopic),
			)
		}
	}
	if len(sinks) == 0 {
		logger.Info("click telemetry disabled")
	}
	return sinks, kafkaSink
}
