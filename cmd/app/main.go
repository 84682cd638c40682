package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/reglens/reglens/internal/crawler"
	"github.com/reglens/reglens/internal/db"
	"github.com/reglens/reglens/internal/jobs"
	"github.com/reglens/reglens/internal/observability"
	"github.com/reglens/reglens/internal/techdetect"
	"github.com/reglens/reglens/internal/versions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the application configuration loaded from environment variables
type Config struct {
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
}

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env files - .env.local takes priority for development
	godotenv.Load(".env.local", ".env")

	config := &Config{
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
	}

	setupLogging(config)

	sourceID := os.Getenv("SOURCE_ID")
	if len(os.Args) > 1 {
		sourceID = os.Args[1]
	}
	if sourceID == "" {
		log.Error().Msg("No source to crawl: set SOURCE_ID or pass a source id as the first argument")
		return 2
	}

	// Initialise Sentry for error tracking and performance monitoring
	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1 // 10% sampling in production
				}
				return 1.0 // 100% sampling in development
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			// Ensure Sentry flushes before application exits
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	var obsProviders *observability.Providers

	if config.ObservabilityEnabled {
		var err error
		obsProviders, err = observability.Init(context.Background(), observability.Config{
			Enabled:        true,
			ServiceName:    "reglens",
			Environment:    config.Env,
			OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure:   config.OTLPInsecure,
			MetricsAddress: config.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else if obsProviders != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				metricsSrv := &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           obsProviders.MetricsHandler,
					ReadHeaderTimeout: 5 * time.Second,
				}

				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()

				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	// Connect to PostgreSQL
	pgDB, err := db.InitFromEnv()
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("Failed to connect to PostgreSQL database")
		return 1
	}
	defer pgDB.Close()

	log.Info().Msg("Connected to PostgreSQL database")

	// CMS fingerprinting improves content extraction but is not required
	detector, err := techdetect.New()
	if err != nil {
		log.Warn().Err(err).Msg("Technology detection unavailable, using generic content selectors")
		detector = nil
	}

	robots := crawler.NewRobotsPolicyCache(crawler.DefaultConfig().UserAgent)
	changeStore := versions.NewStore(pgDB.GetDB())

	scheduler := jobs.NewCrawlScheduler(pgDB, pgDB, robots, changeStore, detector).
		WithFetcherFactory(func(cfg *crawler.Config) jobs.FetcherFactory {
			return &jobs.DefaultFetcherFactory{
				Config:    cfg,
				Transport: observability.WrapTransport(nil, obsProviders),
			}
		})

	// Call-time overrides from the environment beat per-source stored config
	overrides := overridesFromEnv()

	// SIGINT/SIGTERM cancel the crawl; in-flight pages finish and the job
	// records whatever it got before the signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("source_id", sourceID).Msg("Starting crawl job")

	result, err := scheduler.Run(ctx, sourceID, overrides)
	if err != nil {
		sentry.CaptureException(err)
		log.Error().Err(err).Str("source_id", sourceID).Msg("Crawl job failed")
		return 1
	}

	log.Info().
		Str("job_id", result.JobID).
		Str("status", string(result.Status)).
		Int("crawled", result.Counters.Crawled).
		Int("new", result.Counters.New).
		Int("failed", result.Counters.Failed).
		Int("skipped", result.Counters.Skipped).
		Bool("browser", result.UsedBrowser).
		Dur("duration", result.Duration).
		Msg("Crawl job finished")

	return 0
}

// overridesFromEnv reads optional crawl overrides for one-off runs.
func overridesFromEnv() *crawler.SourceOverrides {
	o := &crawler.SourceOverrides{}
	set := false

	if v, ok := lookupEnvInt("MAX_PAGES"); ok {
		o.MaxPages = &v
		set = true
	}
	if v, ok := lookupEnvInt("MAX_DEPTH"); ok {
		o.MaxDepth = &v
		set = true
	}
	if v, ok := lookupEnvInt("CONCURRENCY"); ok {
		o.Concurrency = &v
		set = true
	}
	if v, ok := lookupEnvInt("POLITENESS_DELAY_MS"); ok {
		o.PolitenessDelayMS = &v
		set = true
	}

	if !set {
		return nil
	}
	return o
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// lookupEnvInt retrieves an environment variable as an integer. The second
// return is false when the variable is unset or not an integer.
func lookupEnvInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}

	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Msg("Invalid integer in environment variable, ignoring")
		return 0, false
	}

	return result, true
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}

		headers[key] = value
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	// Configure log level
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Use console writer in development
	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		// In production, use a JSON format that works well with hosted log drains
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "reglens").
			Logger()
	}
}
