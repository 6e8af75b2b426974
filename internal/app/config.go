package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is loaded from defaults, then the optional YAML file named by
// SEARCH_CONFIG_FILE, then environment variables.
type Config struct {
	HTTPAddr       string        `yaml:"httpAddr"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	LogLevel       string        `yaml:"logLevel"`
	LogFormat      string        `yaml:"logFormat"`
	UserAgent      string        `yaml:"userAgent"`

	MarketplaceBaseURL  string `yaml:"marketplaceBaseUrl"`
	CoverageBaseURL     string `yaml:"coverageBaseUrl"`
	AvailabilityBaseURL string `yaml:"availabilityBaseUrl"`
	CoverageChunkSize   int    `yaml:"coverageChunkSize"`
	CoverageConcurrency int    `yaml:"coverageConcurrency"`

	RedisURL              string        `yaml:"redisUrl"`
	CoverageCacheTTL      time.Duration `yaml:"coverageCacheTtl"`
	CoverageCacheDisabled bool          `yaml:"coverageCacheDisabled"`

	SessionTTL              time.Duration `yaml:"sessionTtl"`
	MaxSessions             int           `yaml:"maxSessions"`
	AvailabilityConcurrency int           `yaml:"availabilityConcurrency"`
	GeoMatchMode            string        `yaml:"geoMatchMode"`

	RateLimitRPS   float64 `yaml:"rateLimitRps"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`

	ClickSinks      []string `yaml:"clickSinks"`
	KafkaBrokers    []string `yaml:"kafkaBrokers"`
	KafkaClickTopic string   `yaml:"kafkaClickTopic"`

	TracingSampleRatio float64 `yaml:"tracingSampleRatio"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:                ":8090",
		RequestTimeout:          10 * time.Second,
		LogLevel:                "info",
		LogFormat:               "text",
		UserAgent:               "tutormarket-search/1.0",
		MarketplaceBaseURL:      "http://localhost:8000",
		CoverageChunkSize:       100,
		CoverageConcurrency:     4,
		CoverageCacheTTL:        15 * time.Minute,
		SessionTTL:              30 * time.Minute,
		MaxSessions:             5000,
		AvailabilityConcurrency: 6,
		GeoMatchMode:            "intersect",
		RateLimitRPS:            20,
		RateLimitBurst:          40,
		ClickSinks:              []string{"http"},
		KafkaClickTopic:         "search-clicks",
		TracingSampleRatio:      1,
	}
}

func LoadConfig() (Config, error) {
	cfg := defaultConfig()
	if path := strings.TrimSpace(os.Getenv("SEARCH_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.RequestTimeout = getEnvDuration("SEARCH_TIMEOUT", cfg.RequestTimeout)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))
	cfg.UserAgent = getEnv("SEARCH_USER_AGENT", cfg.UserAgent)

	cfg.MarketplaceBaseURL = getEnv("MARKETPLACE_API_URL", cfg.MarketplaceBaseURL)
	cfg.CoverageBaseURL = getEnv("COVERAGE_API_URL", cfg.CoverageBaseURL)
	cfg.AvailabilityBaseURL = getEnv("AVAILABILITY_API_URL", cfg.AvailabilityBaseURL)
	cfg.CoverageChunkSize = getEnvInt("COVERAGE_CHUNK_SIZE", cfg.CoverageChunkSize)
	cfg.CoverageConcurrency = getEnvInt("COVERAGE_CONCURRENCY", cfg.CoverageConcurrency)

	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.CoverageCacheTTL = getEnvDuration("COVERAGE_CACHE_TTL", cfg.CoverageCacheTTL)
	cfg.CoverageCacheDisabled = getEnvBool("COVERAGE_CACHE_DISABLED", cfg.CoverageCacheDisabled)

	cfg.SessionTTL = getEnvDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.MaxSessions = getEnvInt("SESSION_MAX_ENTRIES", cfg.MaxSessions)
	cfg.AvailabilityConcurrency = getEnvInt("AVAILABILITY_CONCURRENCY", cfg.AvailabilityConcurrency)
	cfg.GeoMatchMode = strings.ToLower(getEnv("GEO_MATCH_MODE", cfg.GeoMatchMode))

	cfg.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.ClickSinks = getEnvList("CLICK_SINKS", cfg.ClickSinks)
	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaClickTopic = getEnv("KAFKA_CLICK_TOPIC", cfg.KafkaClickTopic)

	cfg.TracingSampleRatio = getEnvFloat("OTEL_TRACES_SAMPLER_RATIO", cfg.TracingSampleRatio)

	if cfg.CoverageBaseURL == "" {
		cfg.CoverageBaseURL = cfg.MarketplaceBaseURL
	}
	if cfg.AvailabilityBaseURL == "" {
		cfg.AvailabilityBaseURL = cfg.MarketplaceBaseURL
	}
	return cfg, nil
}

// HasClickSink reports whether the named telemetry sink is enabled.
func (c Config) HasClickSink(name string) bool {
	for _, sink := range c.ClickSinks {
		if strings.EqualFold(strings.TrimSpace(sink), name) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}
