package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-grid-sampler/internal/hrrr"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize int

	// Grid sampling configuration.
	DownloadDir     string
	RasterBackend   string
	ProductCategory hrrr.Category
	ForecastHour    int
	SampleRadiusKM  float64
	// SampleParams are "PARAM:LEVEL" pairs, e.g. "TMP:2-HTGL".
	SampleParams []string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	batchSize, err := parseInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	forecastHour, err := parseInt("FORECAST_HOUR", 0)
	if err != nil {
		return nil, err
	}
	radius, err := parseFloat("SAMPLE_RADIUS_KM", 40)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:     splitCommaList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: envOrDefault("KAFKA_SOURCE_TOPIC", "transformed-weather-data"),
		KafkaSinkTopic:   envOrDefault("KAFKA_SINK_TOPIC", "storm-grid-features"),
		KafkaGroupID:     envOrDefault("KAFKA_GROUP_ID", "storm-grid-sampler"),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		BatchSize:        batchSize,

		DownloadDir:     envOrDefault("DOWNLOAD_DIR", "data"),
		RasterBackend:   envOrDefault("RASTER_BACKEND", "gdal"),
		ProductCategory: hrrr.Category(envOrDefault("PRODUCT_CATEGORY", "sfc")),
		ForecastHour:    forecastHour,
		SampleRadiusKM:  radius,
		SampleParams:    splitCommaList(envOrDefault("SAMPLE_PARAMS", "TMP:2-HTGL,DPT:2-HTGL,REFC:0-EATM,CAPE:0-SFC")),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("BATCH_SIZE must be positive")
	}
	if !cfg.ProductCategory.Valid() {
		return nil, fmt.Errorf("PRODUCT_CATEGORY %q is not one of prs, nat, sfc, subh", cfg.ProductCategory)
	}
	if cfg.ForecastHour < 0 || cfg.ForecastHour > 48 {
		return nil, errors.New("FORECAST_HOUR must be within 0..48")
	}
	if cfg.SampleRadiusKM <= 0 {
		return nil, errors.New("SAMPLE_RADIUS_KM must be positive")
	}
	if len(cfg.SampleParams) == 0 {
		return nil, errors.New("SAMPLE_PARAMS is required")
	}
	for _, p := range cfg.SampleParams {
		if !strings.Contains(p, ":") {
			return nil, fmt.Errorf("SAMPLE_PARAMS entry %q is not PARAM:LEVEL", p)
		}
	}

	return cfg, nil
}

// envOrDefault returns the environment value for key, or def when unset or
// empty.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCommaList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return v, nil
}
