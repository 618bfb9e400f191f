// Command gridworker consumes storm reports from Kafka, samples the HRRR
// grid archive at each report, and produces feature vectors to the sink
// topic.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/storm-grid-sampler/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/storm-grid-sampler/internal/adapter/kafka"
	"github.com/couchcryptid/storm-grid-sampler/internal/config"
	"github.com/couchcryptid/storm-grid-sampler/internal/fetch"
	"github.com/couchcryptid/storm-grid-sampler/internal/observability"
	"github.com/couchcryptid/storm-grid-sampler/internal/pipeline"
	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

func main() {
	godotenv.Load() //nolint:errcheck // .env is optional

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	opener, err := raster.Backend(cfg.RasterBackend)
	if err != nil {
		logger.Error("raster backend unavailable", "error", err, "backend", cfg.RasterBackend)
		os.Exit(1)
	}

	client, err := fetch.NewClient(fetch.ClientConfig{
		Dir:    cfg.DownloadDir,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create archive client", "error", err)
		os.Exit(1)
	}

	source := pipeline.NewArchiveSource(pipeline.ArchiveSourceConfig{
		Client:       client,
		Opener:       opener,
		Category:     cfg.ProductCategory,
		ForecastHour: cfg.ForecastHour,
		Logger:       logger,
		Metrics:      metrics,
	})

	transformer, err := pipeline.NewFeatureTransformer(source, cfg.SampleParams, cfg.SampleRadiusKM, logger, metrics)
	if err != nil {
		logger.Error("failed to create transformer", "error", err)
		os.Exit(1)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start sampling pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := source.Close(); err != nil {
		logger.Error("product close error", "error", err)
	}

	logger.Info("shutdown complete")
}
