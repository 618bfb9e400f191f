package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/storm-grid-sampler/internal/fetch"
	"github.com/couchcryptid/storm-grid-sampler/internal/hrrr"
	"github.com/couchcryptid/storm-grid-sampler/internal/observability"
	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

// ArchiveSource implements ProductSource against the public HRRR archive.
// It keeps the most recently bound product open and reuses it while
// consecutive reports fall in the same model cycle; storm reports cluster
// in time, so this usually means one download per active hour.
type ArchiveSource struct {
	client       *fetch.Client
	opener       raster.Opener
	category     hrrr.Category
	forecastHour int
	logger       *slog.Logger
	metrics      *observability.Metrics

	mu         sync.Mutex
	current    *hrrr.Product
	currentRun time.Time
}

// ArchiveSourceConfig carries the pieces needed to construct an ArchiveSource.
type ArchiveSourceConfig struct {
	Client       *fetch.Client
	Opener       raster.Opener
	Category     hrrr.Category
	ForecastHour int
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// NewArchiveSource creates an ArchiveSource. The category and forecast hour
// select which archive file covers a valid time.
func NewArchiveSource(cfg ArchiveSourceConfig) *ArchiveSource {
	return &ArchiveSource{
		client:       cfg.Client,
		opener:       cfg.Opener,
		category:     cfg.Category,
		forecastHour: cfg.ForecastHour,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// Product returns the product valid at validTime's hour: the model cycle
// forecastHour hours earlier, at the configured forecast lead. The raster is
// fetched, opened, and inventoried before the product is handed out, so a
// returned product is ready to sample.
func (s *ArchiveSource) Product(ctx context.Context, validTime time.Time) (*hrrr.Product, error) {
	runTime := validTime.UTC().Truncate(time.Hour).Add(-time.Duration(s.forecastHour) * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && runTime.Equal(s.currentRun) {
		return s.current, nil
	}

	start := time.Now()
	product, err := s.bind(ctx, runTime)
	if err != nil {
		s.metrics.ProductBinds.WithLabelValues("error").Inc()
		return nil, err
	}
	s.metrics.ProductBinds.WithLabelValues("success").Inc()
	s.metrics.ProductBindDuration.Observe(time.Since(start).Seconds())

	if s.current != nil {
		if err := s.current.Close(); err != nil {
			s.logger.Warn("close previous product failed", "error", err, "run_time", s.currentRun)
		}
	}
	s.current = product
	s.currentRun = runTime
	s.logger.Info("bound grid product", "product", product.String())
	return product, nil
}

// bind locates, downloads, opens, and inventories one cycle's product.
func (s *ArchiveSource) bind(ctx context.Context, runTime time.Time) (*hrrr.Product, error) {
	product, err := s.client.Product(ctx, runTime, s.forecastHour, s.category, s.opener)
	if err != nil {
		return nil, err
	}
	if _, err := product.Inventory(ctx); err != nil {
		product.Close()
		return nil, err
	}
	return product, nil
}

// Close releases the currently bound product, if any.
func (s *ArchiveSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
