package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ctessum/sparse"

	"github.com/couchcryptid/storm-grid-sampler/internal/domain"
	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
	"github.com/couchcryptid/storm-grid-sampler/internal/hrrr"
	"github.com/couchcryptid/storm-grid-sampler/internal/observability"
)

// ProductSource supplies the grid product covering a given valid time.
// Implementations decide archive layout and caching.
type ProductSource interface {
	Product(ctx context.Context, validTime time.Time) (*hrrr.Product, error)
}

// SampleSpec names one grid field to sample: a GRIB parameter code at a
// level code, e.g. TMP at 2-HTGL.
type SampleSpec struct {
	Param string
	Level string
}

// Key is the spec's identity in the feature vector maps.
func (s SampleSpec) Key() string { return s.Param + ":" + s.Level }

// ParseSampleSpecs parses "PARAM:LEVEL" strings as they appear in
// configuration.
func ParseSampleSpecs(params []string) ([]SampleSpec, error) {
	if len(params) == 0 {
		return nil, errors.New("no sample parameters given")
	}
	specs := make([]SampleSpec, 0, len(params))
	for _, p := range params {
		param, level, ok := strings.Cut(p, ":")
		if !ok || param == "" || level == "" {
			return nil, fmt.Errorf("sample parameter %q is not PARAM:LEVEL", p)
		}
		specs = append(specs, SampleSpec{Param: param, Level: level})
	}
	return specs, nil
}

// FeatureTransformer implements Transformer: it parses a storm report,
// binds the grid product covering the report time, and samples the
// configured fields at and around the report location.
type FeatureTransformer struct {
	source   ProductSource
	specs    []SampleSpec
	radiusKM float64
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewFeatureTransformer creates a FeatureTransformer sampling the given
// "PARAM:LEVEL" fields within radiusKM of each report.
func NewFeatureTransformer(source ProductSource, params []string, radiusKM float64, logger *slog.Logger, metrics *observability.Metrics) (*FeatureTransformer, error) {
	specs, err := ParseSampleSpecs(params)
	if err != nil {
		return nil, err
	}
	if radiusKM <= 0 {
		return nil, fmt.Errorf("sample radius must be positive, got %g", radiusKM)
	}
	return &FeatureTransformer{
		source:   source,
		specs:    specs,
		radiusKM: radiusKM,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Transform produces the feature vector for one raw report message. A
// report the grid cannot answer for (bad payload, no product in the
// archive) fails; a report the grid answers partially (missing fields,
// location off the grid edge) succeeds with nil entries and the
// out-of-bounds flag.
func (t *FeatureTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.FeatureVector, error) {
	rep, err := domain.ParseStormReport(raw)
	if err != nil {
		return domain.FeatureVector{}, err
	}

	product, err := t.source.Product(ctx, rep.EventTime)
	if err != nil {
		return domain.FeatureVector{}, fmt.Errorf("bind product for %s: %w", rep.EventTime.Format(time.RFC3339), err)
	}

	start := time.Now()
	fv := domain.FeatureVector{
		ReportID:     rep.ID,
		EventType:    rep.EventType,
		Geo:          rep.Geo,
		Magnitude:    rep.Magnitude,
		EventTime:    rep.EventTime,
		RunTime:      product.RunTime(),
		ForecastHour: product.ForecastHour(),
		Point:        make(map[string]*float64, len(t.specs)),
		Neighborhood: make(map[string]domain.Aggregate, len(t.specs)),
	}

	keys, bands, err := t.resolveBands(ctx, product)
	if err != nil {
		return domain.FeatureVector{}, err
	}

	if len(bands) > 0 {
		if err := t.sampleFields(ctx, product, rep, keys, bands, &fv); err != nil {
			return domain.FeatureVector{}, err
		}
	}

	t.sampleComposites(ctx, product, rep, &fv)

	t.metrics.SampleDuration.Observe(time.Since(start).Seconds())
	if fv.OutOfBounds {
		t.metrics.OutOfBoundsReports.Inc()
	}
	fv.Finalize()
	return fv, nil
}

// resolveBands maps the configured specs to band indices in this product.
// A spec the product does not carry is skipped with a warning; its feature
// map entries stay nil.
func (t *FeatureTransformer) resolveBands(ctx context.Context, product *hrrr.Product) ([]string, []int, error) {
	inv, err := product.Inventory(ctx)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(t.specs))
	bands := make([]int, 0, len(t.specs))
	for _, spec := range t.specs {
		recs, err := inv.ByParam([]string{spec.Param}, []string{spec.Level})
		if err != nil {
			if errors.Is(err, hrrr.ErrNotFound) {
				t.logger.Warn("sample field not in product, skipping",
					"param", spec.Param, "level", spec.Level, "product", product.String())
				continue
			}
			return nil, nil, err
		}
		keys = append(keys, spec.Key())
		bands = append(bands, recs[0].Index)
	}
	return keys, bands, nil
}

// sampleFields fills the point samples and neighborhood aggregates for the
// resolved bands.
func (t *FeatureTransformer) sampleFields(ctx context.Context, product *hrrr.Product, rep domain.StormReport, keys []string, bands []int, fv *domain.FeatureVector) error {
	pt, err := product.QueryPoints(ctx, bands, []hrrr.Point{{Lat: rep.Geo.Lat, Lon: rep.Geo.Lon}})
	if err != nil {
		return fmt.Errorf("point sample: %w", err)
	}
	if pt.OutOfBounds > 0 {
		fv.OutOfBounds = true
	}
	for i, key := range keys {
		if v := pt.Values[0][i]; !math.IsNaN(v) {
			val := v
			fv.Point[key] = &val
		} else {
			fv.Point[key] = nil
		}
	}

	nb, err := product.QueryRadius(ctx, bands, rep.Geo.Lat, rep.Geo.Lon, t.radiusKM)
	if err != nil {
		return fmt.Errorf("radius sample: %w", err)
	}
	for i, key := range keys {
		column := make([]float64, len(nb.Values))
		for r, row := range nb.Values {
			column[r] = row[i]
		}
		fv.Neighborhood[key] = domain.Summarize(column)
	}
	return nil
}

// sampleComposites fills the neighborhood maxima of the derived
// mesoanalysis fields. Products lacking the ingredients (most categories
// other than sfc) leave the fields nil.
func (t *FeatureTransformer) sampleComposites(ctx context.Context, product *hrrr.Product, rep domain.StormReport, fv *domain.FeatureVector) {
	bounds := geo.RadiusBounds(rep.Geo.Lat, rep.Geo.Lon, t.radiusKM)

	scp, err := hrrr.SupercellComposite(ctx, product, &bounds)
	if err != nil {
		if !errors.Is(err, hrrr.ErrNotFound) {
			t.logger.Warn("supercell composite failed", "error", err, "report", rep.ID)
		}
	} else {
		fv.SupercellComposite = gridMax(scp)
	}

	stp, err := hrrr.SignificantTornado(ctx, product, &bounds)
	if err != nil {
		if !errors.Is(err, hrrr.ErrNotFound) {
			t.logger.Warn("significant tornado parameter failed", "error", err, "report", rep.ID)
		}
	} else {
		fv.SignificantTornado = gridMax(stp)
	}
}

// gridMax returns the maximum finite value in a 2D array, or nil when every
// cell is no-data.
func gridMax(ar *sparse.DenseArray) *float64 {
	var (
		best  float64
		found bool
	)
	for r := 0; r < ar.Shape[0]; r++ {
		for c := 0; c < ar.Shape[1]; c++ {
			v := ar.Get(r, c)
			if math.IsNaN(v) {
				continue
			}
			if !found || v > best {
				best, found = v, true
			}
		}
	}
	if !found {
		return nil
	}
	return &best
}
