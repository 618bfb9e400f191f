package pipeline_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-grid-sampler/internal/domain"
	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
	"github.com/couchcryptid/storm-grid-sampler/internal/hrrr"
	"github.com/couchcryptid/storm-grid-sampler/internal/pipeline"
	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

const longlat = "+proj=longlat +datum=WGS84 +no_defs"

var testRunTime = time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC)

// newSamplerProduct builds a 3x3 one-degree grid with its upper-left corner
// at (40N, 100W). Band 1 is a 2 m temperature field whose value encodes the
// pixel address (row*10+col); bands 2-5 carry constant supercell composite
// ingredients chosen so the composite is 1 everywhere.
func newSamplerProduct(t *testing.T) *hrrr.Product {
	t.Helper()

	bands := []struct {
		param, level string
		value        float64
	}{
		{"TMP", "2-HTGL", 0}, // per-pixel values written below
		{"CAPE", "25500-0-SPDL", 1000},
		{"VUCSH", "0-6000-HTGL", 40},
		{"VVCSH", "0-6000-HTGL", 0},
		{"HLCY", "3000-0-HTGL", 100},
	}

	xform := geo.Affine{-100, 1, 0, 40, 0, -1}
	ds, err := raster.NewMemDataset(3, 3, len(bands), xform, longlat)
	require.NoError(t, err)

	for i, b := range bands {
		data := make([]float64, 9)
		for px := range data {
			if i == 0 {
				data[px] = float64((px/3)*10 + px%3)
			} else {
				data[px] = b.value
			}
		}
		require.NoError(t, ds.WriteBand(i+1, data))
		require.NoError(t, ds.SetBandMeta(i+1, raster.BandMeta{
			Metadata: map[string]string{
				"GRIB_ELEMENT":    b.param,
				"GRIB_SHORT_NAME": b.level,
			},
		}))
	}

	p, err := hrrr.NewProduct(hrrr.ProductConfig{
		Loc:      ds.Name(),
		RunTime:  testRunTime,
		Category: hrrr.CategorySurface,
		Dataset:  ds,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return p
}

type stubSource struct {
	product   *hrrr.Product
	err       error
	calls     int
	lastValid time.Time
}

func (s *stubSource) Product(_ context.Context, validTime time.Time) (*hrrr.Product, error) {
	s.calls++
	s.lastValid = validTime
	if s.err != nil {
		return nil, s.err
	}
	return s.product, nil
}

func rawStormReport(t *testing.T, rep domain.StormReport) domain.RawEvent {
	t.Helper()
	payload, err := json.Marshal(rep)
	require.NoError(t, err)
	return domain.RawEvent{Key: []byte(rep.ID), Value: payload}
}

func newTransformer(t *testing.T, src pipeline.ProductSource, params []string) *pipeline.FeatureTransformer {
	t.Helper()
	tfm, err := pipeline.NewFeatureTransformer(src, params,
		100, slog.New(slog.NewTextHandler(io.Discard, nil)), newTestMetrics())
	require.NoError(t, err)
	return tfm
}

func TestParseSampleSpecs(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		specs, err := pipeline.ParseSampleSpecs([]string{"TMP:2-HTGL", "CAPE:0-SFC"})
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, pipeline.SampleSpec{Param: "TMP", Level: "2-HTGL"}, specs[0])
		assert.Equal(t, "CAPE:0-SFC", specs[1].Key())
	})

	t.Run("missing level fails", func(t *testing.T) {
		_, err := pipeline.ParseSampleSpecs([]string{"TMP"})
		assert.Error(t, err)
	})

	t.Run("empty list fails", func(t *testing.T) {
		_, err := pipeline.ParseSampleSpecs(nil)
		assert.Error(t, err)
	})
}

func TestFeatureTransformer_Transform(t *testing.T) {
	src := &stubSource{product: newSamplerProduct(t)}
	tfm := newTransformer(t, src, []string{"TMP:2-HTGL"})

	eventTime := testRunTime.Add(20 * time.Minute)
	raw := rawStormReport(t, domain.StormReport{
		ID:        "hail-1",
		EventType: "hail",
		Geo:       domain.Geo{Lat: 38.5, Lon: -98.5},
		Magnitude: 1.75,
		EventTime: eventTime,
	})

	fv, err := tfm.Transform(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, eventTime, src.lastValid)

	type identity struct {
		ReportID, EventType string
		Geo                 domain.Geo
		RunTime             time.Time
		ForecastHour        int
	}
	want := identity{"hail-1", "hail", domain.Geo{Lat: 38.5, Lon: -98.5}, testRunTime, 0}
	got := identity{fv.ReportID, fv.EventType, fv.Geo, fv.RunTime, fv.ForecastHour}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("feature identity mismatch (-want +got):\n%s", diff)
	}

	require.Contains(t, fv.Point, "TMP:2-HTGL")
	require.NotNil(t, fv.Point["TMP:2-HTGL"])
	assert.InDelta(t, 11, *fv.Point["TMP:2-HTGL"], 1e-9)

	agg := fv.Neighborhood["TMP:2-HTGL"]
	require.NotZero(t, agg.Count)
	require.NotNil(t, agg.Max)
	assert.GreaterOrEqual(t, *agg.Max, 0.0)
	assert.LessOrEqual(t, *agg.Max, 22.0)

	require.NotNil(t, fv.SupercellComposite)
	assert.InDelta(t, 1.0, *fv.SupercellComposite, 1e-9)
	// The fixture lacks the tornado parameter ingredients.
	assert.Nil(t, fv.SignificantTornado)

	assert.False(t, fv.OutOfBounds)
	assert.False(t, fv.ProcessedAt.IsZero())
}

func TestFeatureTransformer_Transform_MissingFieldSkipped(t *testing.T) {
	src := &stubSource{product: newSamplerProduct(t)}
	tfm := newTransformer(t, src, []string{"TMP:2-HTGL", "DPT:2-HTGL"})

	raw := rawStormReport(t, domain.StormReport{
		ID:        "wind-1",
		EventType: "wind",
		Geo:       domain.Geo{Lat: 38.5, Lon: -98.5},
		EventTime: testRunTime,
	})

	fv, err := tfm.Transform(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, fv.Point, "TMP:2-HTGL")
	assert.NotContains(t, fv.Point, "DPT:2-HTGL")
	assert.NotContains(t, fv.Neighborhood, "DPT:2-HTGL")
}

func TestFeatureTransformer_Transform_OffGridReport(t *testing.T) {
	src := &stubSource{product: newSamplerProduct(t)}
	tfm := newTransformer(t, src, []string{"TMP:2-HTGL"})

	raw := rawStormReport(t, domain.StormReport{
		ID:        "tornado-1",
		EventType: "tornado",
		Geo:       domain.Geo{Lat: 10, Lon: -150},
		EventTime: testRunTime,
	})

	fv, err := tfm.Transform(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, fv.OutOfBounds)
	require.Contains(t, fv.Point, "TMP:2-HTGL")
	assert.Nil(t, fv.Point["TMP:2-HTGL"])
	assert.Zero(t, fv.Neighborhood["TMP:2-HTGL"].Count)
	assert.Nil(t, fv.SupercellComposite)
}

func TestFeatureTransformer_Transform_BadPayload(t *testing.T) {
	src := &stubSource{product: newSamplerProduct(t)}
	tfm := newTransformer(t, src, []string{"TMP:2-HTGL"})

	_, err := tfm.Transform(context.Background(), domain.RawEvent{Value: []byte("not json")})
	require.Error(t, err)
	assert.Zero(t, src.calls)
}

func TestFeatureTransformer_Transform_SourceError(t *testing.T) {
	src := &stubSource{err: hrrr.ErrNotFound}
	tfm := newTransformer(t, src, []string{"TMP:2-HTGL"})

	raw := rawStormReport(t, domain.StormReport{
		ID:        "hail-2",
		EventType: "hail",
		Geo:       domain.Geo{Lat: 38.5, Lon: -98.5},
		EventTime: testRunTime,
	})

	_, err := tfm.Transform(context.Background(), raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, hrrr.ErrNotFound)
}

func TestNewFeatureTransformer_Validation(t *testing.T) {
	src := &stubSource{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := pipeline.NewFeatureTransformer(src, []string{"TMP:2-HTGL"}, 0, logger, newTestMetrics())
	assert.Error(t, err)

	_, err = pipeline.NewFeatureTransformer(src, []string{"broken"}, 40, logger, newTestMetrics())
	assert.Error(t, err)
}
