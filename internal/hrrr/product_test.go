package hrrr

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

// newValueGrid builds a w x h single-band geographic grid with 1-degree
// pixels, origin at the northwest corner, where pixel (col, row) holds
// row*10+col.
func newValueGrid(t *testing.T, w, h int, originLon, originLat float64) *raster.MemDataset {
	t.Helper()
	xform := geo.Affine{originLon, 1, 0, originLat, 0, -1}
	ds, err := raster.NewMemDataset(w, h, 1, xform, longlatProjection)
	require.NoError(t, err)
	data := make([]float64, w*h)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			data[r*w+c] = float64(r*10 + c)
		}
	}
	require.NoError(t, ds.WriteBand(1, data))
	require.NoError(t, ds.SetBandMeta(1, raster.BandMeta{
		Description: "2-HTGL",
		Metadata: map[string]string{
			"GRIB_ELEMENT":    "TMP",
			"GRIB_SHORT_NAME": "2-HTGL",
			"GRIB_COMMENT":    "Temperature [C]",
			"GRIB_REF_TIME":   "1619456400 sec UTC",
			"GRIB_VALID_TIME": "1619463600 sec UTC",
		},
	}))
	return ds
}

// countingOpener hands out a fixed dataset and counts how often it is asked.
type countingOpener struct {
	ds    raster.Dataset
	opens int
}

func (o *countingOpener) Open(path string) (raster.Dataset, error) {
	o.opens++
	return o.ds, nil
}

// countingFetcher resolves any location to a fixed local path.
type countingFetcher struct {
	path  string
	calls int
}

func (f *countingFetcher) Fetch(ctx context.Context, loc string) (string, error) {
	f.calls++
	return f.path, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProduct(t *testing.T, ds raster.Dataset) *Product {
	t.Helper()
	p, err := NewProduct(ProductConfig{
		Loc:          "hrrr.t17z.wrfsfcf02.grib2",
		RunTime:      time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC),
		ForecastHour: 2,
		Category:     CategorySurface,
		Dataset:      ds,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return p
}

func writeTempGrib(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("GRIB"), 0o644))
	return path
}

func TestNewProduct(t *testing.T) {
	t.Run("derives the model generation", func(t *testing.T) {
		p := newTestProduct(t, nil)
		assert.Equal(t, 4, p.Version())
		assert.Equal(t, time.Date(2021, time.April, 26, 19, 0, 0, 0, time.UTC), p.ValidTime())
	})

	t.Run("rejects unknown categories", func(t *testing.T) {
		_, err := NewProduct(ProductConfig{
			Loc:      "hrrr.t17z.wrfxxxf02.grib2",
			RunTime:  time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC),
			Category: Category("xxx"),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("rejects pre-operational run times", func(t *testing.T) {
		_, err := NewProduct(ProductConfig{
			RunTime:  time.Date(2012, time.January, 1, 0, 0, 0, 0, time.UTC),
			Category: CategorySurface,
		})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestFromFile(t *testing.T) {
	t.Run("binds run time from metadata and layout from the name", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		path := writeTempGrib(t, "hrrr.t17z.wrfsfcf02.grib2")

		p, err := FromFile(path, &countingOpener{ds: ds}, testLogger())
		require.NoError(t, err)
		defer p.Close()

		assert.Equal(t, time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC), p.RunTime())
		assert.Equal(t, 2, p.ForecastHour())
		assert.Equal(t, CategorySurface, p.Category())
		assert.Equal(t, 4, p.Version())
	})

	t.Run("rejects names outside the convention", func(t *testing.T) {
		path := writeTempGrib(t, "notahrrrfile.grib2")
		_, err := FromFile(path, &countingOpener{}, testLogger())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := FromFile(filepath.Join(t.TempDir(), "hrrr.t17z.wrfsfcf02.grib2"), &countingOpener{}, testLogger())
		assert.Error(t, err)
	})
}

func TestProductLazyBinding(t *testing.T) {
	ctx := context.Background()

	t.Run("local file opens once", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		opener := &countingOpener{ds: ds}

		p, err := NewProduct(ProductConfig{
			Loc:          writeTempGrib(t, "hrrr.t17z.wrfsfcf02.grib2"),
			RunTime:      time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC),
			ForecastHour: 2,
			Category:     CategorySurface,
			Opener:       opener,
			Logger:       testLogger(),
		})
		require.NoError(t, err)

		first, err := p.Dataset(ctx)
		require.NoError(t, err)
		second, err := p.Dataset(ctx)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 1, opener.opens)
	})

	t.Run("remote location fetches once", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		opener := &countingOpener{ds: ds}
		fetcher := &countingFetcher{path: writeTempGrib(t, "hrrr.t17z.wrfsfcf02.grib2")}

		p, err := NewProduct(ProductConfig{
			Loc:          "https://storage.googleapis.com/high-resolution-rapid-refresh/hrrr.20210426/conus/hrrr.t17z.wrfsfcf02.grib2",
			RunTime:      time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC),
			ForecastHour: 2,
			Category:     CategorySurface,
			Fetcher:      fetcher,
			Opener:       opener,
			Logger:       testLogger(),
		})
		require.NoError(t, err)

		_, err = p.Dataset(ctx)
		require.NoError(t, err)
		_, err = p.Dataset(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.calls)
		assert.Equal(t, 1, opener.opens)
	})

	t.Run("remote location without a fetcher fails", func(t *testing.T) {
		p, err := NewProduct(ProductConfig{
			Loc:          "s3://noaa-hrrr-bdp-pds/hrrr.20210426/conus/hrrr.t17z.wrfsfcf02.grib2",
			RunTime:      time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC),
			ForecastHour: 2,
			Category:     CategorySurface,
			Logger:       testLogger(),
		})
		require.NoError(t, err)
		_, err = p.Dataset(ctx)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("inventory is built once and shared", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		p := newTestProduct(t, ds)

		first, err := p.Inventory(ctx)
		require.NoError(t, err)
		second, err := p.Inventory(ctx)
		require.NoError(t, err)
		assert.Same(t, first, second)

		recs, err := first.ByParam([]string{"TMP"}, []string{"2-HTGL"})
		require.NoError(t, err)
		assert.Equal(t, 1, recs[0].Index)
	})
}

func TestSubset(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid projection fails before any raster work", func(t *testing.T) {
		opener := &countingOpener{}
		p, err := NewProduct(ProductConfig{
			Loc:          "/nonexistent/hrrr.t17z.wrfsfcf02.grib2",
			RunTime:      time.Date(2021, time.April, 26, 17, 0, 0, 0, time.UTC),
			ForecastHour: 2,
			Category:     CategorySurface,
			Opener:       opener,
			Logger:       testLogger(),
		})
		require.NoError(t, err)

		_, err = p.Subset(ctx, []int{1}, Projection("mercator"), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Zero(t, opener.opens)
	})

	t.Run("empty bounds fail", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		p := newTestProduct(t, ds)

		_, err := p.Subset(ctx, []int{1}, ProjectionWorld, &geo.Bounds{
			MinLon: -97, MinLat: 38, MaxLon: -98, MaxLat: 39,
		})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("geographic crop keeps the requested extent", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		p := newTestProduct(t, ds)

		sub, err := p.Subset(ctx, []int{1}, ProjectionWorld, &geo.Bounds{
			MinLon: -98.6, MinLat: 38.4, MaxLon: -98.4, MaxLat: 38.6,
		})
		require.NoError(t, err)
		defer sub.Close()

		w, h := sub.Size()
		assert.Equal(t, 1, w)
		assert.Equal(t, 1, h)
		assert.InDelta(t, 11.0, sub.Pixel(1, 0, 0), 1e-12)

		meta, err := sub.BandMeta(1)
		require.NoError(t, err)
		assert.Equal(t, "TMP", meta.Metadata["GRIB_ELEMENT"], "band metadata travels through the warp")
	})

	t.Run("map projection converts bounds to meters", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		p := newTestProduct(t, ds)

		sub, err := p.Subset(ctx, []int{1}, ProjectionMap, nil)
		require.NoError(t, err)
		defer sub.Close()

		assert.True(t, strings.Contains(sub.Projection(), "+proj=merc"))
		xform := sub.GeoTransform()
		assert.Greater(t, xform[1], 1000.0, "mercator pixels are meters wide")
	})
}

func TestQueryPoints(t *testing.T) {
	ctx := context.Background()

	newProduct := func(t *testing.T) *Product {
		ds := newValueGrid(t, 3, 3, -100, 40)
		t.Cleanup(func() { ds.Close() })
		return newTestProduct(t, ds)
	}

	t.Run("samples the stored pixel value", func(t *testing.T) {
		p := newProduct(t)
		s, err := p.QueryPoints(ctx, []int{1}, []Point{{Lat: 38.5, Lon: -98.5}})
		require.NoError(t, err)
		require.Len(t, s.Values, 1)
		assert.InDelta(t, 11.0, s.Values[0][0], 1e-12)
		assert.Zero(t, s.OutOfBounds)
	})

	t.Run("row order matches input order with mixed coverage", func(t *testing.T) {
		p := newProduct(t)
		s, err := p.QueryPoints(ctx, []int{1}, []Point{
			{Lat: 38.5, Lon: -98.5},
			{Lat: 38.5, Lon: -90.0},
		})
		require.NoError(t, err)
		require.Len(t, s.Values, 2)
		assert.InDelta(t, 11.0, s.Values[0][0], 1e-12)
		assert.True(t, math.IsNaN(s.Values[1][0]))
		assert.Equal(t, 1, s.OutOfBounds)
	})

	t.Run("a point far off the grid yields no data without failing", func(t *testing.T) {
		p := newProduct(t)
		s, err := p.QueryPoints(ctx, []int{1}, []Point{{Lat: 38.5, Lon: -90.0}})
		require.NoError(t, err)
		require.Len(t, s.Values, 1)
		assert.True(t, math.IsNaN(s.Values[0][0]))
		assert.Equal(t, 1, s.OutOfBounds)
	})

	t.Run("one pixel past the grid edge is out of bounds", func(t *testing.T) {
		p := newProduct(t)
		s, err := p.QueryPoints(ctx, []int{1}, []Point{{Lat: 38.5, Lon: -96.5}})
		require.NoError(t, err)
		assert.Equal(t, 1, s.OutOfBounds)
		assert.True(t, math.IsNaN(s.Values[0][0]))
	})

	t.Run("no points fails", func(t *testing.T) {
		p := newProduct(t)
		_, err := p.QueryPoints(ctx, []int{1}, nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestQueryRadius(t *testing.T) {
	ctx := context.Background()

	t.Run("samples every cell inside the circle", func(t *testing.T) {
		ds := newValueGrid(t, 9, 9, -101.5, 34.5)
		defer ds.Close()
		p := newTestProduct(t, ds)

		s, err := p.QueryRadius(ctx, []int{1}, 30.0, -97.0, 200.0)
		require.NoError(t, err)

		// A 200 km circle at this latitude spans a 4x4 resampled window;
		// the lattice ellipse has 13 candidates of which 2 fall past the
		// window edge.
		assert.Equal(t, 2, s.OutOfBounds)
		require.Len(t, s.Values, 11)
		for _, row := range s.Values {
			require.Len(t, row, 1)
			assert.False(t, math.IsNaN(row[0]))
		}
		assert.Contains(t, s.Values, []float64{45}, "the center cell samples the source pixel under it")
	})

	t.Run("rejects non-positive radius", func(t *testing.T) {
		ds := newValueGrid(t, 3, 3, -100, 40)
		defer ds.Close()
		p := newTestProduct(t, ds)
		_, err := p.QueryRadius(ctx, []int{1}, 38.5, -98.5, 0)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestReadArray(t *testing.T) {
	ds := newValueGrid(t, 3, 3, -100, 40)
	defer ds.Close()
	p := newTestProduct(t, ds)

	ar, err := p.ReadArray(context.Background(), []int{1}, ProjectionWorld, nil)
	require.NoError(t, err)

	require.Equal(t, []int{3, 3, 1}, ar.Shape)
	assert.InDelta(t, 0.0, ar.Get(0, 0, 0), 1e-12)
	assert.InDelta(t, 21.0, ar.Get(2, 1, 0), 1e-12)
	assert.InDelta(t, 12.0, ar.Get(1, 2, 0), 1e-12)
}
